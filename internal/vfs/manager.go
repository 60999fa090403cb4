package vfs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL  = 0 // never detach idle file systems
	defaultCacheSize = 0 // unbounded

	minJanitorInterval = 10 * time.Millisecond
	maxJanitorInterval = time.Minute
)

var errMissingArgument = errors.New("missing argument")

// Provider mounts file systems addressed directly ("file:", "https:").
type Provider interface {
	Open(ctx context.Context, u *URI) (FileSystem, error)
}

// LayeredProvider mounts file systems stored inside a file ("zip:", "jar:").
// The source is a local path holding the content of the containing file.
type LayeredProvider interface {
	OpenLayered(ctx context.Context, u *URI, source string) (FileSystem, error)
}

// ManagerOptions contains all settings for the operation of the [Manager].
type ManagerOptions struct {
	// CacheTTL is the idle time after which a mounted file system is
	// detached (and closed). Zero keeps file systems mounted until
	// they are detached or the manager is closed.
	CacheTTL time.Duration

	// CacheSize limits the number of mounted file systems, the least
	// recently used one is detached to make room. Zero is unlimited.
	CacheSize uint64

	// TempDir receives the local copies of containers which are not
	// local files themselves. Empty uses the default temporary directory.
	TempDir string
}

// DefaultManagerOptions returns a pointer to [ManagerOptions] with the default values.
func DefaultManagerOptions() *ManagerOptions {
	return &ManagerOptions{
		CacheTTL:  defaultCacheTTL,
		CacheSize: defaultCacheSize,
	}
}

// MountInfo describes a mounted file system.
type MountInfo struct {
	Key          string
	Capabilities Capabilities
	ExpiresAt    time.Time
}

type mount struct {
	fsys    FileSystem
	cleanup func() error

	once sync.Once
	err  error
}

func (m *mount) close() error {
	m.once.Do(func() {
		m.err = m.fsys.Close()
		if m.cleanup != nil {
			m.err = errors.Join(m.err, m.cleanup())
		}
	})

	return m.err
}

// Manager resolves URIs to files by mounting the file systems of the
// registered providers on demand. Mounted file systems are cached by
// their container key, so every container is opened and indexed once.
// It is safe for concurrent use. You must call Close once all work is done.
type Manager struct {
	rbuf       *logging.RingBuffer
	replicator Replicator

	mu        sync.RWMutex
	providers map[string]Provider
	layered   map[string]LayeredProvider

	mounts      *ttlcache.Cache[string, *mount]
	group       singleflight.Group
	unsubscribe func()
	done        chan struct{}
	wg          sync.WaitGroup
	closed      atomic.Bool
}

// NewManager returns a pointer to a new [Manager].
func NewManager(opts *ManagerOptions, rbuf *logging.RingBuffer) (*Manager, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: need options", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}

	cacheOpts := []ttlcache.Option[string, *mount]{
		ttlcache.WithTTL[string, *mount](opts.CacheTTL),
	}
	if opts.CacheSize > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, *mount](opts.CacheSize))
	}

	m := &Manager{
		rbuf:       rbuf,
		replicator: &TempReplicator{Dir: opts.TempDir},
		providers:  make(map[string]Provider),
		layered:    make(map[string]LayeredProvider),
		mounts:     ttlcache.New(cacheOpts...),
		done:       make(chan struct{}),
	}
	m.unsubscribe = m.mounts.OnEviction(m.onEviction)

	if opts.CacheTTL > 0 {
		interval := min(max(opts.CacheTTL/2, minJanitorInterval), maxJanitorInterval) //nolint:mnd
		m.wg.Go(func() { m.janitor(interval) })
	}

	return m, nil
}

// janitor detaches idle file systems until the manager is closed.
func (m *Manager) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mounts.DeleteExpired()
		}
	}
}

// Register registers the provider of a hierarchical scheme.
func (m *Manager) Register(scheme string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[strings.ToLower(scheme)] = p
}

// RegisterLayered registers the provider of a layered scheme.
func (m *Manager) RegisterLayered(scheme string, p LayeredProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.layered[strings.ToLower(scheme)] = p
}

// SetReplicator replaces the [Replicator] for containers that are not local files.
func (m *Manager) SetReplicator(r Replicator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replicator = r
}

// Resolve parses a URI and returns the file it addresses.
func (m *Manager) Resolve(ctx context.Context, raw string) (File, error) {
	u, err := ParseURI(raw)
	if err != nil {
		return nil, err
	}

	return m.ResolveURI(ctx, u)
}

// ResolveURI returns the file a URI addresses, mounting its file
// system (and those of any containing files) as needed.
func (m *Manager) ResolveURI(ctx context.Context, u *URI) (File, error) {
	fsys, err := m.FileSystem(ctx, u)
	if err != nil {
		return nil, err
	}

	return fsys.Resolve(u.Path) //nolint:wrapcheck
}

// FileSystem returns the mounted file system a URI addresses.
// Concurrent callers for the same container share a single mount.
func (m *Manager) FileSystem(ctx context.Context, u *URI) (FileSystem, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	key := u.ContainerKey()
	if item := m.mounts.Get(key); item != nil {
		return item.Value().fsys, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if item := m.mounts.Get(key); item != nil {
			return item.Value(), nil
		}
		m.mounts.DeleteExpired() // an expired mount must be closed before it is replaced

		mnt, err := m.mount(ctx, u)
		if err != nil {
			return nil, err
		}
		m.mounts.Set(key, mnt, ttlcache.DefaultTTL)

		if m.closed.Load() {
			m.mounts.Delete(key)

			return nil, errors.Join(ErrClosed, mnt.close())
		}
		m.rbuf.Printf("Mounted %q.\n", key)

		return mnt, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return v.(*mount).fsys, nil //nolint:forcetypeassert
}

func (m *Manager) mount(ctx context.Context, u *URI) (*mount, error) {
	m.mu.RLock()
	p := m.providers[u.Scheme]
	lp := m.layered[u.Scheme]
	replicator := m.replicator
	m.mu.RUnlock()

	if !u.Layered() {
		if p == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
		}

		fsys, err := p.Open(ctx, u)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		return &mount{fsys: fsys}, nil
	}

	if lp == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}

	ou, err := u.OuterURI()
	if err != nil {
		return nil, err
	}

	outer, err := m.ResolveURI(ctx, ou)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve container: %w", err)
	}

	source, cleanup, err := replicator.Replicate(ctx, outer)
	if err != nil {
		return nil, fmt.Errorf("failed to replicate container: %w", err)
	}

	fsys, err := lp.OpenLayered(ctx, u, source)
	if err != nil {
		if cerr := cleanup(); cerr != nil {
			m.rbuf.Printf("Error: failed to clean up %q: %v\n", source, cerr)
		}

		return nil, err //nolint:wrapcheck
	}

	return &mount{fsys: fsys, cleanup: cleanup}, nil
}

// Detach closes and forgets the file system of a container key
// (as returned by [URI.ContainerKey]). Files resolved from it fail
// on further content access, resolving the key again mounts anew.
func (m *Manager) Detach(key string) error {
	item := m.mounts.Get(key, ttlcache.WithDisableTouchOnHit[string, *mount]())
	if item == nil {
		return &PathError{Op: "detach", URI: key, Err: ErrNotExist}
	}
	m.mounts.Delete(key)

	if err := item.Value().close(); err != nil {
		return fmt.Errorf("failed to detach %q: %w", key, err)
	}
	m.rbuf.Printf("Detached %q.\n", key)

	return nil
}

// Pin keeps the file system of a container key mounted regardless of
// its idle time, until it is detached or the manager is closed.
func (m *Manager) Pin(key string) error {
	item := m.mounts.Get(key, ttlcache.WithDisableTouchOnHit[string, *mount]())
	if item == nil {
		return &PathError{Op: "pin", URI: key, Err: ErrNotExist}
	}
	m.mounts.Set(key, item.Value(), ttlcache.NoTTL)

	return nil
}

// Mounts returns the currently mounted file systems, sorted by key.
func (m *Manager) Mounts() []MountInfo {
	items := m.mounts.Items()

	infos := make([]MountInfo, 0, len(items))
	for key, item := range items {
		infos = append(infos, MountInfo{
			Key:          key,
			Capabilities: item.Value().fsys.Capabilities(),
			ExpiresAt:    item.ExpiresAt(),
		})
	}
	slices.SortFunc(infos, func(a, b MountInfo) int {
		return strings.Compare(a.Key, b.Key)
	})

	return infos
}

// Close detaches all file systems and stops the manager.
// It is safe to call more than once.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	items := m.mounts.Items()
	m.mounts.DeleteAll()

	var errs []error
	for key, item := range items {
		if err := item.Value().close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to detach %q: %w", key, err))
		}
	}

	close(m.done)
	m.wg.Wait()
	m.unsubscribe()

	return errors.Join(errs...)
}

func (m *Manager) onEviction(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *mount]) {
	if reason == ttlcache.EvictionReasonDeleted {
		return // closed by Detach or Close
	}

	if err := item.Value().close(); err != nil {
		m.rbuf.Printf("Error: failed to detach %q: %v\n", item.Key(), err)

		return
	}
	m.rbuf.Printf("Detached %q (%s).\n", item.Key(), evictionReason(reason))
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "idle"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	default:
		return "evicted"
	}
}
