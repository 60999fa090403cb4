// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/desertwitch/zipvfs/assets"
	"github.com/desertwitch/zipvfs/internal/filesystem"
	"github.com/desertwitch/zipvfs/internal/logging"
	"github.com/desertwitch/zipvfs/internal/vfs"
	"github.com/desertwitch/zipvfs/internal/zipfs"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// Dashboard is the implementation of the diagnostics dashboard.
type Dashboard struct {
	version string
	started time.Time

	fsys *filesystem.FS
	zips *zipfs.Provider
	mgr  *vfs.Manager
	rbuf *logging.RingBuffer
}

// NewDashboard returns a pointer to a new [Dashboard].
func NewDashboard(fsys *filesystem.FS, zips *zipfs.Provider, mgr *vfs.Manager, rbuf *logging.RingBuffer, version string) (*Dashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if zips == nil {
		return nil, fmt.Errorf("%w: need archive provider", errInvalidArgument)
	}
	if mgr == nil {
		return nil, fmt.Errorf("%w: need manager", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	return &Dashboard{
		version: version,
		started: time.Now(),
		fsys:    fsys,
		zips:    zips,
		mgr:     mgr,
		rbuf:    rbuf,
	}, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *Dashboard) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.dashboardMux(),
		ErrorLog:          log.New(d.rbuf, "HTTP: ", 0),
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd
	}

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("Serving dashboard on %s.\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

func (d *Dashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)

	mux.HandleFunc("/set/must-crc32/{value}",
		d.booleanHandler("Forced integrity checking", &d.zips.Options.MustCRC32))
	mux.HandleFunc("/set/stream-threshold/{value}", d.thresholdHandler)

	mux.HandleFunc("/zipvfs.svg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write(assets.Logo)
	})

	return mux
}

type mountData struct {
	Key          string `json:"key"`
	Capabilities string `json:"capabilities"`
	Expires      string `json:"expires"`
}

type dashboardData struct {
	AllocBytes            string      `json:"allocBytes"`
	AvgExtractSpeed       string      `json:"avgExtractSpeed"`
	AvgExtractTime        string      `json:"avgExtractTime"`
	AvgIndexTime          string      `json:"avgIndexTime"`
	Charset               string      `json:"charset"`
	ImaginaryHitRatio     string      `json:"imaginaryHitRatio"`
	Logs                  []string    `json:"logs"`
	Mounts                []mountData `json:"mounts"`
	MustCRC32             string      `json:"mustCrc32"`
	NumGC                 uint32      `json:"numGc"`
	OpenContainers        int64       `json:"openContainers"`
	RingBufferSize        int         `json:"ringBufferSize"`
	StreamingThreshold    string      `json:"streamingThreshold"`
	StrictCache           string      `json:"strictCache"`
	SysBytes              string      `json:"sysBytes"`
	TotalAlloc            string      `json:"totalAlloc"`
	TotalClosedContainers int64       `json:"totalClosedContainers"`
	TotalErrors           int64       `json:"totalErrors"`
	TotalExtractBytes     string      `json:"totalExtractBytes"`
	TotalExtracts         int64       `json:"totalExtracts"`
	TotalInMemoryReads    int64       `json:"totalInMemoryReads"`
	TotalIndexedEntries   int64       `json:"totalIndexedEntries"`
	TotalLookups          int64       `json:"totalLookups"`
	TotalOpenedContainers int64       `json:"totalOpenedContainers"`
	TotalReadBytes        string      `json:"totalReadBytes"`
	TotalReadDirs         int64       `json:"totalReadDirs"`
	TotalStreamReads      int64       `json:"totalStreamReads"`
	TotalStreamRewinds    int64       `json:"totalStreamRewinds"`
	Uptime                string      `json:"uptime"`
	Version               string      `json:"version"`
}

func (d *Dashboard) collectMetrics() dashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	zm := d.zips.Metrics
	fm := d.fsys.Metrics

	return dashboardData{
		AllocBytes:            humanize.IBytes(m.Alloc),
		AvgExtractSpeed:       d.avgExtractSpeed(),
		AvgExtractTime:        d.avgExtractTime(),
		AvgIndexTime:          d.avgIndexTime(),
		Charset:               charsetName(d.zips.Options.Charset),
		ImaginaryHitRatio:     d.imaginaryHitRatio(),
		Logs:                  lines,
		Mounts:                d.mounts(),
		MustCRC32:             enabledOrDisabled(d.zips.Options.MustCRC32.Load()),
		NumGC:                 m.NumGC,
		OpenContainers:        zm.OpenContainers.Load(),
		RingBufferSize:        d.rbuf.Size(),
		StreamingThreshold:    humanize.Bytes(d.fsys.Options.StreamingThreshold.Load()),
		StrictCache:           enabledOrDisabled(d.fsys.Options.StrictCache),
		SysBytes:              humanize.IBytes(m.Sys),
		TotalAlloc:            humanize.IBytes(m.TotalAlloc),
		TotalClosedContainers: zm.TotalClosedContainers.Load(),
		TotalErrors:           zm.Errors.Load() + fm.Errors.Load(),
		TotalExtractBytes:     nonNegativeBytes(zm.TotalExtractBytes.Load()),
		TotalExtracts:         zm.TotalExtractCount.Load(),
		TotalInMemoryReads:    fm.TotalInMemoryReads.Load(),
		TotalIndexedEntries:   zm.TotalIndexedEntries.Load(),
		TotalLookups:          fm.TotalLookups.Load(),
		TotalOpenedContainers: zm.TotalOpenedContainers.Load(),
		TotalReadBytes:        nonNegativeBytes(fm.TotalReadBytes.Load()),
		TotalReadDirs:         fm.TotalReadDirs.Load(),
		TotalStreamReads:      fm.TotalStreamReads.Load(),
		TotalStreamRewinds:    zm.TotalStreamRewinds.Load(),
		Uptime:                humanize.Time(d.started),
		Version:               d.version,
	}
}

func (d *Dashboard) mounts() []mountData {
	infos := d.mgr.Mounts()

	out := make([]mountData, 0, len(infos))
	for _, mi := range infos {
		caps := make([]string, 0, len(mi.Capabilities))
		for _, c := range mi.Capabilities.List() {
			caps = append(caps, string(c))
		}

		expires := "Never"
		if !mi.ExpiresAt.IsZero() {
			expires = humanize.Time(mi.ExpiresAt)
		}

		out = append(out, mountData{
			Key:          mi.Key,
			Capabilities: strings.Join(caps, ", "),
			Expires:      expires,
		})
	}

	return out
}

func (d *Dashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *Dashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *Dashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

// resetMetricsHandler resets all counters, gauges such as the
// amount of open containers reflect the current state and stay.
func (d *Dashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	zm := d.zips.Metrics
	zm.TotalOpenedContainers.Store(0)
	zm.TotalClosedContainers.Store(0)
	zm.TotalIndexTime.Store(0)
	zm.TotalIndexedEntries.Store(0)
	zm.TotalExtractTime.Store(0)
	zm.TotalExtractCount.Store(0)
	zm.TotalExtractBytes.Store(0)
	zm.TotalStreamRewinds.Store(0)
	zm.TotalImaginaryHits.Store(0)
	zm.TotalImaginaryMisses.Store(0)
	zm.Errors.Store(0)

	fm := d.fsys.Metrics
	fm.TotalLookups.Store(0)
	fm.TotalReadDirs.Store(0)
	fm.TotalInMemoryReads.Store(0)
	fm.TotalStreamReads.Store(0)
	fm.TotalReadBytes.Store(0)
	fm.Errors.Store(0)

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *Dashboard) thresholdHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	val, err := humanize.ParseBytes(vars["value"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid string value: %v", err), http.StatusBadRequest)

		return
	}
	d.fsys.Options.StreamingThreshold.Store(val)

	d.rbuf.Printf("Streaming threshold set via API: %s.\n", humanize.Bytes(val))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Streaming threshold set: %s.\n", humanize.Bytes(val))
}

func (d *Dashboard) booleanHandler(desc string, target *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		target.Store(val)

		d.rbuf.Printf("%s set via API: %t.\n", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}
