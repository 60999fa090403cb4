// Package logging implements the handling of logs.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05"

// RingBuffer keeps the most recent log lines in memory,
// while also writing every line through to an output stream.
type RingBuffer struct {
	mu    sync.Mutex
	out   io.Writer
	buf   []string
	index int
	full  bool
	size  int
}

var _ io.Writer = (*RingBuffer)(nil)

// NewRingBuffer returns a pointer to a new [RingBuffer].
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	size = max(size, 1)

	return &RingBuffer{
		out:  out,
		buf:  make([]string, size),
		size: size,
	}
}

// Size returns the capacity of the ring-buffer in lines.
func (b *RingBuffer) Size() int {
	return b.size
}

// Lines returns a copy of the ring-buffer contents, oldest first.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.index)
		copy(out, b.buf[:b.index])

		return out
	}
	out := make([]string, b.size)
	copy(out, b.buf[b.index:])
	copy(out[b.size-b.index:], b.buf[:b.index])

	return out
}

// Printf adds a message to the ring-buffer and also prints it to the stream.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.emit(fmt.Sprintf(format, args...))
}

// Println adds a message to the ring-buffer and also prints it to the stream.
func (b *RingBuffer) Println(args ...any) {
	b.emit(fmt.Sprintln(args...))
}

// Write adds every line of p to the ring-buffer, so that the ring-buffer
// can serve as the output of other loggers. It never fails.
func (b *RingBuffer) Write(p []byte) (int, error) {
	for line := range strings.Lines(string(p)) {
		b.emit(line)
	}

	return len(p), nil
}

func (b *RingBuffer) emit(msg string) {
	msg = strings.TrimRight(msg, "\n")
	full := time.Now().Format(timestampFormat) + " " + msg

	b.add(full)                      // add to buffer with timestamp
	fmt.Fprintf(b.out, "%s\n", full) // also goes to stream
}

// add adds a new message to the ring-buffer.
func (b *RingBuffer) add(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.index] = msg
	b.index = (b.index + 1) % b.size
	if b.index == 0 {
		b.full = true
	}
}
