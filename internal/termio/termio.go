// Package termio serializes terminal output. Prompt lines, download
// summaries, and playback notices all funnel through one writer per
// stream so concurrent goroutines never interleave mid-line.
package termio

import (
	"io"
	"os"
	"sync"
)

type message struct {
	buf     []byte
	flushed chan struct{}
}

type writer struct {
	file *os.File
	ch   chan message
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- message{buf: buf}
	return len(p), nil
}

// flush blocks until every write queued before it has reached the file.
func (w *writer) flush() {
	done := make(chan struct{})
	w.ch <- message{flushed: done}
	<-done
}

func (w *writer) File() *os.File {
	return w.file
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
	})
}

func newWriter(f *os.File) *writer {
	w := &writer{
		file: f,
		ch:   make(chan message, 1024),
	}
	go func() {
		for m := range w.ch {
			if m.buf != nil {
				_, _ = w.file.Write(m.buf)
			}
			if m.flushed != nil {
				close(m.flushed)
			}
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StdoutFile() *os.File {
	Init()
	return global.stdout.file
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

// Flush waits for all queued output on both streams. Call it before
// exiting so the last lines are not lost.
func Flush() {
	Init()
	global.stdout.flush()
	global.stderr.flush()
}
