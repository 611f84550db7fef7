// Package bufpool pools fixed-size byte buffers for the stream send and
// receive paths, so per-chunk allocations do not pile up under load.
package bufpool

import (
	"sync"
)

// Pool hands out byte slices of a fixed size.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool whose buffers are exactly bufSize bytes.
// Panics if bufSize is not positive.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, bufSize)
			},
		},
	}
}

// Get returns a buffer of exactly BufSize bytes.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer for reuse. Undersized buffers are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize reports the size of buffers handed out by Get.
func (p *Pool) BufSize() int {
	return p.bufSize
}
