package securechan

import (
	"context"
	"io"
	"net"
	"sync"
)

// MockNetwork is an in-memory provider for tests: its Dialer and Listener
// are wired to each other, and every Dial produces a connected Channel pair
// backed by io.Pipe.
type MockNetwork struct {
	acceptCh chan Channel
	done     chan struct{}
	once     sync.Once
}

var (
	_ Listener = (*MockNetwork)(nil)
	_ Dialer   = (*MockNetwork)(nil)
	_ Channel  = (*mockChannel)(nil)
)

// NewMockNetwork creates a mock provider. The returned value serves as both
// the server's Listener and the client's Dialer.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		acceptCh: make(chan Channel, 16),
		done:     make(chan struct{}),
	}
}

// Dial creates a channel pair, queues the remote end for Accept, and
// returns the local end. addr is ignored.
func (n *MockNetwork) Dial(ctx context.Context, addr string) (Channel, error) {
	local, remote := NewMockPair()
	select {
	case n.acceptCh <- remote:
		return local, nil
	case <-n.done:
		_ = local.Close()
		_ = remote.Close()
		return nil, net.ErrClosed
	case <-ctx.Done():
		_ = local.Close()
		_ = remote.Close()
		return nil, ctx.Err()
	}
}

// Accept returns the server end of the next dialed channel.
func (n *MockNetwork) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-n.acceptCh:
		return ch, nil
	case <-n.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *MockNetwork) Addr() net.Addr { return mockAddr("listener") }

func (n *MockNetwork) Close() error {
	n.once.Do(func() { close(n.done) })
	return nil
}

// NewMockPair returns two channels connected to each other.
func NewMockPair() (Channel, Channel) {
	aToB := newPipeHalf()
	bToA := newPipeHalf()

	a := &mockChannel{reads: bToA, writes: aToB, addr: mockAddr("peer-b")}
	b := &mockChannel{reads: aToB, writes: bToA, addr: mockAddr("peer-a")}
	return a, b
}

type pipeHalf struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeHalf() pipeHalf {
	r, w := io.Pipe()
	return pipeHalf{r: r, w: w}
}

// mockChannel is one end of an in-memory channel pair.
type mockChannel struct {
	reads  pipeHalf
	writes pipeHalf
	addr   mockAddr
	once   sync.Once
}

func (c *mockChannel) Read(p []byte) (int, error)  { return c.reads.r.Read(p) }
func (c *mockChannel) Write(p []byte) (int, error) { return c.writes.w.Write(p) }

func (c *mockChannel) RemoteAddr() net.Addr { return c.addr }

// Close delivers EOF to the peer's reads and fails the peer's in-flight
// writes, like tearing down a socket.
func (c *mockChannel) Close() error {
	c.once.Do(func() {
		_ = c.writes.w.Close()
		_ = c.reads.r.Close()
	})
	return nil
}

type mockAddr string

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return string(a) }
