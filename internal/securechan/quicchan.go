package securechan

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicDrainTimeout bounds how long a listener-side channel waits for the
// peer to acknowledge end of session before tearing the connection down.
const quicDrainTimeout = 5 * time.Second

var (
	_ Listener = (*quicListener)(nil)
	_ Dialer   = (*quicDialer)(nil)
	_ Channel  = (*quicChannel)(nil)
)

// quicListener maps one accepted QUIC connection plus its first
// bidirectional stream to one Channel.
type quicListener struct {
	ln  *quic.Listener
	opt Options
}

func listenQUIC(addr string, opt Options) (Listener, error) {
	tlsConf, err := serverTLSConfig(opt)
	if err != nil {
		return nil, err
	}
	tlsConf.NextProtos = []string{ALPNProtocol}

	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen on %s: %w", addr, err)
	}
	opt.logger().Info("quic listener ready", "addr", ln.Addr())
	return &quicListener{ln: ln, opt: opt}, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:     30 * time.Second,
		MaxIncomingStreams: 1,
	}
}

func (l *quicListener) Accept(ctx context.Context) (Channel, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC connection: %w", err)
	}
	// The stream only surfaces once the dialer writes its request.
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("failed to accept QUIC stream: %w", err)
	}
	return &quicChannel{conn: conn, stream: stream, drainOnClose: true}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func (l *quicListener) Close() error { return l.ln.Close() }

type quicDialer struct {
	opt Options
}

func (d *quicDialer) Dial(ctx context.Context, addr string) (Channel, error) {
	if d.opt.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opt.DialTimeout)
		defer cancel()
	}

	tlsConf, err := clientTLSConfig(addr, d.opt, []string{ALPNProtocol})
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("failed to open QUIC stream: %w", err)
	}
	return &quicChannel{conn: conn, stream: stream}, nil
}

// quicChannel is one session carried on one QUIC bidirectional stream.
type quicChannel struct {
	conn   *quic.Conn
	stream *quic.Stream

	// drainOnClose marks the listener side: after the final write it must
	// keep the connection up until the peer has read everything, since
	// closing the connection discards undelivered stream data.
	drainOnClose bool

	closeOnce sync.Once
	closeErr  error
}

func (c *quicChannel) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicChannel) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *quicChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
		if c.drainOnClose {
			conn := c.conn
			go func() {
				select {
				case <-conn.Context().Done():
				case <-time.After(quicDrainTimeout):
				}
				_ = conn.CloseWithError(0, "")
			}()
			return
		}
		_ = c.conn.CloseWithError(0, "")
	})
	return c.closeErr
}
