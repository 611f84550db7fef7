package securechan

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait bounds each frame write.
	wsWriteWait = 10 * time.Second
	// wsCloseGrace is how long Close waits for the peer's close frame.
	wsCloseGrace = 3 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var (
	_ Listener = (*wsListener)(nil)
	_ Dialer   = (*wsDialer)(nil)
	_ Channel  = (*wsChannel)(nil)
)

// wsListener serves WebSocket upgrades over TLS and surfaces each upgraded
// connection as a Channel.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	acceptCh chan *wsChannel
	done     chan struct{}
	once     sync.Once
	opt      Options
}

func listenWS(addr string, opt Options) (Listener, error) {
	tlsConf, err := serverTLSConfig(opt)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen on %s: %w", addr, err)
	}

	l := &wsListener{
		ln:       ln,
		acceptCh: make(chan *wsChannel),
		done:     make(chan struct{}),
		opt:      opt,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux, TLSConfig: tlsConf}

	go func() {
		if err := l.srv.ServeTLS(ln, "", ""); err != nil && err != http.ErrServerClosed {
			opt.logger().Error("ws server stopped", "error", err)
		}
	}()

	opt.logger().Info("ws listener ready", "addr", ln.Addr())
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		l.opt.logger().Error("websocket upgrade failed", "error", err)
		return
	}
	ch := newWSChannel(conn)
	select {
	case l.acceptCh <- ch:
	case <-l.done:
		_ = ch.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-l.acceptCh:
		return ch, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

type wsDialer struct {
	opt Options
}

func (d *wsDialer) Dial(ctx context.Context, addr string) (Channel, error) {
	tlsConf, err := clientTLSConfig(addr, d.opt, nil)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: d.opt.DialTimeout,
		TLSClientConfig:  tlsConf,
	}

	conn, resp, err := dialer.DialContext(ctx, "wss://"+addr+"/", nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	return newWSChannel(conn), nil
}

// wsChannel adapts the message-based WebSocket connection to a byte stream.
// Writes become binary messages; the peer's close frame becomes EOF.
type wsChannel struct {
	conn    *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
	once    sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

func (c *wsChannel) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// Message exhausted, move on to the next frame.
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsChannel) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close announces end of session with a close frame, waits briefly for the
// peer's answering close so in-flight data drains, then drops the socket.
func (c *wsChannel) Close() error {
	c.once.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()

		_ = c.conn.SetReadDeadline(time.Now().Add(wsCloseGrace))
		for {
			if _, _, err := c.conn.NextReader(); err != nil {
				break
			}
		}
	})
	return c.conn.Close()
}
