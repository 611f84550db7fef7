// Package securechan provides the encrypted, authenticated byte streams the
// jukebox protocol runs over. A session is exactly one Channel: the client
// dials, writes its request, reads the reply until EOF, and both sides close.
// Three interchangeable providers are included (TLS over TCP, QUIC, and
// WebSocket over TLS) plus an in-memory pair for tests. The protocol layers
// above never look past these interfaces.
package securechan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// ALPNProtocol is the Application-Layer Protocol Negotiation identifier used
// by the QUIC provider.
const ALPNProtocol = "juke-quic-v1"

// Channel is one established secure byte stream. Closing it ends the session
// and, on the writing side, delivers EOF to the peer after all written bytes.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr
}

// Listener accepts inbound channels on a bound address.
type Listener interface {
	// Accept blocks until a channel is established or ctx is done.
	Accept(ctx context.Context) (Channel, error)

	// Addr returns the bound local address.
	Addr() net.Addr

	// Close unblocks Accept and releases the bound address.
	Close() error
}

// Dialer establishes outbound channels.
type Dialer interface {
	// Dial connects to addr ("host:port") and completes the handshake.
	Dial(ctx context.Context, addr string) (Channel, error)
}

// Provider names accepted by Listen and NewDialer.
const (
	KindTLS  = "tls"
	KindQUIC = "quic"
	KindWS   = "ws"
)

// Options carries provider settings shared by listeners and dialers.
// Zero values select the defaults described on each field.
type Options struct {
	// CertFile and KeyFile locate the server's PEM certificate and key.
	// When both are empty the listener generates a self-signed certificate.
	CertFile string
	KeyFile  string

	// Insecure disables certificate verification on the dialing side.
	// Required when the server runs on a generated self-signed certificate.
	Insecure bool

	// CAFile, when set, pins server verification to the given PEM bundle
	// instead of the system roots. Takes precedence over Insecure.
	CAFile string

	// DialTimeout bounds connection establishment. Zero means no limit
	// beyond ctx.
	DialTimeout time.Duration

	// DSCP, when nonzero, is written into the IP TOS field of outbound
	// TCP connections.
	DSCP int

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Listen binds a listener of the named kind on addr.
func Listen(kind, addr string, opt Options) (Listener, error) {
	switch kind {
	case KindTLS:
		return listenTLS(addr, opt)
	case KindQUIC:
		return listenQUIC(addr, opt)
	case KindWS:
		return listenWS(addr, opt)
	default:
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
}

// NewDialer returns a dialer of the named kind.
func NewDialer(kind string, opt Options) (Dialer, error) {
	switch kind {
	case KindTLS:
		return &tlsDialer{opt: opt}, nil
	case KindQUIC:
		return &quicDialer{opt: opt}, nil
	case KindWS:
		return &wsDialer{opt: opt}, nil
	default:
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
}
