package securechan

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"
)

// tlsListener accepts TLS-over-TCP channels. This is the default provider
// and speaks the same wire security as the original OpenSSL deployment.
type tlsListener struct {
	ln  net.Listener
	opt Options
}

func listenTLS(addr string, opt Options) (Listener, error) {
	cfg, err := serverTLSConfig(opt)
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("tls listen on %s: %w", addr, err)
	}
	opt.logger().Info("tls listener ready", "addr", ln.Addr())
	return &tlsListener{ln: ln, opt: opt}, nil
}

func (l *tlsListener) Accept(ctx context.Context) (Channel, error) {
	conn, err := acceptConn(ctx, l.ln)
	if err != nil {
		return nil, err
	}
	// The TLS handshake completes lazily on first read or write, so a
	// dialer that never speaks cannot pin the accept loop.
	return conn.(*tls.Conn), nil
}

func (l *tlsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tlsListener) Close() error { return l.ln.Close() }

// acceptConn is a context-aware Accept. Cancelling ctx closes the listener
// to unblock the pending Accept.
func acceptConn(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type res struct {
		conn net.Conn
		err  error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := ln.Accept()
		ch <- res{conn: c, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

type tlsDialer struct {
	opt Options
}

func (d *tlsDialer) Dial(ctx context.Context, addr string) (Channel, error) {
	nd := net.Dialer{Timeout: d.opt.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	if d.opt.DSCP != 0 {
		// Best effort; some platforms ignore the TOS byte.
		_ = ipv4.NewConn(conn).SetTOS(d.opt.DSCP)
	}

	cfg, err := clientTLSConfig(addr, d.opt, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return tlsConn, nil
}

// serverTLSConfig loads the configured certificate, or generates a
// self-signed one when no files are configured.
func serverTLSConfig(opt Options) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if opt.CertFile != "" || opt.KeyFile != "" {
		cert, err = tls.LoadX509KeyPair(opt.CertFile, opt.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
	} else {
		opt.logger().Warn("no certificate configured, generating self-signed certificate")
		cert, err = generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("generate self-signed certificate: %w", err)
		}
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
	}, nil
}

// clientTLSConfig builds the dialing TLS configuration. nextProtos is set by
// providers that negotiate ALPN.
func clientTLSConfig(addr string, opt Options, nextProtos []string) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: opt.Insecure,
		NextProtos:         nextProtos,
	}
	if opt.CAFile != "" {
		pem, err := os.ReadFile(opt.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", opt.CAFile)
		}
		cfg.RootCAs = pool
		cfg.InsecureSkipVerify = false
	}
	if !cfg.InsecureSkipVerify {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg, nil
}

// generateSelfSignedCert generates a throwaway server certificate.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"juke"},
			Country:      []string{"US"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}
