// Package server accepts jukebox sessions and answers them. Each accepted
// channel carries exactly one request: the dispatcher hands it to a handler
// goroutine and immediately returns to accepting, and the handler walks the
// session through request read, dispatch, reply, and close.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hasherwi/CS469-Group-Project/internal/bufpool"
	"github.com/hasherwi/CS469-Group-Project/internal/library"
	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/transfer"
)

// Config carries the handler settings the dispatcher applies per session.
type Config struct {
	// RequestTimeout bounds the wait for a session's request and, during
	// streaming, the gap between successful chunk writes. Zero disables
	// both deadlines.
	RequestTimeout time.Duration

	// MaxSessions caps concurrent sessions. Zero means unbounded.
	MaxSessions int
}

// Server dispatches inbound channels to session handlers.
type Server struct {
	ln   securechan.Listener
	lib  *library.Library
	log  *slog.Logger
	pool *bufpool.Pool
	reg  *registry
	cfg  Config

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  atomic.Bool
}

// New wires a server around an already bound listener.
func New(ln securechan.Listener, lib *library.Library, logger *slog.Logger, cfg Config) *Server {
	return &Server{
		ln:   ln,
		lib:  lib,
		log:  logger,
		pool: bufpool.New(transfer.DefaultChunkSize),
		reg:  newRegistry(cfg.MaxSessions),
		cfg:  cfg,
	}
}

// Serve accepts sessions until Stop is called or ctx is cancelled. Handlers
// run in their own goroutines; the accept loop never waits on them. Accept
// failures are logged and the loop continues.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("server ready", "addr", s.ln.Addr(), "dir", s.lib.Root())
	for {
		ch, err := s.ln.Accept(ctx)
		if err != nil {
			if s.stopped.Load() || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.log.Error("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, ch)
		}()
	}
}

// Stop closes the listener and force-closes live sessions. Safe to call more
// than once and from any goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		_ = s.ln.Close()
		if n := s.reg.closeAll(); n > 0 {
			s.log.Info("closed live sessions", "count", n)
		}
	})
}
