package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/transfer"
	"github.com/hasherwi/CS469-Group-Project/pkg/wire"
)

var errRequestTimeout = errors.New("timed out waiting for request")

// handle walks one session from request to close. Every exit path closes the
// channel; that close is what tells the client the reply is complete.
func (s *Server) handle(ctx context.Context, ch securechan.Channel) {
	defer ch.Close()

	id := uuid.NewString()
	log := s.log.With("session", id, "remote", ch.RemoteAddr().String())

	remove, err := s.reg.add(id, ch)
	if err != nil {
		log.Warn("session rejected", "error", err)
		// Drain the request first. The protocol is strictly request then
		// reply, and the peer may sit in its send until we read.
		_, _ = s.readRequest(ch)
		s.writeError(log, ch, syscall.EAGAIN)
		return
	}
	defer remove()

	raw, err := s.readRequest(ch)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Debug("session closed before request")
		} else {
			log.Warn("request read failed", "error", err)
		}
		return
	}

	req, err := wire.ParseRequest(raw)
	if err != nil {
		log.Warn("bad request", "error", err)
		s.writeError(log, ch, err)
		return
	}
	log.Info("request accepted", "op", req.Op.String(), "arg", req.Arg)

	switch req.Op {
	case wire.OpList:
		s.serveList(log, ch)
	case wire.OpSearch:
		s.serveSearch(log, ch, req.Arg)
	case wire.OpDownload:
		s.serveDownload(ctx, log, ch, req.Arg)
	}
}

// readRequest performs the single bounded read the protocol allows for a
// request. The deadline is enforced by closing the channel, which unblocks
// the pending read on every provider.
func (s *Server) readRequest(ch securechan.Channel) ([]byte, error) {
	var timedOut atomic.Bool
	if s.cfg.RequestTimeout > 0 {
		t := time.AfterFunc(s.cfg.RequestTimeout, func() {
			timedOut.Store(true)
			_ = ch.Close()
		})
		defer t.Stop()
	}

	buf := make([]byte, wire.MaxRequestLen)
	n, err := ch.Read(buf)
	if n == 0 {
		if timedOut.Load() {
			return nil, errRequestTimeout
		}
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	return buf[:n], nil
}

func (s *Server) serveList(log *slog.Logger, ch securechan.Channel) {
	names, err := s.lib.List()
	if err != nil {
		s.writeError(log, ch, err)
		return
	}
	s.writeNames(log, ch, names)
}

func (s *Server) serveSearch(log *slog.Logger, ch securechan.Channel, term string) {
	names, err := s.lib.Search(term)
	if err != nil {
		s.writeError(log, ch, err)
		return
	}
	s.writeNames(log, ch, names)
}

// writeNames sends a listing reply, one name per line. An empty listing
// sends nothing; the close alone tells the client the reply is complete.
func (s *Server) writeNames(log *slog.Logger, ch securechan.Channel, names []string) {
	var reply bytes.Buffer
	for _, name := range names {
		reply.WriteString(name)
		reply.WriteByte('\n')
	}
	if reply.Len() > 0 {
		if _, err := ch.Write(reply.Bytes()); err != nil {
			log.Warn("reply write failed", "error", err)
			return
		}
	}
	log.Info("served listing", "files", len(names))
}

func (s *Server) serveDownload(ctx context.Context, log *slog.Logger, ch securechan.Channel, name string) {
	f, err := s.lib.Open(name)
	if err != nil {
		s.writeError(log, ch, err)
		return
	}
	defer f.Close()

	guard := newStallGuard(ch, s.cfg.RequestTimeout)
	defer guard.stop()

	res, err := transfer.Send(ctx, guard, f, s.pool)
	if err != nil {
		log.Warn("stream aborted", "file", name, "bytes", res.Bytes, "error", err)
		return
	}
	log.Info("served file", "file", name, "bytes", res.Bytes,
		"sha256", hex.EncodeToString(res.Digest[:]))
}

// writeError sends the protocol error record for err. A failed write is only
// logged; the session is closing either way.
func (s *Server) writeError(log *slog.Logger, ch securechan.Channel, err error) {
	rec := wire.RecordFor(err)
	if _, werr := ch.Write(rec.Encode()); werr != nil {
		log.Warn("error reply write failed", "error", werr)
		return
	}
	log.Info("sent error reply", "tag", rec.Tag, "code", rec.Code, "cause", err.Error())
}

// stallGuard closes the channel when successive writes stop completing
// within the timeout, so a vanished client cannot pin a streaming handler.
// A zero timeout disables it.
type stallGuard struct {
	ch    securechan.Channel
	d     time.Duration
	timer *time.Timer
}

func newStallGuard(ch securechan.Channel, d time.Duration) *stallGuard {
	g := &stallGuard{ch: ch, d: d}
	if d > 0 {
		g.timer = time.AfterFunc(d, func() { _ = ch.Close() })
	}
	return g
}

func (g *stallGuard) Write(p []byte) (int, error) {
	n, err := g.ch.Write(p)
	if g.timer != nil && err == nil {
		g.timer.Reset(g.d)
	}
	return n, err
}

func (g *stallGuard) stop() {
	if g.timer != nil {
		g.timer.Stop()
	}
}
