// Package client implements the jukebox request pipeline. Every request gets
// its own channel: dial, send the request line, consume the reply until EOF,
// close. Listings are single-attempt; downloads retry with a fresh channel
// per attempt because a partial stream cannot be resumed.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hasherwi/CS469-Group-Project/internal/bufpool"
	"github.com/hasherwi/CS469-Group-Project/internal/progress"
	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/transfer"
	"github.com/hasherwi/CS469-Group-Project/pkg/wire"
)

// Config carries the client's request settings.
type Config struct {
	// DownloadDir is where fetched files are committed.
	DownloadDir string

	// MaxAttempts bounds the download retry loop. Values below one are
	// treated as one.
	MaxAttempts int

	// Meter, when set, is fed download progress.
	Meter *progress.Meter
}

// DownloadResult reports the outcome of a download.
type DownloadResult struct {
	// Path is the committed file, set only on success.
	Path string

	// Attempts counts how many channels were opened.
	Attempts int

	// Received totals wire bytes consumed across all attempts; Written is
	// what the successful attempt committed to disk.
	Received int64
	Written  int64
}

// Client issues requests against one server address.
type Client struct {
	dialer securechan.Dialer
	addr   string
	log    *slog.Logger
	pool   *bufpool.Pool
	cfg    Config
}

// New builds a client around a dialer.
func New(dialer securechan.Dialer, addr string, logger *slog.Logger, cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		dialer: dialer,
		addr:   addr,
		log:    logger,
		pool:   bufpool.New(transfer.DefaultChunkSize),
		cfg:    cfg,
	}
}

// Addr returns the server address the client talks to.
func (c *Client) Addr() string { return c.addr }

// List fetches every servable filename.
func (c *Client) List(ctx context.Context) ([]string, error) {
	return c.listing(ctx, wire.Request{Op: wire.OpList})
}

// Search fetches the filenames containing term.
func (c *Client) Search(ctx context.Context, term string) ([]string, error) {
	return c.listing(ctx, wire.Request{Op: wire.OpSearch, Arg: term})
}

// listing runs a single-attempt request whose reply is newline-separated
// names. An empty reply is a valid empty listing.
func (c *Client) listing(ctx context.Context, req wire.Request) ([]string, error) {
	ch, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	defer ch.Close()

	if _, err := ch.Write(req.Encode()); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	reply, err := io.ReadAll(ch)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if rec, ok := wire.ParseErrorRecord(reply); ok {
		return nil, rec.Err()
	}
	return splitNames(reply), nil
}

// Download fetches name into DownloadDir, retrying transient failures with a
// fresh channel per attempt. A server RPCERROR ends the loop early: the
// request itself was refused and resending it cannot succeed.
func (c *Client) Download(ctx context.Context, name string) (DownloadResult, error) {
	var res DownloadResult
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		recv, err := c.downloadOnce(ctx, name)
		res.Received += recv.Received
		if err == nil {
			res.Path = recv.Path
			res.Written = recv.Written
			c.log.Info("download complete", "file", name,
				"bytes", recv.Written, "attempts", attempt)
			return res, nil
		}
		lastErr = err

		var rpcErr *wire.RPCError
		switch {
		case errors.As(err, &rpcErr):
			c.log.Error("download refused", "file", name, "error", err)
			return res, fmt.Errorf("download %s: %w", name, lastErr)
		case errors.Is(err, transfer.ErrInvalidFilename):
			return res, fmt.Errorf("download %s: %w", name, lastErr)
		case ctx.Err() != nil:
			return res, fmt.Errorf("download %s: %w", name, lastErr)
		}
		c.log.Warn("download attempt failed", "file", name,
			"attempt", attempt, "of", c.cfg.MaxAttempts, "error", err)
	}
	return res, fmt.Errorf("download %s after %d attempts: %w", name, res.Attempts, lastErr)
}

// downloadOnce runs one complete request/stream cycle on a fresh channel.
func (c *Client) downloadOnce(ctx context.Context, name string) (transfer.RecvResult, error) {
	ch, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		return transfer.RecvResult{}, fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	defer ch.Close()

	req := wire.Request{Op: wire.OpDownload, Arg: name}
	if _, err := ch.Write(req.Encode()); err != nil {
		return transfer.RecvResult{}, fmt.Errorf("send request: %w", err)
	}
	return transfer.Receive(ctx, ch, c.cfg.DownloadDir, name, transfer.RecvOptions{
		Pool:  c.pool,
		Meter: c.cfg.Meter,
	})
}

func splitNames(reply []byte) []string {
	text := strings.TrimRight(string(reply), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
