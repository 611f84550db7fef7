package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/transfer"
	"github.com/hasherwi/CS469-Group-Project/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trackBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 103)
	}
	return data
}

// serveSessions answers count sessions on the mock network, invoking handler
// with each decoded request line. Requests are forwarded on the returned
// channel for assertions.
func serveSessions(t *testing.T, mock *securechan.MockNetwork, count int, handler func(i int, req string, ch securechan.Channel)) <-chan string {
	t.Helper()
	requests := make(chan string, count)
	go func() {
		for i := 0; i < count; i++ {
			ch, err := mock.Accept(context.Background())
			if err != nil {
				return
			}
			buf := make([]byte, wire.MaxRequestLen)
			n, _ := ch.Read(buf)
			requests <- string(buf[:n])
			handler(i, string(buf[:n]), ch)
			_ = ch.Close()
		}
	}()
	return requests
}

func TestClientList(t *testing.T) {
	mock := securechan.NewMockNetwork()
	requests := serveSessions(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write([]byte("track01.mp3\ntrack02.mp3\n"))
	})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir()})
	names, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if req := <-requests; req != "LIST" {
		t.Errorf("request = %q, want %q", req, "LIST")
	}
	want := []string{"track01.mp3", "track02.mp3"}
	if len(names) != len(want) {
		t.Fatalf("List returned %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestClientSearch(t *testing.T) {
	mock := securechan.NewMockNetwork()
	requests := serveSessions(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write([]byte("love me do.mp3\n"))
	})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir()})
	names, err := c.Search(context.Background(), "love me")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if req := <-requests; req != "SEARCH love me" {
		t.Errorf("request = %q, want %q", req, "SEARCH love me")
	}
	if len(names) != 1 || names[0] != "love me do.mp3" {
		t.Errorf("Search returned %v, want [love me do.mp3]", names)
	}
}

func TestClientSearchEmptyListing(t *testing.T) {
	mock := securechan.NewMockNetwork()
	serveSessions(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir()})
	names, err := c.Search(context.Background(), "polka")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("Search returned %v, want empty", names)
	}
}

func TestClientListingErrorReply(t *testing.T) {
	mock := securechan.NewMockNetwork()
	serveSessions(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write([]byte("FILEERROR 13"))
	})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir()})
	_, err := c.List(context.Background())

	var fileErr *wire.FileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("List error = %v, want *wire.FileError", err)
	}
	if fileErr.Errno != 13 {
		t.Errorf("errno = %d, want 13", fileErr.Errno)
	}
}

func TestClientDownload(t *testing.T) {
	content := trackBytes(200_000)
	mock := securechan.NewMockNetwork()
	requests := serveSessions(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		if _, err := transfer.Send(context.Background(), ch, bytes.NewReader(content), nil); err != nil {
			t.Errorf("Send: %v", err)
		}
	})

	destDir := t.TempDir()
	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: destDir, MaxAttempts: 3})
	res, err := c.Download(context.Background(), "track01.mp3")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if req := <-requests; req != "DOWNLOAD track01.mp3" {
		t.Errorf("request = %q, want %q", req, "DOWNLOAD track01.mp3")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Written != int64(len(content)) {
		t.Errorf("Written = %d, want %d", res.Written, len(content))
	}
	if res.Received != int64(len(content))+transfer.DigestLen {
		t.Errorf("Received = %d, want %d", res.Received, int64(len(content))+transfer.DigestLen)
	}
	if res.Path != filepath.Join(destDir, "track01.mp3") {
		t.Errorf("Path = %q, want %q", res.Path, filepath.Join(destDir, "track01.mp3"))
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded bytes do not match served content")
	}
}

func TestClientDownloadRetriesTransientFailures(t *testing.T) {
	content := trackBytes(4096)
	mock := securechan.NewMockNetwork()
	serveSessions(t, mock, 3, func(i int, _ string, ch securechan.Channel) {
		if i < 2 {
			_, _ = ch.Write([]byte("FILEERROR 5"))
			return
		}
		_, _ = transfer.Send(context.Background(), ch, bytes.NewReader(content), nil)
	})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir(), MaxAttempts: 3})
	res, err := c.Download(context.Background(), "track.mp3")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded bytes do not match served content")
	}
}

func TestClientDownloadCorruptStreamRetries(t *testing.T) {
	content := trackBytes(4096)
	mock := securechan.NewMockNetwork()
	serveSessions(t, mock, 2, func(i int, _ string, ch securechan.Channel) {
		if i == 0 {
			// Full-length stream whose digest does not match.
			_, _ = ch.Write(content)
			_, _ = ch.Write(make([]byte, transfer.DigestLen))
			return
		}
		_, _ = transfer.Send(context.Background(), ch, bytes.NewReader(content), nil)
	})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir(), MaxAttempts: 3})
	res, err := c.Download(context.Background(), "track.mp3")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestClientDownloadRPCErrorStopsRetrying(t *testing.T) {
	mock := securechan.NewMockNetwork()
	var accepts atomic.Int32
	go func() {
		for {
			ch, err := mock.Accept(context.Background())
			if err != nil {
				return
			}
			accepts.Add(1)
			buf := make([]byte, wire.MaxRequestLen)
			_, _ = ch.Read(buf)
			_, _ = ch.Write([]byte("RPCERROR -2"))
			_ = ch.Close()
		}
	}()
	defer mock.Close()

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir(), MaxAttempts: 3})
	res, err := c.Download(context.Background(), "track.mp3")

	var rpcErr *wire.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Download error = %v, want *wire.RPCError", err)
	}
	if rpcErr.Code != wire.CodeTooFewArgs {
		t.Errorf("code = %d, want %d", rpcErr.Code, wire.CodeTooFewArgs)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if got := accepts.Load(); got != 1 {
		t.Errorf("server saw %d sessions, want 1", got)
	}
}

func TestClientDownloadExhaustsAttempts(t *testing.T) {
	mock := securechan.NewMockNetwork()
	serveSessions(t, mock, 2, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write([]byte("FILEERROR 2"))
	})

	destDir := t.TempDir()
	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: destDir, MaxAttempts: 2})
	res, err := c.Download(context.Background(), "gone.mp3")

	var fileErr *wire.FileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("Download error = %v, want *wire.FileError", err)
	}
	if fileErr.Errno != 2 {
		t.Errorf("errno = %d, want 2", fileErr.Errno)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty on failure", res.Path)
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("read dest dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed download left %d entries in download directory", len(entries))
	}
}

func TestClientDownloadRejectsUnsafeName(t *testing.T) {
	mock := securechan.NewMockNetwork()
	serveSessions(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {})

	c := New(mock, "jukebox:8080", testLogger(), Config{DownloadDir: t.TempDir(), MaxAttempts: 3})
	res, err := c.Download(context.Background(), "../escape.mp3")

	if !errors.Is(err, transfer.ErrInvalidFilename) {
		t.Fatalf("Download error = %v, want ErrInvalidFilename", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}
