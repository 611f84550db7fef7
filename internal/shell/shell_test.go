package shell

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"

	"github.com/hasherwi/CS469-Group-Project/internal/client"
	"github.com/hasherwi/CS469-Group-Project/internal/player"
	"github.com/hasherwi/CS469-Group-Project/internal/progress"
	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/transfer"
	"github.com/hasherwi/CS469-Group-Project/pkg/wire"
)

func TestMain(m *testing.M) {
	color.Disable()
	os.Exit(m.Run())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowOutput pays a fixed cost per frame so playback outlives a few prompt
// round-trips.
type slowOutput struct {
	perFrame time.Duration
}

func (o *slowOutput) PlayFrame(p []byte) error {
	time.Sleep(o.perFrame)
	return nil
}

// newTestShell wires a shell over the mock network, scripted from the given
// input. The download dir doubles as the play dir.
func newTestShell(t *testing.T, mock *securechan.MockNetwork, script string) (*Shell, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	meter := progress.NewMeter()
	cl := client.New(mock, "jukebox:8080", testLogger(), client.Config{
		DownloadDir: dir,
		MaxAttempts: 1,
		Meter:       meter,
	})
	pl := player.New(&slowOutput{perFrame: time.Millisecond}, testLogger())
	out := &bytes.Buffer{}
	sh := New(cl, pl, meter, testLogger(), Config{
		DownloadDir: dir,
		In:          strings.NewReader(script),
		Out:         out,
	})
	return sh, out, dir
}

// serveScript answers count sessions on the mock network, forwarding each
// request line for assertions.
func serveScript(t *testing.T, mock *securechan.MockNetwork, count int, handler func(i int, req string, ch securechan.Channel)) <-chan string {
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

func writeTrack(t *testing.T, dir, name string, size int) string {
	t.Helper()
	req := require.New(t)
	data := make([]byte, size)
	copy(data, "ID3\x04\x00\x00\x00\x00\x00\x00")
	for i := 10; i < size; i++ {
		data[i] = byte(i % 173)
	}
	path := filepath.Join(dir, name)
	req.NoError(os.WriteFile(path, data, 0o644))
	return path
}

func TestShellListRendersTable(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()
	serveScript(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write([]byte("let it be.mp3\ntrack01.mp3\n"))
	})

	sh, out, _ := newTestShell(t, mock, "list\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "FILENAME")
	req.Contains(out.String(), "let it be.mp3")
	req.Contains(out.String(), "track01.mp3")
	req.Contains(out.String(), "2 file(s)")
	req.Contains(out.String(), "bye")
}

func TestShellSearchSendsWholeTerm(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()
	requests := serveScript(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write([]byte("let it be.mp3\n"))
	})

	sh, out, _ := newTestShell(t, mock, "search let it\nquit\n")
	req.NoError(sh.Run(context.Background()))

	// Search terms may contain spaces; everything after the command word is
	// one argument.
	req.Equal("SEARCH let it", <-requests)
	req.Contains(out.String(), "let it be.mp3")
	req.Contains(out.String(), "1 file(s)")
}

func TestShellSearchNeedsTerm(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, out, _ := newTestShell(t, mock, "search\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "usage: search <term>")
}

func TestShellEmptyListing(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()
	serveScript(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {})

	sh, out, _ := newTestShell(t, mock, "list\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "no files found")
}

func TestShellGetDownloadsFile(t *testing.T) {
	req := require.New(t)
	content := make([]byte, 120_000)
	for i := range content {
		content[i] = byte(i % 211)
	}
	mock := securechan.NewMockNetwork()
	requests := serveScript(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, err := transfer.Send(context.Background(), ch, bytes.NewReader(content), nil)
		require.NoError(t, err)
	})

	sh, out, dir := newTestShell(t, mock, "get track01.mp3\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Equal("DOWNLOAD track01.mp3", <-requests)
	req.Contains(out.String(), "saved "+filepath.Join(dir, "track01.mp3"))

	data, err := os.ReadFile(filepath.Join(dir, "track01.mp3"))
	req.NoError(err)
	req.True(bytes.Equal(content, data))
}

func TestShellGetErrorKeepsPromptAlive(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()
	serveScript(t, mock, 1, func(_ int, _ string, ch securechan.Channel) {
		_, _ = ch.Write(wire.ErrorRecord{Tag: wire.TagFileError, Code: 2}.Encode())
	})

	sh, out, _ := newTestShell(t, mock, "get missing.mp3\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "error:")
	req.Contains(out.String(), "bye")
}

func TestShellPlayAndStop(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, out, dir := newTestShell(t, mock, "play intro.mp3\nstop\nquit\n")
	writeTrack(t, dir, "intro.mp3", 1<<20)

	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "playing intro.mp3")
	req.Contains(out.String(), "playback stopped")
	req.Equal(player.StateIdle, sh.player.State())
}

func TestShellPlayRejectsNonAudio(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, out, dir := newTestShell(t, mock, "play notes.mp3\nquit\n")
	req.NoError(os.WriteFile(filepath.Join(dir, "notes.mp3"), []byte("plain text, not audio"), 0o644))

	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "error:")
	req.Equal(player.StateIdle, sh.player.State())
}

func TestShellStopWhenIdle(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, out, _ := newTestShell(t, mock, "stop\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "nothing is playing")
}

func TestShellQuitStopsPlayback(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, _, dir := newTestShell(t, mock, "play intro.mp3\nquit\n")
	writeTrack(t, dir, "intro.mp3", 1<<20)

	req.NoError(sh.Run(context.Background()))
	req.Equal(player.StateIdle, sh.player.State())
}

func TestShellUnknownCommand(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, out, _ := newTestShell(t, mock, "frobnicate\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), `unknown command "frobnicate"`)
}

func TestShellHelp(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()

	sh, out, _ := newTestShell(t, mock, "help\nquit\n")
	req.NoError(sh.Run(context.Background()))

	req.Contains(out.String(), "search <term>")
	req.Contains(out.String(), "play <filename>")
}

func TestShellCanceledContext(t *testing.T) {
	req := require.New(t)
	mock := securechan.NewMockNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sh, out, _ := newTestShell(t, mock, "list\nquit\n")
	req.NoError(sh.Run(ctx))

	req.NotContains(out.String(), "juke> ")
}

func TestSplitCommand(t *testing.T) {
	req := require.New(t)
	tests := []struct {
		line string
		cmd  string
		arg  string
	}{
		{"list", "list", ""},
		{"GET let it be.mp3", "get", "let it be.mp3"},
		{"search  love ", "search", "love"},
		{"stop", "stop", ""},
	}
	for _, tt := range tests {
		cmd, arg := splitCommand(tt.line)
		req.Equal(tt.cmd, cmd, "line %q", tt.line)
		req.Equal(tt.arg, arg, "line %q", tt.line)
	}
}

func TestFormatBytes(t *testing.T) {
	req := require.New(t)
	req.Equal("512 B", formatBytes(512))
	req.Equal("2.00 KiB", formatBytes(2048))
	req.Equal("5.00 MiB", formatBytes(5<<20))
	req.Equal("3.00 GiB", formatBytes(3<<30))
}

func TestFormatRate(t *testing.T) {
	req := require.New(t)
	req.Equal("100 B/s", formatRate(100))
	req.Equal("8 KiB/s", formatRate(8*1024))
	req.Equal("2.5 MiB/s", formatRate(2.5*1024*1024))
}
