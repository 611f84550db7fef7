// Package shell implements the interactive client menu. Commands drive the
// request pipeline and the playback controller; failures print and return to
// the prompt instead of exiting.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/hasherwi/CS469-Group-Project/internal/client"
	"github.com/hasherwi/CS469-Group-Project/internal/player"
	"github.com/hasherwi/CS469-Group-Project/internal/progress"
	"github.com/hasherwi/CS469-Group-Project/internal/termio"
)

var (
	okStyle  = color.New(color.FgGreen)
	errStyle = color.New(color.FgRed)
)

// Config carries the shell's non-service collaborators.
type Config struct {
	// DownloadDir is where play resolves fetched files.
	DownloadDir string

	// In and Out default to the process terminal when nil.
	In  io.Reader
	Out io.Writer
}

// Shell is the interactive loop bound to one server.
type Shell struct {
	client *client.Client
	player *player.Controller
	meter  *progress.Meter
	log    *slog.Logger
	in     io.Reader
	out    io.Writer
	dir    string
}

// New wires a shell around a client and a playback controller. The meter
// should be the same one the client feeds during downloads.
func New(cl *client.Client, pl *player.Controller, meter *progress.Meter, logger *slog.Logger, cfg Config) *Shell {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = termio.Stdout()
	}
	return &Shell{
		client: cl,
		player: pl,
		meter:  meter,
		log:    logger,
		in:     cfg.In,
		out:    cfg.Out,
		dir:    cfg.DownloadDir,
	}
}

// Run reads commands until quit, input closes, or ctx is canceled. Command
// failures print at the prompt; only scanner errors are returned.
func (s *Shell) Run(ctx context.Context) error {
	defer s.stopPlayback()

	fmt.Fprintf(s.out, "connected to %s\n", s.client.Addr())
	fmt.Fprintln(s.out, "type \"help\" for commands")

	sc := bufio.NewScanner(s.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "juke> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg := splitCommand(line)
		switch cmd {
		case "list", "ls":
			s.cmdList(ctx)
		case "search":
			s.cmdSearch(ctx, arg)
		case "get", "download":
			s.cmdGet(ctx, arg)
		case "play":
			s.cmdPlay(arg)
		case "stop":
			s.cmdStop()
		case "help", "?":
			s.printHelp()
		case "quit", "exit", "q":
			fmt.Fprintln(s.out, "bye")
			return nil
		default:
			fmt.Fprintf(s.out, "unknown command %q, type \"help\"\n", cmd)
		}
	}
}

// splitCommand yields the first word lowercased and the rest of the line.
// Filenames contain spaces, so the argument is never tokenized further.
func splitCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (s *Shell) cmdList(ctx context.Context) {
	names, err := s.client.List(ctx)
	if err != nil {
		s.printError(err)
		return
	}
	s.renderListing(names)
}

func (s *Shell) cmdSearch(ctx context.Context, term string) {
	if term == "" {
		fmt.Fprintln(s.out, "usage: search <term>")
		return
	}
	names, err := s.client.Search(ctx, term)
	if err != nil {
		s.printError(err)
		return
	}
	s.renderListing(names)
}

func (s *Shell) renderListing(names []string) {
	if len(names) == 0 {
		fmt.Fprintln(s.out, "no files found")
		return
	}
	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"#", "Filename"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for i, name := range names {
		table.Append([]string{strconv.Itoa(i + 1), name})
	}
	table.Render()
	fmt.Fprintf(s.out, "%d file(s)\n", len(names))
}

func (s *Shell) cmdGet(ctx context.Context, name string) {
	if name == "" {
		fmt.Fprintln(s.out, "usage: get <filename>")
		return
	}
	if s.meter != nil {
		s.meter.Start(0)
	}
	res, err := s.client.Download(ctx, name)
	if err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintln(s.out, okStyle.Render("saved "+res.Path+" ("+s.downloadSummary(res)+")"))
}

func (s *Shell) downloadSummary(res client.DownloadResult) string {
	parts := []string{formatBytes(res.Written)}
	if s.meter != nil {
		st := s.meter.Snapshot()
		if elapsed := time.Since(st.StartedAt); st.BytesDone > 0 && elapsed > 0 {
			parts = append(parts, formatRate(float64(st.BytesDone)/elapsed.Seconds()))
		}
	}
	if res.Attempts > 1 {
		parts = append(parts, strconv.Itoa(res.Attempts)+" attempts")
	}
	return strings.Join(parts, ", ")
}

func (s *Shell) cmdPlay(name string) {
	if name == "" {
		fmt.Fprintln(s.out, "usage: play <filename>")
		return
	}
	err := s.player.Start(filepath.Join(s.dir, name))
	switch {
	case errors.Is(err, player.ErrBusy):
		fmt.Fprintln(s.out, "already playing, stop first")
	case err != nil:
		s.printError(err)
	default:
		fmt.Fprintln(s.out, okStyle.Render("playing "+name))
	}
}

func (s *Shell) cmdStop() {
	if err := s.player.Stop(); err != nil {
		if errors.Is(err, player.ErrNotPlaying) {
			fmt.Fprintln(s.out, "nothing is playing")
			return
		}
		s.printError(err)
		return
	}
	fmt.Fprintln(s.out, "playback stopped")
}

// stopPlayback ends any active playback when the loop exits.
func (s *Shell) stopPlayback() {
	if err := s.player.Stop(); err == nil {
		s.log.Debug("stopped playback on exit")
	}
}

func (s *Shell) printError(err error) {
	fmt.Fprintln(s.out, errStyle.Render("error: "+err.Error()))
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, "commands:")
	fmt.Fprintln(s.out, "  list              show every file on the server")
	fmt.Fprintln(s.out, "  search <term>     show files whose name contains term")
	fmt.Fprintln(s.out, "  get <filename>    download a file")
	fmt.Fprintln(s.out, "  play <filename>   play a downloaded file")
	fmt.Fprintln(s.out, "  stop              stop playback")
	fmt.Fprintln(s.out, "  quit              leave")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	exp := 0
	for value >= unit && exp < 3 {
		value /= unit
		exp++
	}
	suffixes := []string{"KiB", "MiB", "GiB"}
	return fmt.Sprintf("%.2f %s", value, suffixes[exp-1])
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
	)
	if bps >= m {
		return fmt.Sprintf("%.1f MiB/s", bps/float64(m))
	}
	if bps >= k {
		return fmt.Sprintf("%.0f KiB/s", bps/float64(k))
	}
	return fmt.Sprintf("%.0f B/s", bps)
}
