package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/joho/godotenv"

	"github.com/hasherwi/CS469-Group-Project/internal/client"
	"github.com/hasherwi/CS469-Group-Project/internal/config"
	"github.com/hasherwi/CS469-Group-Project/internal/logging"
	"github.com/hasherwi/CS469-Group-Project/internal/player"
	"github.com/hasherwi/CS469-Group-Project/internal/progress"
	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/shell"
	"github.com/hasherwi/CS469-Group-Project/internal/termio"
)

const (
	clientVersion = "v1.0.0"
	banner        = `
     ██╗██╗   ██╗██╗  ██╗███████╗
     ██║██║   ██║██║ ██╔╝██╔════╝
     ██║██║   ██║█████╔╝ █████╗
██   ██║██║   ██║██╔═██╗ ██╔══╝
╚█████╔╝╚██████╔╝██║  ██╗███████╗
 ╚════╝  ╚═════╝ ╚═╝  ╚═╝╚══════╝
juke ` + clientVersion + `
find, fetch, and play mp3s from a jukebox server
`
)

func main() {
	termio.Init()
	args := os.Args[1:]
	if hasHelpFlag(args) {
		printUsage()
		termio.Flush()
		return
	}
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), clientVersion)
		termio.Flush()
		return
	}
	if err := run(); err != nil {
		if errors.Is(err, config.ErrUsage) {
			printUsage()
			termio.Flush()
			os.Exit(2)
		}
		fmt.Fprintf(termio.Stderr(), "juke: %v\n", err)
		termio.Flush()
		os.Exit(1)
	}
	termio.Flush()
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.ParseClient()
	if err != nil {
		return err
	}
	log := logging.New("juke", cfg.LogLevel)

	if !isTTY(termio.StdoutFile()) {
		color.Disable()
	}

	dialer, err := securechan.NewDialer(cfg.Transport, securechan.Options{
		Insecure:    cfg.Insecure,
		CAFile:      cfg.CAFile,
		DialTimeout: cfg.DialTimeout,
		DSCP:        cfg.DSCP,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("download dir: %w", err)
	}

	meter := progress.NewMeter()
	cl := client.New(dialer, cfg.Addr, log, client.Config{
		DownloadDir: cfg.DownloadDir,
		MaxAttempts: cfg.MaxAttempts,
		Meter:       meter,
	})
	pl := player.New(player.NewPacedOutput(nil, 0), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprint(termio.Stdout(), banner)
	sh := shell.New(cl, pl, meter, log, shell.Config{DownloadDir: cfg.DownloadDir})

	errChan := make(chan error, 1)
	go func() {
		errChan <- sh.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(termio.Stdout(), "interrupted")
		return nil
	case err := <-errChan:
		return err
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: juke [flags] <host>[:port]")
	fmt.Fprintln(termio.Stderr(), "flags:")
	fmt.Fprintln(termio.Stderr(), "  -downloads <dir>    where fetched files land (default ./downloads)")
	fmt.Fprintln(termio.Stderr(), "  -transport <kind>   tls, quic, or ws (default tls)")
	fmt.Fprintln(termio.Stderr(), "  -attempts <n>       download attempts before giving up (default 3)")
	fmt.Fprintln(termio.Stderr(), "  -insecure           skip server certificate verification (default true)")
	fmt.Fprintln(termio.Stderr(), "  -ca <file>          pin server verification to a PEM bundle")
	fmt.Fprintln(termio.Stderr(), "  -dscp <n>           DSCP value for outbound traffic")
	fmt.Fprintln(termio.Stderr(), "examples:")
	fmt.Fprintln(termio.Stderr(), "  juke jukebox.example")
	fmt.Fprintln(termio.Stderr(), "  juke -transport quic jukebox.example:9090")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

func isTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
