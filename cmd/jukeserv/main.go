package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hasherwi/CS469-Group-Project/internal/config"
	"github.com/hasherwi/CS469-Group-Project/internal/library"
	"github.com/hasherwi/CS469-Group-Project/internal/logging"
	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
	"github.com/hasherwi/CS469-Group-Project/internal/server"
	"github.com/hasherwi/CS469-Group-Project/internal/termio"
)

const serverVersion = "v1.0.0"

func main() {
	termio.Init()
	args := os.Args[1:]
	if hasHelpFlag(args) {
		printServerUsage()
		termio.Flush()
		return
	}
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), serverVersion)
		termio.Flush()
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(termio.Stderr(), "jukeserv: %v\n", err)
		termio.Flush()
		os.Exit(1)
	}
	termio.Flush()
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.ParseServer()
	if err != nil {
		return err
	}
	log := logging.New("jukeserv", cfg.LogLevel)

	lib := library.New(cfg.MP3Dir)
	if _, err := lib.List(); err != nil {
		// Requests against an unreadable directory answer with error
		// records, so startup proceeds; the operator still wants to know.
		log.Warn("mp3 dir not readable", "dir", cfg.MP3Dir, "error", err)
	}

	ln, err := securechan.Listen(cfg.Transport, cfg.ListenAddr(), securechan.Options{
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := server.New(ln, lib, log, server.Config{
		RequestTimeout: cfg.RequestTimeout,
		MaxSessions:    cfg.MaxSessions,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(termio.Stdout(), "jukeserv listening addr=%s transport=%s dir=%s\n",
		cfg.ListenAddr(), cfg.Transport, cfg.MP3Dir)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	srv.Stop()
	if err := <-errChan; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("stopped cleanly")
	return nil
}

func printServerUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: jukeserv [flags]")
	fmt.Fprintln(termio.Stderr(), "flags:")
	fmt.Fprintln(termio.Stderr(), "  -port <n>               listen port (default 8080)")
	fmt.Fprintln(termio.Stderr(), "  -dir <path>             directory of mp3 files to serve (default ./sample-mp3s)")
	fmt.Fprintln(termio.Stderr(), "  -cert <file> -key <file> PEM pair (blank generates a self-signed certificate)")
	fmt.Fprintln(termio.Stderr(), "  -transport <kind>       tls, quic, or ws (default tls)")
	fmt.Fprintln(termio.Stderr(), "  -request-timeout <d>    per-session request deadline (default 30s)")
	fmt.Fprintln(termio.Stderr(), "  -max-sessions <n>       concurrent session cap (default 0, unlimited)")
	fmt.Fprintln(termio.Stderr(), "environment: JUKE_PORT, JUKE_MP3_DIR, JUKE_TRANSPORT, ... (flags win)")
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
