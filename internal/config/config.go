// Package config resolves settings for the jukebox binaries. Values come
// from struct-tag defaults, then JUKE_* environment variables, then flags,
// with each layer overriding the previous one.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"

	"github.com/hasherwi/CS469-Group-Project/pkg/wire"
)

var validate = validator.New()

// ErrUsage is returned when the client is invoked without a server address.
var ErrUsage = errors.New("usage: juke [flags] <host>[:port]")

// ServerConfig holds configuration for the jukeserv binary.
type ServerConfig struct {
	Port           int           `env:"JUKE_PORT,default=8080" validate:"min=1,max=65535"`
	MP3Dir         string        `env:"JUKE_MP3_DIR,default=./sample-mp3s" validate:"required"`
	CertFile       string        `env:"JUKE_CERT_FILE"`
	KeyFile        string        `env:"JUKE_KEY_FILE"`
	Transport      string        `env:"JUKE_TRANSPORT,default=tls" validate:"oneof=tls quic ws"`
	LogLevel       string        `env:"JUKE_LOG_LEVEL,default=info"`
	RequestTimeout time.Duration `env:"JUKE_REQUEST_TIMEOUT,default=30s" validate:"min=0"`
	MaxSessions    int           `env:"JUKE_MAX_SESSIONS,default=0" validate:"min=0"`
}

// ListenAddr returns the bind address for the configured port.
func (c ServerConfig) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ClientConfig holds configuration for the juke binary. Addr is resolved
// from the positional host[:port] argument, not the environment.
type ClientConfig struct {
	Addr        string
	DownloadDir string        `env:"JUKE_DOWNLOAD_DIR,default=./downloads" validate:"required"`
	Transport   string        `env:"JUKE_TRANSPORT,default=tls" validate:"oneof=tls quic ws"`
	LogLevel    string        `env:"JUKE_LOG_LEVEL,default=info"`
	MaxAttempts int           `env:"JUKE_MAX_ATTEMPTS,default=3" validate:"min=1"`
	DialTimeout time.Duration `env:"JUKE_DIAL_TIMEOUT,default=10s" validate:"min=0"`
	DSCP        int           `env:"JUKE_DSCP,default=0" validate:"min=0,max=63"`
	Insecure    bool          `env:"JUKE_INSECURE,default=true"`
	CAFile      string        `env:"JUKE_CA_FILE"`
}

// ParseServer parses server configuration from flags and environment
// variables. Flags take precedence over environment variables.
func ParseServer() (ServerConfig, error) {
	return parseServerWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerWithFlagSet is an internal helper for testing with isolated
// flag sets.
func parseServerWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	var cfg ServerConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("read environment: %w", err)
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&cfg.MP3Dir, "dir", cfg.MP3Dir, "directory of mp3 files served to clients")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "PEM certificate file (blank generates a self-signed one)")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "PEM private key file")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "channel provider (tls, quic, ws)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "deadline for reading a session's request (0 disables)")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "concurrent session cap (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}

	if err := validate.Struct(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid server configuration: %w", err)
	}
	return cfg, nil
}

// ParseClient parses client configuration from flags, environment variables,
// and the positional server address. Flags take precedence over environment
// variables.
func ParseClient() (ClientConfig, error) {
	return parseClientWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseClientWithFlagSet is an internal helper for testing with isolated
// flag sets.
func parseClientWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	var cfg ClientConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("read environment: %w", err)
	}

	fs.StringVar(&cfg.DownloadDir, "downloads", cfg.DownloadDir, "directory fetched files are saved to")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "channel provider (tls, quic, ws)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.MaxAttempts, "attempts", cfg.MaxAttempts, "download attempts before giving up")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connection establishment deadline")
	fs.IntVar(&cfg.DSCP, "dscp", cfg.DSCP, "DSCP value stamped on outbound traffic (0 = default class)")
	fs.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "skip server certificate verification")
	fs.StringVar(&cfg.CAFile, "ca", cfg.CAFile, "PEM bundle to verify the server against (overrides -insecure)")
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	if fs.NArg() != 1 {
		return ClientConfig{}, ErrUsage
	}
	addr, err := resolveAddr(fs.Arg(0))
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.Addr = addr

	if err := validate.Struct(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid client configuration: %w", err)
	}
	return cfg, nil
}

// resolveAddr completes a bare host with the protocol's default port.
func resolveAddr(arg string) (string, error) {
	if arg == "" {
		return "", ErrUsage
	}
	if host, port, err := net.SplitHostPort(arg); err == nil {
		if host == "" {
			return "", fmt.Errorf("invalid server address %q", arg)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("invalid port in server address %q", arg)
		}
		return net.JoinHostPort(host, port), nil
	}
	return net.JoinHostPort(arg, strconv.Itoa(wire.DefaultPort)), nil
}
