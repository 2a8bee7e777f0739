package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"nexus/cmd/internal/app"
	"nexus/cmd/internal/conf"
	"nexus/cmd/security/password"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "nexus",
		Usage:   "identity sessions and realtime event delivery",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file, below NEXUS_* environment variables",
				EnvVars: []string{"NEXUS_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			hashPasswordCommand(),
			genSecretCommand(),
		},
	}
}

func loadSource(c *cli.Context, overrides map[string]any) (*conf.Source, error) {
	return conf.Load(conf.WithFile(c.String("config")), conf.WithOverrides(overrides))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP and WebSocket server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides http.addr"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "json or pretty"},
		},
		Action: func(c *cli.Context) error {
			src, err := loadSource(c, map[string]any{
				"http.addr":  c.String("addr"),
				"log.level":  c.String("log-level"),
				"log.format": c.String("log-format"),
			})
			if err != nil {
				return err
			}
			return app.Run(src)
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-password",
		Usage:     "print an Argon2id hash for a password read from stdin",
		ArgsUsage: " ",
		Action: func(c *cli.Context) error {
			src, err := loadSource(c, nil)
			if err != nil {
				return err
			}
			cfg, err := password.LoadConfig(src)
			if err != nil {
				return err
			}

			pw, err := readPassword(c.App.Reader)
			if err != nil {
				return err
			}
			h, err := cfg.Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, h)
			return err
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func genSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen-secret",
		Usage: "print a random key for auth.signing_key or token.hmac_key",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "bytes", Value: 48, Usage: "random bytes before encoding (min 32)"},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("bytes")
			if n < 32 {
				return fmt.Errorf("--bytes must be at least 32, got %d", n)
			}
			b := make([]byte, n)
			if _, err := rand.Read(b); err != nil {
				return err
			}
			_, err := fmt.Fprintln(c.App.Writer, base64.RawURLEncoding.EncodeToString(b))
			return err
		},
	}
}
