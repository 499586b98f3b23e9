// Package cli implements the stackctl command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/slogx"
	"github.com/aussiebroadwan/aerostack/pkg/stacksdk"
)

// App holds what the commands read from and write to.
type App struct {
	Version string

	Stdout io.Writer
	Stderr io.Writer

	// Environ feeds the configuration loader.
	Environ func() []string

	// Prompt reads a secret from the terminal.
	Prompt func(ctx context.Context, prompt string) (string, error)
}

// Execute runs stackctl against the process environment.
func Execute(ctx context.Context, args []string, version string) error {
	app := &App{
		Version: version,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Environ: os.Environ,
		Prompt:  readSecureInput,
	}
	return app.Run(ctx, args)
}

// Run runs the root command with args, args[0] being the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	return a.Command().Run(ctx, args)
}

// Command returns the root command.
func (a *App) Command() *cli.Command {
	return &cli.Command{
		Name:      "stackctl",
		Usage:     "Query and manage platform resources",
		Version:   a.Version,
		Writer:    a.Stdout,
		ErrWriter: a.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
				Sources: cli.EnvVars("AEROSTACK_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "platform URL",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "user name, the password is prompted when not configured",
			},
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "API client identifier",
			},
		},
		Commands: []*cli.Command{
			a.configCommand(),
			a.tokenCommand(),
			a.requestCommand(),
			a.projectsCommand(),
			a.analyticsCommand(),
			a.productsCommand(),
			a.cacheCommand(),
		},
	}
}

// loadConfig layers the command line flags over the configuration file and
// environment.
func (a *App) loadConfig(cmd *cli.Command) (stacksdk.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range map[string]string{
		"url":        "url",
		"user":       "user",
		"client-id":  "client_id",
		"log-level":  "log.level",
		"log-format": "log.format",
	} {
		if cmd.IsSet(flag) {
			overrides[key] = cmd.String(flag)
		}
	}

	cfg, err := stacksdk.LoadConfig(cmd.String("config"), a.Environ, overrides)
	if err != nil {
		return stacksdk.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (a *App) logger(cfg stacksdk.Config) *slog.Logger {
	return slogx.Build(slogx.Config{
		Service: "stackctl",
		Version: a.Version,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  a.Stderr,
	})
}

// connect loads the configuration and opens an SDK. The password is
// prompted for when a user is configured without one.
func (a *App) connect(ctx context.Context, cmd *cli.Command) (context.Context, *stacksdk.SDK, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return ctx, nil, err
	}

	if cfg.User != "" && cfg.Password == "" {
		if a.Prompt == nil {
			return ctx, nil, fmt.Errorf("password required for %s", cfg.User)
		}
		if cfg.Password, err = a.Prompt(ctx, fmt.Sprintf("Password for %s: ", cfg.User)); err != nil {
			return ctx, nil, err
		}
	}

	log := a.logger(cfg)
	ctx = slogx.WithContext(ctx, log)

	sdk, err := stacksdk.New(ctx, cfg, stacksdk.WithLogger(log))
	if err != nil {
		if connection.IsAuthentication(err) {
			return ctx, nil, fmt.Errorf("failed to sign in to %s: %w", cfg.URL, err)
		}
		return ctx, nil, fmt.Errorf("failed to connect: %w", err)
	}
	return ctx, sdk, nil
}
