package cli

import (
	"context"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/aussiebroadwan/aerostack/pkg/stacksdk"
)

func (a *App) configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the configuration",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration, secrets masked",
				Action: a.configShowAction,
			},
		},
	}
}

func (a *App) configShowAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}

	out, err := toml.Marshal(configView(cfg.Redacted()))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = a.Stdout.Write(out)
	return err
}

// configView lays cfg out with the keys accepted by the configuration file.
func configView(cfg stacksdk.Config) map[string]any {
	return map[string]any{
		"url":          cfg.URL,
		"user":         cfg.User,
		"password":     cfg.Password,
		"client_id":    cfg.ClientID,
		"secret":       cfg.Secret,
		"domain":       cfg.Domain,
		"access_token": cfg.AccessToken,
		"proxy_url":    cfg.ProxyURL,
		"token_path":   cfg.TokenPath,
		"connection": map[string]any{
			"disable_ssl_certificate": cfg.Connection.DisableSSLCertificate,
			"max_retries":             cfg.Connection.MaxRetries,
			"timeout":                 cfg.Connection.Timeout.String(),
			"max_request_workers":     cfg.Connection.MaxRequestWorkers,
			"rate_limit":              cfg.Connection.RateLimit,
			"rate_burst":              cfg.Connection.RateBurst,
		},
		"token_cache": map[string]any{
			"kind": cfg.TokenCache.Kind,
			"path": cfg.TokenCache.Path,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
	}
}
