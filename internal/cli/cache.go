package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/aussiebroadwan/aerostack/pkg/tokenstore"
)

func (a *App) cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the token cache",
		Commands: []*cli.Command{
			{
				Name:   "clear",
				Usage:  "Forget cached tokens",
				Action: a.cacheClearAction,
			},
		},
	}
}

func (a *App) cacheClearAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := tokenstore.Open(cfg.TokenCache.Kind, cfg.TokenCache.Path)
	if err != nil {
		return fmt.Errorf("failed to open token cache: %w", err)
	}
	if store == nil {
		fmt.Fprintln(a.Stdout, "token cache disabled")
		return nil
	}
	defer store.Close()

	// A database holds every identity; other stores are cleared per identity.
	if db, ok := store.(*tokenstore.SQLiteStore); ok {
		if err := db.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear token cache: %w", err)
		}
		fmt.Fprintln(a.Stdout, "token cache cleared")
		return nil
	}

	creds := cfg.Credentials()
	key := tokenstore.Key(cfg.URL, creds.ClientID(), creds.Username())
	if err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear token cache: %w", err)
	}
	fmt.Fprintf(a.Stdout, "cached token of %s removed\n", key)
	return nil
}
