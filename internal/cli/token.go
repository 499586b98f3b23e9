package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aussiebroadwan/aerostack/pkg/cryptox"
	"github.com/aussiebroadwan/aerostack/pkg/jwtx"
)

// clockSkew is tolerated when checking the claims of the current token.
const clockSkew = 30 * time.Second

func (a *App) tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Sign in and describe the access token",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "renew", Usage: "request a new token even if the current one is valid"},
		},
		Action: a.tokenAction,
	}
}

func (a *App) tokenAction(ctx context.Context, cmd *cli.Command) error {
	ctx, sdk, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	if cmd.Bool("renew") {
		if err := sdk.Connection().RenewToken(ctx); err != nil {
			return fmt.Errorf("failed to renew token: %w", err)
		}
	}

	tok := sdk.Token()
	fmt.Fprintf(a.Stdout, "type:        %s\n", tok.TokenType)
	fmt.Fprintf(a.Stdout, "fingerprint: %s\n", cryptox.ShortFingerprint(tok.AccessToken))
	if tok.ExpiresAt.IsZero() {
		fmt.Fprintln(a.Stdout, "expires:     unknown")
	} else {
		fmt.Fprintf(a.Stdout, "expires:     %s (in %s)\n",
			tok.ExpiresAt.Format(time.RFC3339), time.Until(tok.ExpiresAt).Round(time.Second))
	}
	if tok.RefreshToken != "" {
		fmt.Fprintln(a.Stdout, "refreshable: yes")
	}

	if claims, err := jwtx.ParseUnverified(tok.AccessToken); err == nil {
		if claims.Subject != "" {
			fmt.Fprintf(a.Stdout, "subject:     %s\n", claims.Subject)
		}
		if scopes := claims.Scopes(); len(scopes) > 0 {
			fmt.Fprintf(a.Stdout, "scopes:      %v\n", scopes)
		}
		if err := claims.ValidateExpiryWithLeeway(time.Now(), clockSkew); err != nil {
			fmt.Fprintf(a.Stdout, "status:      %v\n", err)
		}
	}
	return nil
}
