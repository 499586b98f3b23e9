package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/urfave/cli/v3"
)

func (a *App) requestCommand() *cli.Command {
	verb := func(method string) *cli.Command {
		cmd := &cli.Command{
			Name:      strings.ToLower(method),
			Usage:     method + " a path relative to the platform URL",
			ArgsUsage: "<path>",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return a.requestAction(ctx, cmd, method)
			},
		}
		if method != http.MethodGet {
			cmd.Flags = []cli.Flag{
				&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON request body"},
			}
		}
		return cmd
	}

	return &cli.Command{
		Name:  "request",
		Usage: "Send an authenticated request and print the response body",
		Commands: []*cli.Command{
			verb(http.MethodGet),
			verb(http.MethodPost),
			verb(http.MethodPut),
			verb(http.MethodDelete),
		},
	}
}

func (a *App) requestAction(ctx context.Context, cmd *cli.Command, method string) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("missing path")
	}

	var data any
	if raw := cmd.String("data"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		data = json.RawMessage(raw)
	}

	ctx, sdk, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	conn := sdk.Connection()
	var body []byte
	switch method {
	case http.MethodGet:
		body, err = conn.Get(ctx, path)
	case http.MethodPost:
		body, err = conn.Post(ctx, path, data)
	case http.MethodPut:
		body, err = conn.Put(ctx, path, data)
	case http.MethodDelete:
		body, err = conn.Delete(ctx, path, data)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}

	if _, err := a.Stdout.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(a.Stdout)
	}
	return nil
}
