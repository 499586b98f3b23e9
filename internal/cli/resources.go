package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
	"github.com/aussiebroadwan/aerostack/pkg/stacksdk"
)

func (a *App) projectsCommand() *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "Find and describe projects",
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "List the projects matching a name",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "deleted", Usage: "search deleted projects"},
				},
				Action: a.projectsSearchAction,
			},
			{
				Name:      "describe",
				Usage:     "Print project descriptions as JSON",
				ArgsUsage: "<id>...",
				Action:    a.projectsDescribeAction,
			},
		},
	}
}

func (a *App) projectsSearchAction(ctx context.Context, cmd *cli.Command) error {
	ctx, sdk, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	projects, err := sdk.Projects.Search(ctx, cmd.Args().First(), cmd.Bool("deleted"))
	if err != nil {
		return fmt.Errorf("failed to search projects: %w", err)
	}
	return printTable(a.Stdout, projects, "name")
}

// projectsDescribeAction describes the projects concurrently, bounded by the
// connection worker pool size.
func (a *App) projectsDescribeAction(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("missing project id")
	}

	ctx, sdk, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	projects := make([]*resource.Resource, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sdk.Async().Workers())
	for i, id := range ids {
		g.Go(func() error {
			p, err := sdk.Projects.Describe(gctx, id, false)
			if err != nil {
				return fmt.Errorf("failed to describe project %s: %w", id, err)
			}
			if p == nil {
				return fmt.Errorf("project %s not found", id)
			}
			projects[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range projects {
		fmt.Fprintln(a.Stdout, string(p.Raw()))
	}
	return nil
}

func (a *App) analyticsCommand() *cli.Command {
	return &cli.Command{
		Name:  "analytics",
		Usage: "Find analytics",
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "List analytics, optionally only those with a name",
				ArgsUsage: "[name]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "maximum number of results"},
					&cli.IntFlag{Name: "page", Usage: "page number, starting at 0"},
				},
				Action: a.analyticsSearchAction,
			},
		},
	}
}

func (a *App) analyticsSearchAction(ctx context.Context, cmd *cli.Command) error {
	ctx, sdk, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	res, err := sdk.Analytics.Search(ctx, cmd.Args().First(), stacksdk.SearchOptions{
		Limit: int(cmd.Int("limit")),
		Page:  int(cmd.Int("page")),
	})
	if err != nil {
		return fmt.Errorf("failed to search analytics: %w", err)
	}

	fmt.Fprintf(a.Stdout, "%d analytics found\n", res.Total)
	return printTable(a.Stdout, res.Results, "name", "version")
}

func (a *App) productsCommand() *cli.Command {
	return &cli.Command{
		Name:  "products",
		Usage: "Inspect analytic products",
		Commands: []*cli.Command{
			{
				Name:      "logs",
				Usage:     "Print the logs of a product",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "keep printing until the product is done"},
					&cli.DurationFlag{Name: "interval", Usage: "delay between polls", Value: stacksdk.DefaultFollowInterval},
				},
				Action: a.productsLogsAction,
			},
		},
	}
}

func (a *App) productsLogsAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("missing product id")
	}

	ctx, sdk, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	if !cmd.Bool("follow") {
		logs, err := sdk.Products.RetrieveLogs(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to retrieve logs: %w", err)
		}
		for _, entry := range slices.Backward(logs.Logs) {
			a.printLog(entry)
		}
		return nil
	}

	follow := stacksdk.FollowOptions{Interval: cmd.Duration("interval")}
	for entry, err := range sdk.Products.FollowLogs(ctx, id, follow) {
		if err != nil {
			return fmt.Errorf("failed to follow logs: %w", err)
		}
		a.printLog(entry)
	}
	return nil
}

func (a *App) printLog(entry stacksdk.ProductLog) {
	msg, _ := entry.Record["message"].(string)
	fmt.Fprintf(a.Stdout, "%s %s\n", entry.Timestamp.Format(time.RFC3339Nano), msg)
}

// printTable prints one row per resource: its id then the given keys.
func printTable(w io.Writer, rs []*resource.Resource, keys ...string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "ID")
	for _, k := range keys {
		fmt.Fprintf(tw, "\t%s", k)
	}
	fmt.Fprintln(tw)

	for _, r := range rs {
		fmt.Fprint(tw, r.ID())
		for _, k := range keys {
			fmt.Fprintf(tw, "\t%s", r.GetString(k))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
