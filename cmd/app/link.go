package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/starford/estatedesk/internal"
	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/client"
	"github.com/starford/estatedesk/internal/collection"
	"github.com/starford/estatedesk/internal/linking"
	"github.com/starford/estatedesk/internal/models"
	pkgconfig "github.com/starford/estatedesk/pkg/config"
)

// linkFlags builds a fresh flag set for one link subcommand.
func linkFlags(extra ...cli.Flag) []cli.Flag {
	return append(extra,
		&cli.StringFlag{Name: "relation", Aliases: []string{"r"}, Usage: "Relation name, e.g. memo-properties", Required: true},
		&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Source entity id", Required: true},
		serverFlag(),
		tokenFlag(),
	)
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{Name: "server", Usage: "Server base URL (overrides client.base_url)", Sources: cli.EnvVars("ESTATEDESK_SERVER")}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{Name: "token", Usage: "Bearer token (overrides client.token)", Sources: cli.EnvVars("ESTATEDESK_TOKEN")}
}

func targetFlag() cli.Flag {
	return &cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Target entity id", Required: true}
}

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:  "link",
		Usage: "Inspect and edit the links of one source entity on a remote server",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "List assigned and available targets",
				Flags: linkFlags(
					&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "Substring filter over available targets"},
				),
				Action: linkAction(actionShow),
			},
			{
				Name:   "assign",
				Usage:  "Link a target to the source",
				Flags:  linkFlags(targetFlag()),
				Action: linkAction(actionAssign),
			},
			{
				Name:   "remove",
				Usage:  "Unlink a target from the source",
				Flags:  linkFlags(targetFlag()),
				Action: linkAction(actionRemove),
			},
			{
				Name:  "referrers",
				Usage: "List the sources that link to a target",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "relation", Aliases: []string{"r"}, Usage: "Relation name, e.g. memo-properties", Required: true},
					targetFlag(),
					serverFlag(),
					tokenFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, err := remoteClient(cmd)
					if err != nil {
						return err
					}
					return runReferrers(ctx, c, os.Stdout, cmd.String("relation"), cmd.String("target"))
				},
			},
		},
	}
}

type linkOp int

const (
	actionShow linkOp = iota
	actionAssign
	actionRemove
)

// linkRequest is one link command invocation.
type linkRequest struct {
	op       linkOp
	relation string
	source   string
	target   string
	filter   string
}

func remoteClient(cmd *cli.Command) (*client.Client, error) {
	cc, err := clientConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{client.WithTimeout(cc.Timeout)}
	if cc.Token != "" {
		opts = append(opts, client.WithToken(cc.Token))
	}
	return client.New(cc.BaseURL, opts...)
}

func linkAction(op linkOp) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		c, err := remoteClient(cmd)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		return runLink(ctx, c, logger, os.Stdout, linkRequest{
			op:       op,
			relation: cmd.String("relation"),
			source:   cmd.String("source"),
			target:   cmd.String("target"),
			filter:   cmd.String("filter"),
		})
	}
}

// clientConfig reads the client section from the config file, when it
// exists, and applies flag overrides.
func clientConfig(cmd *cli.Command) (internal.ClientConfig, error) {
	file := struct {
		Client internal.ClientConfig `yaml:"client"`
	}{Client: internal.NewDefaultConfig().Client}
	if path := cmd.String("config"); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := pkgconfig.Load(path, &file); err != nil {
				return internal.ClientConfig{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cc := file.Client
	if v := cmd.String("server"); v != "" {
		cc.BaseURL = v
	}
	if v := cmd.String("token"); v != "" {
		cc.Token = v
	}
	if err := cc.Validate(); err != nil {
		return internal.ClientConfig{}, fmt.Errorf("client config: %w", err)
	}
	return cc, nil
}

// runLink loads a linking engine for the request's source and applies the
// requested operation, then prints both panes. A failed change re-reads the
// server's links first, so the panes show what is actually stored.
func runLink(ctx context.Context, c *client.Client, logger *slog.Logger, out io.Writer, req linkRequest) error {
	rels := c.Relations(ctx)
	if se, failed := rels.Failure(); failed {
		return se
	}
	catalog, _ := rels.Get()
	var rel *models.Relation
	for i := range catalog {
		if catalog[i].Name == req.relation {
			rel = &catalog[i]
			break
		}
	}
	if rel == nil {
		return fmt.Errorf("unknown relation %q", req.relation)
	}

	candidates := collection.New[models.Summary](func(ctx context.Context) apperr.Result[[]models.Summary] {
		return c.Summaries(ctx, rel.Target)
	})
	pool := candidates.Fetch(ctx)
	if se, failed := pool.Failure(); failed {
		return se
	}
	items, _ := pool.Get()

	eng := linking.New[models.Summary](c.Relation(rel.Name), req.source,
		linking.WithLogger[models.Summary](logger))
	defer eng.Close()
	if se, failed := eng.Load(ctx, items).Failure(); failed {
		return se
	}

	var res apperr.Result[struct{}]
	switch req.op {
	case actionAssign:
		res = eng.Assign(ctx, req.target)
	case actionRemove:
		res = eng.Remove(ctx, req.target)
	default:
		res = apperr.OK(struct{}{})
	}

	se, failed := res.Failure()
	if failed {
		if r := eng.Refresh(ctx); r.IsFailure() {
			logger.Warn("link: refresh after failed change", slog.String("error", eng.Err()))
		}
	}
	printPanes(out, rel.Name, eng, req.filter)
	if failed {
		if errors.Is(se, apperr.ErrNotFound) {
			return fmt.Errorf("%s is not a %s candidate: %w", req.target, rel.Target, se)
		}
		return se
	}
	return nil
}

func printPanes(out io.Writer, relation string, eng *linking.Engine[models.Summary], filter string) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", relation, eng.Source())
	fmt.Fprintln(tw, "PANE\tID\tLABEL")
	for _, s := range eng.Assigned() {
		fmt.Fprintf(tw, "assigned\t%s\t%s\n", s.ID, s.Label)
	}
	for _, s := range eng.Available(filter) {
		fmt.Fprintf(tw, "available\t%s\t%s\n", s.ID, s.Label)
	}
	if msg := eng.Err(); msg != "" {
		fmt.Fprintf(tw, "error\t\t%s\n", msg)
	}
	_ = tw.Flush()
}

// runReferrers prints the sources linked to target under relation.
func runReferrers(ctx context.Context, c *client.Client, out io.Writer, relation, target string) error {
	res := c.Relation(relation).Referrers(ctx, target)
	if se, failed := res.Failure(); failed {
		return se
	}
	items, _ := res.Get()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", relation, target)
	fmt.Fprintln(tw, "PANE\tID\tLABEL")
	for _, s := range items {
		fmt.Fprintf(tw, "referrer\t%s\t%s\n", s.ID, s.Label)
	}
	return tw.Flush()
}
