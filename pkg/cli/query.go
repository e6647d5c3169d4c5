package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/recall/pkg/usecase/query"
	"github.com/urfave/cli/v3"
)

func queryCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of results",
			Value:       10,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "query",
		Usage:     "Search consolidated memory; starts an interactive prompt without an argument",
		ArgsUsage: "[text]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			engine, _, err := cfg.newQueryEngine()
			if err != nil {
				return err
			}

			text := strings.Join(c.Args().Slice(), " ")
			if text != "" {
				return runQuery(ctx, c, engine, cfg.project, text, int(limit))
			}
			return queryLoop(ctx, c, engine, cfg.project, int(limit))
		},
	}
}

func runQuery(ctx context.Context, c *cli.Command, engine *query.Engine, project, text string, limit int) error {
	results, err := engine.Query(ctx, project, text, limit)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching memories")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(w, "[%s] (%.2f, seen %dx) %s\n",
			r.Item.Category, r.Score, r.Item.Occurrences, r.Item.Text)
		if r.Item.Detail != "" {
			fmt.Fprintf(w, "    %s\n", r.Item.Detail)
		}
	}
	return nil
}

func queryLoop(ctx context.Context, c *cli.Command, engine *query.Engine, project string, limit int) error {
	rl, err := readline.New("recall> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runQuery(ctx, c, engine, project, line, limit); err != nil {
			return err
		}
	}
}
