package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/urfave/cli/v3"
)

func extractCommand() *cli.Command {
	var (
		cfg   config
		force bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "Re-extract even if a record already exists, superseding it",
			Destination: &force,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract memories from one session transcript",
		ArgsUsage: "<session-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			sessionID := c.Args().First()
			if sessionID == "" {
				return goerr.New("session id argument is required")
			}
			ctx = cfg.setupLogging(ctx)

			extractor, _, err := cfg.newExtractor(ctx)
			if err != nil {
				return err
			}

			result, err := extractor.Extract(ctx, cfg.project, model.SessionID(sessionID), force)
			if err != nil {
				return err
			}

			if result.Skipped {
				fmt.Fprintf(c.Root().Writer, "Session %s already extracted at %s (use --force to supersede)\n",
					sessionID, result.Record.ExtractedAt.Format("2006-01-02 15:04"))
				return nil
			}

			fmt.Fprintf(c.Root().Writer, "Extracted %d items from session %s\n",
				result.Record.ItemCount(), sessionID)
			fmt.Fprintf(c.Root().Writer, "Summary: %s\n", result.Record.Summary)
			return nil
		},
	}
}
