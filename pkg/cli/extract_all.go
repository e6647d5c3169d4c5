package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/usecase/extract"
	"github.com/urfave/cli/v3"
)

func extractAllCommand() *cli.Command {
	var (
		cfg   config
		force bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "Re-extract sessions that already have records",
			Destination: &force,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "extract-all",
		Usage: "Extract memories from every session of the project",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			extractor, _, err := cfg.newExtractor(ctx)
			if err != nil {
				return err
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			sp.Writer = os.Stderr
			sp.Suffix = fmt.Sprintf(" extracting sessions for %s...", cfg.project)
			sp.Start()
			batch, err := extractor.ExtractAll(ctx, cfg.project, force)
			sp.Stop()
			if err != nil {
				return err
			}

			printBatchSummary(c, batch)
			if len(batch.Extracted) == 0 && len(batch.Failed) > 0 {
				return goerr.New("all sessions failed extraction",
					goerr.V("failed", len(batch.Failed)))
			}
			return nil
		},
	}
}

func printBatchSummary(c *cli.Command, batch *extract.BatchResult) {
	w := c.Root().Writer
	fmt.Fprintf(w, "Extracted: %d, skipped: %d, failed: %d\n",
		len(batch.Extracted), len(batch.Skipped), len(batch.Failed))
	for id, err := range batch.Failed {
		fmt.Fprintf(w, "  failed %s: %v\n", id, err)
	}
}
