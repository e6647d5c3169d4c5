package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"
)

// learnCommand runs the full pipeline in one shot: extract every session,
// consolidate, generate artifacts and verify them.
func learnCommand() *cli.Command {
	var (
		cfg        config
		force      bool
		target     string
		skipVerify bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "Re-extract sessions that already have records",
			Destination: &force,
		},
		&cli.StringFlag{
			Name:        "target",
			Aliases:     []string{"t"},
			Usage:       "Project tree to verify generated claims against",
			Value:       ".",
			Destination: &target,
		},
		&cli.BoolFlag{
			Name:        "skip-verify",
			Usage:       "Skip the verification pass",
			Destination: &skipVerify,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "learn",
		Usage: "Run extract-all, consolidate and generate as one pipeline",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)
			w := c.Root().Writer

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

			consolidator, err := cfg.newConsolidator()
			if err != nil {
				return err
			}
			memory, err := consolidator.Consolidate(ctx, cfg.project)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Consolidated memory v%d (%d sessions, %d items)\n",
				memory.Version, memory.SessionsAnalyzed, len(memory.Items()))

			generator, _, err := cfg.newGenerator()
			if err != nil {
				return err
			}
			out, err := generator.Generate(ctx, cfg.project)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Generated %d files\n", len(out.Files))

			if skipVerify {
				return nil
			}
			verifier, err := cfg.newVerifier(target)
			if err != nil {
				return err
			}
			report, err := verifier.Verify(ctx, cfg.project, out.Artifacts)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Verification score: %d/100 (%s)\n", report.Score, report.Summary)
			for _, issue := range report.Issues {
				fmt.Fprintf(w, "  [%s] %s\n", issue.Severity, issue.Description)
			}
			return nil
		},
	}
}
