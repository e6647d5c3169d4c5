package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func generateCommand() *cli.Command {
	var (
		cfg        config
		target     string
		skipVerify bool
	)

	flags := []cli.Flag{
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

	return &cli.Command{
		Name:  "generate",
		Usage: "Render instruction document, skills and tasks from consolidated memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			generator, _, err := cfg.newGenerator()
			if err != nil {
				return err
			}

			out, err := generator.Generate(ctx, cfg.project)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Generated %d files for %s:\n", len(out.Files), cfg.project)
			for _, name := range out.Files {
				fmt.Fprintf(w, "  %s\n", name)
			}

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
