package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func consolidateCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "consolidate",
		Usage: "Merge all extraction records into the project's consolidated memory",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			consolidator, err := cfg.newConsolidator()
			if err != nil {
				return err
			}

			memory, err := consolidator.Consolidate(ctx, cfg.project)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Consolidated memory v%d for %s (%d sessions analyzed)\n",
				memory.Version, memory.Project, memory.SessionsAnalyzed)
			fmt.Fprintf(w, "  episodic: %d, semantic: %d, procedural: %d, decisions: %d, gotchas: %d\n",
				len(memory.Episodic), len(memory.Semantic), len(memory.Procedural),
				len(memory.Decisions), len(memory.Gotchas))

			conflicts := 0
			for _, d := range memory.Decisions {
				if d.ConflictGroupID != "" {
					conflicts++
				}
			}
			if conflicts > 0 {
				fmt.Fprintf(w, "  %d decisions are in conflict groups; review the Decisions section\n", conflicts)
			}
			return nil
		},
	}
}
