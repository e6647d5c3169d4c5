package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "recall",
		Usage: "Session memory pipeline: extract, consolidate and apply knowledge from agent sessions",
		Commands: []*cli.Command{
			extractCommand(),
			extractAllCommand(),
			consolidateCommand(),
			generateCommand(),
			applyCommand(),
			learnCommand(),
			queryCommand(),
			serveMCPCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
