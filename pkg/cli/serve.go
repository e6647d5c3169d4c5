package cli

import (
	"context"

	mcpservice "github.com/m-mizutani/recall/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func serveMCPCommand() *cli.Command {
	var cfg config

	// The MCP tools take the project as a parameter, so the global
	// project flag is not used here.
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory for extraction records, memory and artifacts",
			Value:       ".data",
			Sources:     cli.EnvVars("RECALL_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "policy",
			Usage:       "Path to a YAML policy file",
			Sources:     cli.EnvVars("RECALL_POLICY"),
			Destination: &cfg.policyPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("RECALL_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}

	return &cli.Command{
		Name:  "serve-mcp",
		Usage: "Serve memory query tools to agents over MCP on stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			engine, repo, err := cfg.newQueryEngine()
			if err != nil {
				return err
			}
			return mcpservice.NewServer(repo, engine).Run(ctx)
		},
	}
}
