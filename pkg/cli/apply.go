package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func applyCommand() *cli.Command {
	var (
		cfg    config
		target string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "target",
			Aliases:     []string{"t"},
			Usage:       "Project tree to install artifacts into",
			Value:       ".",
			Destination: &target,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "apply",
		Usage: "Install the generated instruction document and skills into a project tree",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			w := c.Root().Writer

			doc, err := repo.GetGenerated(ctx, cfg.project, "CLAUDE.md")
			if err != nil {
				return goerr.Wrap(err, "no generated instruction document, run generate first")
			}

			docPath := filepath.Join(target, "CLAUDE.md")
			if prior, err := os.ReadFile(docPath); err == nil {
				backup := docPath + ".backup." + time.Now().UTC().Format("20060102-150405")
				if err := os.WriteFile(backup, prior, 0644); err != nil {
					return goerr.Wrap(err, "failed to back up existing CLAUDE.md")
				}
				fmt.Fprintf(w, "Backed up existing CLAUDE.md to %s\n", filepath.Base(backup))
			} else if !os.IsNotExist(err) {
				return goerr.Wrap(err, "failed to read existing CLAUDE.md")
			}
			if err := os.WriteFile(docPath, doc, 0644); err != nil {
				return goerr.Wrap(err, "failed to write CLAUDE.md", goerr.V("path", docPath))
			}
			fmt.Fprintf(w, "Installed %s\n", docPath)

			names, err := repo.ListGenerated(ctx, cfg.project)
			if err != nil {
				return err
			}
			installed := 0
			for _, name := range names {
				if !strings.HasPrefix(name, "skills/") {
					continue
				}
				data, err := repo.GetGenerated(ctx, cfg.project, name)
				if err != nil {
					return err
				}
				skillPath := filepath.Join(target, ".claude", "skills", strings.TrimPrefix(name, "skills/"))
				if err := os.MkdirAll(filepath.Dir(skillPath), 0755); err != nil {
					return goerr.Wrap(err, "failed to create skills directory")
				}
				if err := os.WriteFile(skillPath, data, 0644); err != nil {
					return goerr.Wrap(err, "failed to write skill", goerr.V("path", skillPath))
				}
				installed++
			}
			if installed > 0 {
				fmt.Fprintf(w, "Installed %d skills into %s\n", installed,
					filepath.Join(target, ".claude", "skills"))
			}
			return nil
		},
	}
}
