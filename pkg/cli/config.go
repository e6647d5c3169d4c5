package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/trace"
	"github.com/m-mizutani/recall/pkg/usecase/consolidate"
	"github.com/m-mizutani/recall/pkg/usecase/extract"
	"github.com/m-mizutani/recall/pkg/usecase/generate"
	"github.com/m-mizutani/recall/pkg/usecase/query"
	"github.com/m-mizutani/recall/pkg/usecase/verify"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Repository and sessions
	project     string
	dataDir     string
	sessionsDir string
	policyPath  string
	logLevel    string

	// Adapters
	llmProvider     string
	anthropicAPIKey string
	claudeModel     string
	geminiProject   string
	geminiLocation  string
	geminiModel     string

	concurrency int64
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Project name to operate on",
			Sources:     cli.EnvVars("RECALL_PROJECT"),
			Destination: &cfg.project,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory for extraction records, memory and artifacts",
			Value:       ".data",
			Sources:     cli.EnvVars("RECALL_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "sessions-dir",
			Usage:       "Directory holding session transcripts (default ~/.claude/projects)",
			Sources:     cli.EnvVars("RECALL_SESSIONS_DIR"),
			Destination: &cfg.sessionsDir,
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
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Completion provider (gemini or claude)",
			Value:       "gemini",
			Sources:     cli.EnvVars("RECALL_LLM"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model override",
			Sources:     cli.EnvVars("RECALL_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model override",
			Sources:     cli.EnvVars("RECALL_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Extraction worker pool size (overrides policy)",
			Sources:     cli.EnvVars("RECALL_CONCURRENCY"),
			Destination: &cfg.concurrency,
		},
	}
}

// setupLogging configures the default logger and attaches it to the context
func (cfg *config) setupLogging(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates a new repository instance
func (cfg *config) newRepository() (repository.Repository, error) {
	if cfg.dataDir == "" {
		return nil, goerr.New("data-dir is required")
	}
	repo, err := repository.New(cfg.dataDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newLoader creates the session trace loader
func (cfg *config) newLoader() (*trace.Loader, error) {
	dir := cfg.sessionsDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve home directory for sessions-dir")
		}
		dir = filepath.Join(home, ".claude", "projects")
	}
	return trace.New(dir), nil
}

// newPolicy loads the policy file if given, otherwise defaults
func (cfg *config) newPolicy() (*policy.Policy, error) {
	pol := policy.Default()
	if cfg.policyPath != "" {
		loaded, err := policy.Load(cfg.policyPath)
		if err != nil {
			return nil, err
		}
		pol = loaded
	}
	if cfg.concurrency > 0 {
		pol.Concurrency = int(cfg.concurrency)
	}
	return pol, nil
}

// newLLM creates the completion adapter selected by the llm flag
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.llmProvider {
	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required for claude")
		}
		var opts []adapter.ClaudeOption
		if cfg.claudeModel != "" {
			opts = append(opts, adapter.WithClaudeModel(cfg.claudeModel))
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, opts...), nil

	case "gemini", "":
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required for gemini")
		}
		var opts []adapter.GeminiOption
		if cfg.geminiModel != "" {
			opts = append(opts, adapter.WithGeminiModel(cfg.geminiModel))
		}
		return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)

	default:
		return nil, goerr.New("unknown llm provider", goerr.V("llm", cfg.llmProvider))
	}
}

// newExtractor wires the extraction usecase
func (cfg *config) newExtractor(ctx context.Context) (*extract.Extractor, repository.Repository, error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}
	loader, err := cfg.newLoader()
	if err != nil {
		return nil, nil, err
	}
	pol, err := cfg.newPolicy()
	if err != nil {
		return nil, nil, err
	}
	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, nil, err
	}
	return extract.New(llm, loader, repo, pol), repo, nil
}

// newConsolidator wires the consolidation usecase
func (cfg *config) newConsolidator() (*consolidate.Consolidator, error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, err
	}
	pol, err := cfg.newPolicy()
	if err != nil {
		return nil, err
	}
	return consolidate.New(repo, pol)
}

// newGenerator wires the generation usecase
func (cfg *config) newGenerator() (*generate.Generator, repository.Repository, error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}
	pol, err := cfg.newPolicy()
	if err != nil {
		return nil, nil, err
	}
	return generate.New(repo, pol), repo, nil
}

// newVerifier wires the verification usecase against a project tree
func (cfg *config) newVerifier(root string) (*verify.Verifier, error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, err
	}
	return verify.New(repo, root), nil
}

// newQueryEngine wires the query engine
func (cfg *config) newQueryEngine() (*query.Engine, repository.Repository, error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}
	pol, err := cfg.newPolicy()
	if err != nil {
		return nil, nil, err
	}
	engine, err := query.New(repo, pol)
	if err != nil {
		return nil, nil, err
	}
	return engine, repo, nil
}
