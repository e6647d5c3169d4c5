package extract

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/trace"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

//go:embed prompt/extract.md
var extractPromptRaw string

//go:embed prompt/repair.md
var repairPromptRaw string

var (
	extractPromptTmpl = template.Must(template.New("extract").Parse(extractPromptRaw))
	repairPromptTmpl  = template.Must(template.New("repair").Parse(repairPromptRaw))
)

const systemPrompt = `You are a reflective session analyzer. You extract structured knowledge from agent session execution traces: what went well becomes best practice, what went wrong becomes a gotcha with its root cause, what was repeated becomes a reusable workflow, and what was decided is recorded with its rationale.`

// Extractor performs reflective analysis of session traces and persists one
// extraction record per session.
type Extractor struct {
	llm    adapter.LLM
	loader *trace.Loader
	repo   repository.Repository
	policy *policy.Policy
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

type Option func(*Extractor)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(x *Extractor) { x.now = now }
}

// WithSleep overrides the retry backoff sleeper, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(x *Extractor) { x.sleep = sleep }
}

func New(llm adapter.LLM, loader *trace.Loader, repo repository.Repository, pol *policy.Policy, opts ...Option) *Extractor {
	x := &Extractor{
		llm:    llm,
		loader: loader,
		repo:   repo,
		policy: pol,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Result is the outcome of one session's extraction.
type Result struct {
	Record  *model.ExtractionRecord
	Skipped bool
}

// llmOutput is the wire shape of a structured completion response.
type llmOutput struct {
	Summary    string                 `json:"summary"`
	Episodic   []model.EpisodicItem   `json:"episodic"`
	Semantic   []model.SemanticItem   `json:"semantic"`
	Procedural []model.ProceduralItem `json:"procedural"`
	Decisions  []model.DecisionItem   `json:"decisions"`
	Gotchas    []model.GotchaItem     `json:"gotchas"`
}

// Extract analyzes one session and persists its extraction record. A session
// already extracted is skipped unless force is set; a forced run supersedes
// the prior record entirely.
func (x *Extractor) Extract(ctx context.Context, project string, id model.SessionID, force bool) (*Result, error) {
	if !force {
		if prior, err := x.repo.GetExtraction(ctx, project, id); err == nil {
			logging.From(ctx).Debug("session already extracted, skipping",
				"session_id", id, "extracted_at", prior.ExtractedAt)
			return &Result{Record: prior, Skipped: true}, nil
		} else if !model.IsNotFound(err) {
			return nil, err
		}
	}

	sessionTrace, err := x.loader.Load(ctx, project, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := extractPromptTmpl.Execute(&buf, map[string]any{
		"Project":   project,
		"SessionID": id,
		"Trace":     trace.Render(sessionTrace, x.policy.MaxTraceChars),
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extraction prompt template")
	}

	output, err := x.complete(ctx, buf.String(), id)
	if err != nil {
		return nil, err
	}

	record := &model.ExtractionRecord{
		SessionID:   id,
		Project:     project,
		ExtractedAt: x.now().UTC(),
		Summary:     output.Summary,
		Episodic:    output.Episodic,
		Semantic:    output.Semantic,
		Procedural:  output.Procedural,
		Decisions:   output.Decisions,
		Gotchas:     output.Gotchas,
	}
	if err := x.repo.PutExtraction(ctx, record); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("extracted session",
		"session_id", id, "items", record.ItemCount(), "outcome", sessionTrace.Outcome)
	return &Result{Record: record}, nil
}

// complete runs the completion with schema validation and bounded repair
// retries. On a validation failure the next attempt carries a repair prompt
// describing the error; invalid output is never coerced into a record.
func (x *Extractor) complete(ctx context.Context, prompt string, id model.SessionID) (*llmOutput, error) {
	schema := outputSchema()
	input := &adapter.GenerateInput{
		System: systemPrompt,
		Prompt: prompt,
		Schema: schema,
	}

	var lastErr error
	for attempt := 1; attempt <= x.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(x.policy.RetryBackoffSeconds) * time.Second << (attempt - 2)
			if err := x.sleep(ctx, backoff); err != nil {
				return nil, goerr.Wrap(err, "extraction canceled during backoff")
			}
		}

		raw, err := x.llm.Generate(ctx, input)
		if err != nil {
			lastErr = err
			logging.From(ctx).Warn("completion call failed",
				"session_id", id, "attempt", attempt, "error", err)
			continue
		}

		cleaned := stripFences(raw)
		if err := adapter.ValidateJSON(schema, []byte(cleaned)); err != nil {
			lastErr = goerr.Wrap(model.ErrMalformed, "completion output failed schema validation",
				goerr.V("session_id", id), goerr.V("attempt", attempt), goerr.V("cause", err.Error()))
			logging.From(ctx).Warn("schema validation failed, requesting repair",
				"session_id", id, "attempt", attempt, "error", err)

			var buf bytes.Buffer
			if terr := repairPromptTmpl.Execute(&buf, map[string]any{
				"Error":    err.Error(),
				"Previous": cleaned,
			}); terr != nil {
				return nil, goerr.Wrap(terr, "failed to execute repair prompt template")
			}
			input = &adapter.GenerateInput{System: systemPrompt, Prompt: buf.String(), Schema: schema}
			continue
		}

		var output llmOutput
		if err := json.Unmarshal([]byte(cleaned), &output); err != nil {
			lastErr = goerr.Wrap(err, "failed to decode validated output")
			continue
		}
		return &output, nil
	}

	return nil, goerr.Wrap(model.ErrExtractionFailed, "retry budget exhausted",
		goerr.V("session_id", id), goerr.V("attempts", x.policy.MaxAttempts),
		goerr.V("last_error", errString(lastErr)))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// stripFences removes a markdown code fence around a JSON response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	return s
}

// BatchResult aggregates an ExtractAll run. Failures are per-session and
// never abort the batch.
type BatchResult struct {
	Extracted []model.SessionID
	Skipped   []model.SessionID
	Failed    map[model.SessionID]error
}

// ExtractAll extracts every session of a project with a bounded worker pool.
func (x *Extractor) ExtractAll(ctx context.Context, project string, force bool) (*BatchResult, error) {
	ids, err := x.loader.ListSessions(ctx, project)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "project has no sessions", goerr.V("project", project))
	}

	batch := &BatchResult{Failed: make(map[model.SessionID]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.policy.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			result, err := x.Extract(gctx, project, id, force)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				batch.Failed[id] = err
			case result.Skipped:
				batch.Skipped = append(batch.Skipped, id)
			default:
				batch.Extracted = append(batch.Extracted, id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortIDs(batch.Extracted)
	sortIDs(batch.Skipped)
	if len(batch.Failed) > 0 {
		for id, ferr := range batch.Failed {
			logging.From(ctx).Error("session extraction failed", "session_id", id, "error", ferr)
		}
	}
	return batch, nil
}

func sortIDs(ids []model.SessionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
