package extract_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/trace"
	"github.com/m-mizutani/recall/pkg/usecase/extract"
)

type mockLLM struct {
	mu      sync.Mutex
	calls   []*adapter.GenerateInput
	handler func(call int, in *adapter.GenerateInput) (string, error)
}

func (m *mockLLM) Generate(ctx context.Context, in *adapter.GenerateInput) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	call := len(m.calls)
	m.mu.Unlock()
	return m.handler(call, in)
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func validOutput(summary string) string {
	return fmt.Sprintf(`{
		"summary": %q,
		"episodic": [],
		"semantic": [{
			"knowledge": "tests use table-driven style",
			"category": "testing",
			"confidence": "high",
			"scope": "universal"
		}],
		"procedural": [],
		"decisions": [],
		"gotchas": []
	}`, summary)
}

func writeSession(t *testing.T, dir, project, id string) {
	t.Helper()
	projectDir := filepath.Join(dir, project)
	gt.NoError(t, os.MkdirAll(projectDir, 0755))
	lines := `{"type":"user","timestamp":"2026-03-01T12:00:00Z","message":{"content":"add a regression test"}}
{"type":"assistant","timestamp":"2026-03-01T12:01:00Z","message":{"content":[{"type":"text","text":"added and passing"}]}}
`
	gt.NoError(t, os.WriteFile(filepath.Join(projectDir, id+".jsonl"), []byte(lines), 0644))
}

func newExtractor(t *testing.T, llm adapter.LLM, sessionsDir string) (*extract.Extractor, repository.Repository) {
	t.Helper()
	repo := repository.NewMemory()
	loader := trace.New(sessionsDir)
	x := extract.New(llm, loader, repo, policy.Default(),
		extract.WithClock(func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }),
		extract.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	return x, repo
}

func TestExtractPersistsRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-001")

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		gt.S(t, in.Prompt).Contains("add a regression test")
		gt.NotNil(t, in.Schema)
		return validOutput("added a regression test"), nil
	}}
	x, repo := newExtractor(t, llm, dir)

	result := gt.R1(x.Extract(ctx, "myapp", "sess-001", false)).NoError(t)
	gt.False(t, result.Skipped)
	gt.Equal(t, result.Record.Summary, "added a regression test")
	gt.A(t, result.Record.Semantic).Length(1)

	stored := gt.R1(repo.GetExtraction(ctx, "myapp", "sess-001")).NoError(t)
	gt.Equal(t, stored.Summary, "added a regression test")
	gt.Equal(t, stored.ExtractedAt, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
}

func TestExtractIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-001")

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		return validOutput(fmt.Sprintf("run %d", call)), nil
	}}
	x, _ := newExtractor(t, llm, dir)

	first := gt.R1(x.Extract(ctx, "myapp", "sess-001", false)).NoError(t)
	gt.False(t, first.Skipped)

	second := gt.R1(x.Extract(ctx, "myapp", "sess-001", false)).NoError(t)
	gt.True(t, second.Skipped)
	gt.Equal(t, second.Record.Summary, "run 1")
	gt.Equal(t, llm.callCount(), 1)

	forced := gt.R1(x.Extract(ctx, "myapp", "sess-001", true)).NoError(t)
	gt.False(t, forced.Skipped)
	gt.Equal(t, forced.Record.Summary, "run 2")
}

func TestExtractRepairRetry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-001")

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		if call == 1 {
			return `{"summary": "missing the item arrays"}`, nil
		}
		gt.S(t, in.Prompt).Contains("failed schema validation")
		gt.S(t, in.Prompt).Contains("missing the item arrays")
		return validOutput("repaired"), nil
	}}
	x, _ := newExtractor(t, llm, dir)

	result := gt.R1(x.Extract(ctx, "myapp", "sess-001", false)).NoError(t)
	gt.Equal(t, result.Record.Summary, "repaired")
	gt.Equal(t, llm.callCount(), 2)
}

func TestExtractRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-001")

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		return `{"not": "valid"}`, nil
	}}
	x, repo := newExtractor(t, llm, dir)

	_, err := x.Extract(ctx, "myapp", "sess-001", false)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExtractionFailed))
	gt.Equal(t, llm.callCount(), policy.Default().MaxAttempts)

	_, err = repo.GetExtraction(ctx, "myapp", "sess-001")
	gt.True(t, model.IsNotFound(err))
}

func TestExtractStripsCodeFences(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-001")

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		return "```json\n" + validOutput("fenced") + "\n```", nil
	}}
	x, _ := newExtractor(t, llm, dir)

	result := gt.R1(x.Extract(ctx, "myapp", "sess-001", false)).NoError(t)
	gt.Equal(t, result.Record.Summary, "fenced")
	gt.Equal(t, llm.callCount(), 1)
}

func TestExtractSessionNotFound(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		return validOutput("unreachable"), nil
	}}
	x, _ := newExtractor(t, llm, t.TempDir())

	_, err := x.Extract(ctx, "myapp", "missing", false)
	gt.True(t, model.IsNotFound(err))
	gt.Equal(t, llm.callCount(), 0)
}

func TestExtractAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, id := range []string{"sess-a", "sess-b", "sess-c"} {
		writeSession(t, dir, "myapp", id)
	}

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		if strings.Contains(in.Prompt, "Session: sess-b") {
			return "", errors.New("upstream timeout")
		}
		return validOutput("batch"), nil
	}}
	x, repo := newExtractor(t, llm, dir)

	batch := gt.R1(x.ExtractAll(ctx, "myapp", false)).NoError(t)
	gt.Equal(t, batch.Extracted, []model.SessionID{"sess-a", "sess-c"})
	gt.A(t, batch.Skipped).Length(0)
	gt.Equal(t, len(batch.Failed), 1)
	gt.True(t, errors.Is(batch.Failed["sess-b"], model.ErrExtractionFailed))

	records := gt.R1(repo.ListExtractions(ctx, "myapp")).NoError(t)
	gt.A(t, records).Length(2)
}

func TestExtractAllSkipsExtracted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-a")
	writeSession(t, dir, "myapp", "sess-b")

	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		return validOutput("batch"), nil
	}}
	x, _ := newExtractor(t, llm, dir)

	gt.R1(x.Extract(ctx, "myapp", "sess-a", false)).NoError(t)

	batch := gt.R1(x.ExtractAll(ctx, "myapp", false)).NoError(t)
	gt.Equal(t, batch.Extracted, []model.SessionID{"sess-b"})
	gt.Equal(t, batch.Skipped, []model.SessionID{"sess-a"})
}

func TestExtractAllNoSessions(t *testing.T) {
	ctx := context.Background()
	llm := &mockLLM{handler: func(call int, in *adapter.GenerateInput) (string, error) {
		return validOutput("unreachable"), nil
	}}
	x, _ := newExtractor(t, llm, t.TempDir())

	_, err := x.ExtractAll(ctx, "myapp", false)
	gt.True(t, model.IsNotFound(err))
}
