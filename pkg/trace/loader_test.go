package trace_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/trace"
)

func writeSession(t *testing.T, dir, project, id string, lines []string) {
	t.Helper()
	projectDir := filepath.Join(dir, project)
	gt.NoError(t, os.MkdirAll(projectDir, 0755))
	content := strings.Join(lines, "\n") + "\n"
	gt.NoError(t, os.WriteFile(filepath.Join(projectDir, id+".jsonl"), []byte(content), 0644))
}

func TestLoadSession(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-001", []string{
		`{"type":"user","timestamp":"2026-03-01T12:00:00Z","message":{"role":"user","content":"fix the failing test"}}`,
		`{"type":"assistant","timestamp":"2026-03-01T12:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"Looking at it."},{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`,
		`{"type":"user","timestamp":"2026-03-01T12:00:10Z","message":{"role":"user","content":[{"type":"tool_result","content":"FAIL: TestFoo"}]}}`,
		`{"type":"assistant","timestamp":"2026-03-01T12:00:20Z","message":{"role":"assistant","content":[{"type":"text","text":"Fixed the assertion, tests pass now."}]}}`,
	})

	loader := trace.New(dir)
	got := gt.R1(loader.Load(context.Background(), "myapp", "sess-001")).NoError(t)

	gt.Equal(t, got.SessionID, model.SessionID("sess-001"))
	gt.Equal(t, got.Project, "myapp")
	gt.A(t, got.Events).Length(5)

	gt.Equal(t, got.Events[0].Actor, model.ActorUser)
	gt.Equal(t, got.Events[0].Kind, model.EventPrompt)
	gt.Equal(t, got.Events[0].Payload, "fix the failing test")

	gt.Equal(t, got.Events[2].Kind, model.EventToolCall)
	gt.S(t, got.Events[2].Payload).Contains("Bash")
	gt.S(t, got.Events[2].Payload).Contains("go test")

	gt.Equal(t, got.Events[3].Kind, model.EventToolResult)
	gt.Equal(t, got.Outcome, model.OutcomeSuccess)
}

func TestLoadOutcomeFailure(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-002", []string{
		`{"type":"user","timestamp":"2026-03-01T12:00:00Z","message":{"content":"deploy it"}}`,
		`{"type":"user","timestamp":"2026-03-01T12:00:10Z","message":{"content":[{"type":"tool_result","is_error":true,"content":"permission denied"}]}}`,
	})

	loader := trace.New(dir)
	got := gt.R1(loader.Load(context.Background(), "myapp", "sess-002")).NoError(t)
	gt.Equal(t, got.Outcome, model.OutcomeFailure)
	gt.Equal(t, got.Events[len(got.Events)-1].Kind, model.EventError)
}

func TestLoadOutcomePartial(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-003", []string{
		`{"type":"user","timestamp":"2026-03-01T12:00:00Z","message":{"content":"start the refactor"}}`,
		`{"type":"user","timestamp":"2026-03-01T12:01:00Z","message":{"content":[{"type":"tool_result","content":"ok"}]}}`,
	})

	loader := trace.New(dir)
	got := gt.R1(loader.Load(context.Background(), "myapp", "sess-003")).NoError(t)
	gt.Equal(t, got.Outcome, model.OutcomePartial)
}

func TestLoadLenientParsing(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-004", []string{
		`{"type":"user","timestamp":"2026-03-01T12:00:00Z","message":{"content":"hello"}}`,
		`{broken json line`,
		`{"isMeta":true,"type":"user","message":{"content":"meta noise"}}`,
		`{"type":"assistant","timestamp":"2026-03-01T12:00:05Z","message":{"content":[{"type":"text","text":"done"}]}}`,
	})

	loader := trace.New(dir)
	got := gt.R1(loader.Load(context.Background(), "myapp", "sess-004")).NoError(t)
	gt.A(t, got.Events).Length(2)
}

func TestLoadNotFound(t *testing.T) {
	loader := trace.New(t.TempDir())
	_, err := loader.Load(context.Background(), "myapp", "missing")
	gt.Error(t, err)
	gt.True(t, model.IsNotFound(err))
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-005", []string{
		`not json at all`,
		`also not json`,
	})

	loader := trace.New(dir)
	_, err := loader.Load(context.Background(), "myapp", "sess-005")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrMalformed))
}

func TestPayloadTruncation(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("x", 2000)
	writeSession(t, dir, "myapp", "sess-006", []string{
		`{"type":"user","timestamp":"2026-03-01T12:00:00Z","message":{"content":"` + long + `"}}`,
	})

	loader := trace.New(dir)
	got := gt.R1(loader.Load(context.Background(), "myapp", "sess-006")).NoError(t)
	gt.True(t, len(got.Events[0].Payload) < 600)
	gt.S(t, got.Events[0].Payload).Contains("...")
}

func TestListSessions(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "myapp", "sess-b", []string{`{"type":"user","message":{"content":"b"}}`})
	writeSession(t, dir, "myapp", "sess-a", []string{`{"type":"user","message":{"content":"a"}}`})

	loader := trace.New(dir)
	ids := gt.R1(loader.ListSessions(context.Background(), "myapp")).NoError(t)
	gt.Equal(t, ids, []model.SessionID{"sess-a", "sess-b"})

	_, err := loader.ListSessions(context.Background(), "nope")
	gt.True(t, model.IsNotFound(err))
}

func TestRender(t *testing.T) {
	sessionTrace := &model.SessionTrace{
		SessionID: "sess-007",
		Project:   "myapp",
		Outcome:   model.OutcomeSuccess,
		Events: []model.TraceEvent{
			{Actor: model.ActorUser, Kind: model.EventPrompt, Payload: "run the linter"},
			{Actor: model.ActorAgent, Kind: model.EventToolCall, Payload: "Bash {\"command\":\"lint\"}"},
			{Actor: model.ActorAgent, Kind: model.EventPrompt, Payload: "clean"},
		},
	}

	rendered := trace.Render(sessionTrace, 0)
	gt.S(t, rendered).
		Contains("=== USER ===").
		Contains("=== TOOL CALL ===").
		Contains("=== ASSISTANT ===").
		Contains("=== OUTCOME ===\nsuccess")

	capped := trace.Render(sessionTrace, 40)
	gt.S(t, capped).Contains("[... trace truncated ...]")
	gt.True(t, len(capped) < len(rendered)+40)
}
