package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

// payloadLimit caps a single event payload. Tool inputs and results can be
// megabytes; the reflective analysis only needs their shape.
const payloadLimit = 500

// Loader reads session transcripts from a directory laid out as
// <root>/<project>/<session-id>.jsonl, one JSON object per line.
type Loader struct {
	root string
}

// New creates a Loader over the given sessions directory.
func New(sessionsDir string) *Loader {
	return &Loader{root: sessionsDir}
}

func (l *Loader) sessionPath(project string, id model.SessionID) string {
	return filepath.Join(l.root, project, string(id)+".jsonl")
}

// ListSessions returns the session ids recorded for a project, sorted.
func (l *Loader) ListSessions(ctx context.Context, project string) ([]model.SessionID, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, project))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "project has no session directory",
				goerr.V("project", project))
		}
		return nil, goerr.Wrap(err, "failed to list sessions", goerr.V("project", project))
	}

	var ids []model.SessionID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, model.SessionID(strings.TrimSuffix(name, ".jsonl")))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Load parses one session transcript into a SessionTrace. Parsing is lenient
// line by line; a corrupt line is skipped. A transcript that yields no events
// at all is malformed.
func (l *Loader) Load(ctx context.Context, project string, id model.SessionID) (*model.SessionTrace, error) {
	path := l.sessionPath(project, id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "session transcript does not exist",
				goerr.V("project", project), goerr.V("session_id", id))
		}
		return nil, goerr.Wrap(err, "failed to open session transcript", goerr.V("path", path))
	}
	defer f.Close()

	var events []model.TraceEvent
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			skipped++
			continue
		}
		events = append(events, raw.events()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read session transcript", goerr.V("path", path))
	}

	if skipped > 0 {
		logging.From(ctx).Warn("skipped unparsable transcript lines",
			"session_id", id, "skipped", skipped)
	}
	if len(events) == 0 {
		return nil, goerr.Wrap(model.ErrMalformed, "transcript produced no events",
			goerr.V("project", project), goerr.V("session_id", id))
	}

	return &model.SessionTrace{
		SessionID: id,
		Project:   project,
		Events:    events,
		Outcome:   inferOutcome(events),
	}, nil
}

// inferOutcome derives the terminal state from the tail of the event log: a
// trailing error means failure, a trailing agent response means success,
// anything else is partial.
func inferOutcome(events []model.TraceEvent) model.Outcome {
	last := events[len(events)-1]
	switch {
	case last.Kind == model.EventError:
		return model.OutcomeFailure
	case last.Kind == model.EventPrompt && last.Actor == model.ActorAgent:
		return model.OutcomeSuccess
	default:
		return model.OutcomePartial
	}
}

type rawLine struct {
	Type      string     `json:"type"`
	IsMeta    bool       `json:"isMeta"`
	Timestamp time.Time  `json:"timestamp"`
	Message   rawMessage `json:"message"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error"`
}

// events converts one transcript line into zero or more trace events.
func (l *rawLine) events() []model.TraceEvent {
	if l.IsMeta {
		return nil
	}

	var actor model.Actor
	switch l.Type {
	case "user":
		actor = model.ActorUser
	case "assistant":
		actor = model.ActorAgent
	default:
		return nil
	}

	// content is either a plain string or a list of typed blocks
	var text string
	if err := json.Unmarshal(l.Message.Content, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []model.TraceEvent{{
			Actor:     actor,
			Kind:      model.EventPrompt,
			Payload:   truncate(text),
			Timestamp: l.Timestamp,
		}}
	}

	var blocks []rawBlock
	if err := json.Unmarshal(l.Message.Content, &blocks); err != nil {
		return nil
	}

	var events []model.TraceEvent
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			events = append(events, model.TraceEvent{
				Actor:     actor,
				Kind:      model.EventPrompt,
				Payload:   truncate(block.Text),
				Timestamp: l.Timestamp,
			})

		case "tool_use":
			name := block.Name
			if name == "" {
				name = "tool"
			}
			events = append(events, model.TraceEvent{
				Actor:     model.ActorAgent,
				Kind:      model.EventToolCall,
				Payload:   name + " " + truncate(string(block.Input)),
				Timestamp: l.Timestamp,
			})

		case "tool_result":
			kind := model.EventToolResult
			if block.IsError {
				kind = model.EventError
			}
			events = append(events, model.TraceEvent{
				Actor:     actor,
				Kind:      kind,
				Payload:   truncate(blockResultText(block.Content)),
				Timestamp: l.Timestamp,
			})
		}
	}
	return events
}

// blockResultText extracts text from a tool_result content field, which may
// be a plain string or a nested block list.
func blockResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var parts []string
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func truncate(s string) string {
	if len(s) <= payloadLimit {
		return s
	}
	return s[:payloadLimit] + "..."
}

// Render formats a trace as the plain-text execution log fed to the
// reflective analysis prompt. maxChars bounds the total size; zero means
// unlimited.
func Render(t *model.SessionTrace, maxChars int) string {
	var b strings.Builder
	for _, ev := range t.Events {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", eventLabel(ev), ev.Payload)
	}
	fmt.Fprintf(&b, "=== OUTCOME ===\n%s", t.Outcome)

	rendered := b.String()
	if maxChars > 0 && len(rendered) > maxChars {
		rendered = rendered[:maxChars] + "\n\n[... trace truncated ...]"
	}
	return rendered
}

func eventLabel(ev model.TraceEvent) string {
	switch ev.Kind {
	case model.EventToolCall:
		return "TOOL CALL"
	case model.EventToolResult:
		return "TOOL RESULT"
	case model.EventError:
		return "ERROR"
	default:
		if ev.Actor == model.ActorUser {
			return "USER"
		}
		return "ASSISTANT"
	}
}
