package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type SessionID string

// Actor identifies who produced a trace event.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// EventKind classifies a single trace event.
type EventKind string

const (
	EventPrompt     EventKind = "prompt"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
)

// Outcome is the terminal state of a session.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Validate checks if the outcome is valid
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return nil
	default:
		return goerr.New("invalid outcome", goerr.V("outcome", o))
	}
}

// TraceEvent is one entry of a session's ordered event log.
type TraceEvent struct {
	Actor     Actor     `json:"actor"`
	Kind      EventKind `json:"kind"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionTrace is the structured rendering of one session transcript.
// Immutable once loaded.
type SessionTrace struct {
	SessionID SessionID    `json:"session_id"`
	Project   string       `json:"project"`
	Events    []TraceEvent `json:"events"`
	Outcome   Outcome      `json:"outcome"`
}
