package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Category identifies one of the five memory item categories. Items are
// never merged across categories.
type Category string

const (
	CategoryEpisodic   Category = "episodic"
	CategorySemantic   Category = "semantic"
	CategoryProcedural Category = "procedural"
	CategoryDecision   Category = "decision"
	CategoryGotcha     Category = "gotcha"
)

// Categories lists all item categories in rendering order.
func Categories() []Category {
	return []Category{
		CategoryEpisodic,
		CategorySemantic,
		CategoryProcedural,
		CategoryDecision,
		CategoryGotcha,
	}
}

// Scope classifies whether an item applies to the project everywhere or
// only to the environment the session ran in. Environment-specific items
// are excluded from consolidation inputs.
type Scope string

const (
	ScopeUniversal   Scope = "universal"
	ScopeEnvironment Scope = "environment_specific"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Validate checks if the severity is valid
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return goerr.New("invalid severity", goerr.V("severity", s))
	}
}

// ConfidenceLevel is the coarse confidence assigned at extraction time.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// EpisodicItem is a concrete incident and how it was resolved.
type EpisodicItem struct {
	Incident   string   `json:"incident"`
	Context    string   `json:"context"`
	Resolution string   `json:"resolution"`
	File       string   `json:"file,omitempty"`
	Severity   Severity `json:"severity"`
	Scope      Scope    `json:"scope"`
}

// SemanticItem is a generalizable fact or rule about the project.
type SemanticItem struct {
	Knowledge  string          `json:"knowledge"`
	Category   string          `json:"category"`
	Confidence ConfidenceLevel `json:"confidence"`
	Scope      Scope           `json:"scope"`
}

// ProceduralItem is a reusable multi-step workflow.
type ProceduralItem struct {
	Workflow string   `json:"workflow"`
	Trigger  string   `json:"trigger,omitempty"`
	Steps    []string `json:"steps"`
	Scope    Scope    `json:"scope"`
}

// DecisionItem is a choice with its justification.
type DecisionItem struct {
	Decision               string   `json:"decision"`
	Rationale              string   `json:"rationale"`
	AlternativesConsidered []string `json:"alternatives_considered,omitempty"`
	Date                   string   `json:"date,omitempty"`
	Scope                  Scope    `json:"scope"`
}

// GotchaItem is a known failure mode and its fix.
type GotchaItem struct {
	Issue    string   `json:"issue"`
	Cause    string   `json:"cause,omitempty"`
	Solution string   `json:"solution,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Scope    Scope    `json:"scope"`
}

// ExtractionRecord is the reflective analysis of one session. Records are
// immutable and keyed by session id; a forced re-extraction supersedes the
// prior record instead of mutating it.
type ExtractionRecord struct {
	SessionID   SessionID        `json:"session_id"`
	Project     string           `json:"project"`
	ExtractedAt time.Time        `json:"extracted_at"`
	Summary     string           `json:"summary"`
	Episodic    []EpisodicItem   `json:"episodic"`
	Semantic    []SemanticItem   `json:"semantic"`
	Procedural  []ProceduralItem `json:"procedural"`
	Decisions   []DecisionItem   `json:"decisions"`
	Gotchas     []GotchaItem     `json:"gotchas"`
}

// ItemCount returns the total number of extracted items across categories.
func (r *ExtractionRecord) ItemCount() int {
	return len(r.Episodic) + len(r.Semantic) + len(r.Procedural) + len(r.Decisions) + len(r.Gotchas)
}
