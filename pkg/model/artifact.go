package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// ArtifactKind identifies the type of a generated artifact.
type ArtifactKind string

const (
	ArtifactInstructions ArtifactKind = "instructions"
	ArtifactSkill        ArtifactKind = "skill"
	ArtifactTask         ArtifactKind = "task"
)

// GeneratedArtifact is one output of the generator. SourceItems carries
// provenance back into ConsolidatedMemory item ids, so every generated
// sentence traces to memory items.
type GeneratedArtifact struct {
	Kind        ArtifactKind `json:"kind"`
	Name        string       `json:"name"`
	Content     string       `json:"content"`
	SourceItems []string     `json:"source_items"`
}

type TaskType string

const (
	TaskFix           TaskType = "fix"
	TaskImprovement   TaskType = "improvement"
	TaskAutomation    TaskType = "automation"
	TaskInvestigation TaskType = "investigation"
)

type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// ActionableTask reframes a recurring gotcha as a root-cause fix.
type ActionableTask struct {
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Type              TaskType     `json:"task_type"`
	Priority          TaskPriority `json:"priority"`
	SourceIssue       string       `json:"source_issue,omitempty"`
	SuggestedApproach string       `json:"suggested_approach,omitempty"`
	Tags              []string     `json:"tags,omitempty"`
	SourceItems       []string     `json:"source_items"`
}

// Validate checks if the task fields are valid
func (t *ActionableTask) Validate() error {
	if t.Title == "" {
		return goerr.New("task title is empty")
	}
	switch t.Type {
	case TaskFix, TaskImprovement, TaskAutomation, TaskInvestigation:
	default:
		return goerr.New("invalid task type", goerr.V("type", t.Type))
	}
	switch t.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return nil
	default:
		return goerr.New("invalid task priority", goerr.V("priority", t.Priority))
	}
}

type ReportID string

// NewReportID generates a new unique ReportID
func NewReportID() ReportID {
	return ReportID(uuid.New().String())
}

type IssueSeverity string

const (
	IssueWarning IssueSeverity = "warning"
	IssueError   IssueSeverity = "error"
)

// VerificationIssue is one problem found while checking generated claims.
type VerificationIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	Suggestion  string        `json:"suggestion,omitempty"`
}

// VerifiedItem records the outcome of testing one claim. StillValid is nil
// when the claim could not be tested.
type VerifiedItem struct {
	Item       string `json:"item"`
	TestMethod string `json:"test_method"`
	StillValid *bool  `json:"still_valid"`
	Note       string `json:"note,omitempty"`
}

// VerificationReport is created fresh per generation run and never mutated.
type VerificationReport struct {
	ID          ReportID            `json:"id"`
	Score       int                 `json:"score"`
	GeneratedAt time.Time           `json:"generated_at"`
	Summary     string              `json:"summary"`
	Issues      []VerificationIssue `json:"issues"`
	ItemsTested []VerifiedItem      `json:"items_tested"`
}
