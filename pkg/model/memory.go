package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// NewItemID derives a stable identifier from an item's category and
// canonical text. Deterministic so that consolidating the same inputs in
// any order yields the same ids.
func NewItemID(category Category, text string) string {
	sum := sha256.Sum256([]byte(string(category) + "\x00" + text))
	return hex.EncodeToString(sum[:])[:12]
}

// Provenance tracks where a consolidated item came from and how much it is
// trusted. Sessions is append-only across consolidation runs; the invariant
// Occurrences == len(Sessions) must hold after every run.
type Provenance struct {
	ID              string      `json:"id"`
	Occurrences     int         `json:"occurrences"`
	Sessions        []SessionID `json:"sessions"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
	Confidence      float64     `json:"confidence"`
	ConflictGroupID string      `json:"conflict_group_id,omitempty"`
}

// Prov exposes the embedded provenance, so code generic over memory item
// types can reach it through one interface.
func (p *Provenance) Prov() *Provenance { return p }

// DecisionStatus marks whether a decision is the active one in its
// conflict group.
type DecisionStatus string

const (
	DecisionActive     DecisionStatus = "active"
	DecisionSuperseded DecisionStatus = "superseded"
)

// EpisodicMemory is the canonical representative of one or more matching
// episodic items.
type EpisodicMemory struct {
	Provenance
	Incident   string   `json:"incident"`
	Context    string   `json:"context,omitempty"`
	Resolution string   `json:"resolution"`
	File       string   `json:"file,omitempty"`
	Severity   Severity `json:"severity"`
}

type SemanticMemory struct {
	Provenance
	Knowledge string `json:"knowledge"`
	Category  string `json:"category"`
}

type ProceduralMemory struct {
	Provenance
	Workflow string   `json:"workflow"`
	Trigger  string   `json:"trigger,omitempty"`
	Steps    []string `json:"steps"`
}

type DecisionMemory struct {
	Provenance
	Decision               string         `json:"decision"`
	Rationale              string         `json:"rationale"`
	AlternativesConsidered []string       `json:"alternatives_considered,omitempty"`
	Date                   string         `json:"date,omitempty"`
	Status                 DecisionStatus `json:"status"`
}

type GotchaMemory struct {
	Provenance
	Issue    string   `json:"issue"`
	Cause    string   `json:"cause,omitempty"`
	Solution string   `json:"solution,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ConsolidatedMemory is the per-project aggregate of memory items. It is an
// immutable snapshot: every consolidation run produces a new value with an
// incremented version, never an in-place mutation.
type ConsolidatedMemory struct {
	Project          string              `json:"project"`
	Version          int                 `json:"version"`
	GeneratedAt      time.Time           `json:"generated_at"`
	SessionsAnalyzed int                 `json:"sessions_analyzed"`
	Episodic         []*EpisodicMemory   `json:"episodic"`
	Semantic         []*SemanticMemory   `json:"semantic"`
	Procedural       []*ProceduralMemory `json:"procedural"`
	Decisions        []*DecisionMemory   `json:"decisions"`
	Gotchas          []*GotchaMemory     `json:"gotchas"`
}

// ItemView is a category-agnostic projection of a memory item, used by the
// query engine and generated artifact provenance.
type ItemView struct {
	Category    Category
	ID          string
	Text        string
	Detail      string
	Occurrences int
	Confidence  float64
	Sessions    []SessionID
}

// Items flattens all memory items into views, preserving category order.
func (m *ConsolidatedMemory) Items() []ItemView {
	if m == nil {
		return nil
	}
	var views []ItemView
	for _, it := range m.Episodic {
		views = append(views, ItemView{
			Category:    CategoryEpisodic,
			ID:          it.ID,
			Text:        it.Incident,
			Detail:      it.Context + " " + it.Resolution,
			Occurrences: it.Occurrences,
			Confidence:  it.Confidence,
			Sessions:    it.Sessions,
		})
	}
	for _, it := range m.Semantic {
		views = append(views, ItemView{
			Category:    CategorySemantic,
			ID:          it.ID,
			Text:        it.Knowledge,
			Detail:      it.Category,
			Occurrences: it.Occurrences,
			Confidence:  it.Confidence,
			Sessions:    it.Sessions,
		})
	}
	for _, it := range m.Procedural {
		views = append(views, ItemView{
			Category:    CategoryProcedural,
			ID:          it.ID,
			Text:        it.Workflow,
			Detail:      it.Trigger,
			Occurrences: it.Occurrences,
			Confidence:  it.Confidence,
			Sessions:    it.Sessions,
		})
	}
	for _, it := range m.Decisions {
		views = append(views, ItemView{
			Category:    CategoryDecision,
			ID:          it.ID,
			Text:        it.Decision,
			Detail:      it.Rationale,
			Occurrences: it.Occurrences,
			Confidence:  it.Confidence,
			Sessions:    it.Sessions,
		})
	}
	for _, it := range m.Gotchas {
		views = append(views, ItemView{
			Category:    CategoryGotcha,
			ID:          it.ID,
			Text:        it.Issue,
			Detail:      it.Cause + " " + it.Solution,
			Occurrences: it.Occurrences,
			Confidence:  it.Confidence,
			Sessions:    it.Sessions,
		})
	}
	return views
}

// ConfidenceLabel maps a numeric confidence to the coarse level used in
// rendered documents.
func ConfidenceLabel(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= 0.7:
		return ConfidenceHigh
	case confidence >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
