// Package consolidate merges a project's extraction records into one
// consolidated memory snapshot: near-duplicate items collapse into canonical
// representatives, provenance accumulates across runs, contradictory
// decisions are flagged instead of resolved, and confidence decays for items
// no recent session reinforces.
package consolidate

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/similarity"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

type Consolidator struct {
	repo     repository.Repository
	policy   *policy.Policy
	strategy similarity.Strategy
	now      func() time.Time
}

type Option func(*Consolidator)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Consolidator) { c.now = now }
}

func New(repo repository.Repository, pol *policy.Policy, opts ...Option) (*Consolidator, error) {
	strategy, err := similarity.New(pol.Strategy)
	if err != nil {
		return nil, err
	}

	c := &Consolidator{
		repo:     repo,
		policy:   pol,
		strategy: strategy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Consolidate rebuilds the project's memory from all its extraction records,
// reconciled against the previous snapshot. Single writer per project: the
// call fails with ErrLocked while another run is in flight.
func (c *Consolidator) Consolidate(ctx context.Context, project string) (*model.ConsolidatedMemory, error) {
	unlock, err := c.repo.Lock(ctx, project)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			logging.From(ctx).Warn("failed to release consolidation lock",
				"project", project, "error", uerr)
		}
	}()

	records, err := c.repo.ListExtractions(ctx, project)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, goerr.Wrap(model.ErrNoExtractions, "nothing to consolidate",
			goerr.V("project", project))
	}

	previous, err := c.repo.GetMemory(ctx, project)
	if err != nil && !model.IsNotFound(err) {
		return nil, err
	}

	memory := c.build(project, records, previous)
	if err := c.repo.PutMemory(ctx, memory); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("consolidated project memory",
		"project", project,
		"version", memory.Version,
		"sessions", memory.SessionsAnalyzed,
		"episodic", len(memory.Episodic),
		"semantic", len(memory.Semantic),
		"procedural", len(memory.Procedural),
		"decisions", len(memory.Decisions),
		"gotchas", len(memory.Gotchas))
	return memory, nil
}

// build is the pure consolidation step, separated from locking and
// persistence so tests can drive it directly.
func (c *Consolidator) build(project string, records []*model.ExtractionRecord, previous *model.ConsolidatedMemory) *model.ConsolidatedMemory {
	now := c.now().UTC()
	threshold := c.policy.SimilarityThreshold

	memory := &model.ConsolidatedMemory{
		Project:     project,
		Version:     1,
		GeneratedAt: now,
	}
	var prevEpisodic []*model.EpisodicMemory
	var prevSemantic []*model.SemanticMemory
	var prevProcedural []*model.ProceduralMemory
	var prevDecisions []*model.DecisionMemory
	var prevGotchas []*model.GotchaMemory
	if previous != nil {
		memory.Version = previous.Version + 1
		prevEpisodic = previous.Episodic
		prevSemantic = previous.Semantic
		prevProcedural = previous.Procedural
		prevDecisions = previous.Decisions
		prevGotchas = previous.Gotchas
	}

	memory.Episodic = c.buildEpisodic(records, prevEpisodic)
	memory.Semantic = c.buildSemantic(records, prevSemantic)
	memory.Procedural = c.buildProcedural(records, prevProcedural)
	memory.Decisions = c.buildDecisions(records, prevDecisions)
	memory.Gotchas = c.buildGotchas(records, prevGotchas)

	sessions := make(map[model.SessionID]bool)
	for _, r := range records {
		sessions[r.SessionID] = true
	}
	for _, view := range memory.Items() {
		for _, id := range view.Sessions {
			sessions[id] = true
		}
	}
	memory.SessionsAnalyzed = len(sessions)

	c.applyConfidence(memory, now)
	markConflicts(memory.Decisions, c.strategy, threshold)
	return memory
}

// applyConfidence recomputes every item's confidence from its reinforcement
// count and the time since it was last seen. Monotonic in both: more
// sessions raise it, staleness lowers it, always within [0, 1].
func (c *Consolidator) applyConfidence(memory *model.ConsolidatedMemory, now time.Time) {
	update := func(p *model.Provenance) {
		base := float64(p.Occurrences) / float64(p.Occurrences+1)
		age := now.Sub(p.LastSeen).Hours() / 24
		if age < 0 {
			age = 0
		}
		p.Confidence = base * math.Pow(0.5, age/c.policy.DecayHalfLifeDays)
	}

	for _, it := range memory.Episodic {
		update(it.Prov())
	}
	for _, it := range memory.Semantic {
		update(it.Prov())
	}
	for _, it := range memory.Procedural {
		update(it.Prov())
	}
	for _, it := range memory.Decisions {
		update(it.Prov())
	}
	for _, it := range memory.Gotchas {
		update(it.Prov())
	}
}

func (c *Consolidator) buildEpisodic(records []*model.ExtractionRecord, prev []*model.EpisodicMemory) []*model.EpisodicMemory {
	var cands []candidate[model.EpisodicItem]
	for _, r := range records {
		for _, it := range r.Episodic {
			if it.Scope == model.ScopeEnvironment {
				continue
			}
			cands = append(cands, candidate[model.EpisodicItem]{
				item: it, key: it.Incident, session: r.SessionID, seen: r.ExtractedAt,
			})
		}
	}

	var items []*model.EpisodicMemory
	for _, cl := range clusterCandidates(cands, c.strategy, c.policy.SimilarityThreshold) {
		canon := canonicalMember(cl, func(it model.EpisodicItem) int {
			return len(it.Incident) + len(it.Context) + len(it.Resolution)
		}, func(it model.EpisodicItem) string { return it.Incident })

		severity := canon.Severity
		for _, m := range cl.members {
			if severityRank[m.item.Severity] > severityRank[severity] {
				severity = m.item.Severity
			}
		}

		items = append(items, &model.EpisodicMemory{
			Provenance: provenanceOf(model.CategoryEpisodic, canon.Incident, cl),
			Incident:   canon.Incident,
			Context:    canon.Context,
			Resolution: canon.Resolution,
			File:       canon.File,
			Severity:   severity,
		})
	}

	return reconcile(items, prev, func(m *model.EpisodicMemory) string { return m.Incident },
		c.strategy, c.policy.SimilarityThreshold)
}

func (c *Consolidator) buildSemantic(records []*model.ExtractionRecord, prev []*model.SemanticMemory) []*model.SemanticMemory {
	var cands []candidate[model.SemanticItem]
	for _, r := range records {
		for _, it := range r.Semantic {
			if it.Scope == model.ScopeEnvironment {
				continue
			}
			cands = append(cands, candidate[model.SemanticItem]{
				item: it, key: it.Knowledge, session: r.SessionID, seen: r.ExtractedAt,
			})
		}
	}

	var items []*model.SemanticMemory
	for _, cl := range clusterCandidates(cands, c.strategy, c.policy.SimilarityThreshold) {
		canon := canonicalMember(cl, func(it model.SemanticItem) int {
			return len(it.Knowledge)
		}, func(it model.SemanticItem) string { return it.Knowledge })

		items = append(items, &model.SemanticMemory{
			Provenance: provenanceOf(model.CategorySemantic, canon.Knowledge, cl),
			Knowledge:  canon.Knowledge,
			Category:   canon.Category,
		})
	}

	return reconcile(items, prev, func(m *model.SemanticMemory) string { return m.Knowledge },
		c.strategy, c.policy.SimilarityThreshold)
}

func (c *Consolidator) buildProcedural(records []*model.ExtractionRecord, prev []*model.ProceduralMemory) []*model.ProceduralMemory {
	var cands []candidate[model.ProceduralItem]
	for _, r := range records {
		for _, it := range r.Procedural {
			if it.Scope == model.ScopeEnvironment {
				continue
			}
			cands = append(cands, candidate[model.ProceduralItem]{
				item: it, key: it.Workflow, session: r.SessionID, seen: r.ExtractedAt,
			})
		}
	}

	var items []*model.ProceduralMemory
	for _, cl := range clusterCandidates(cands, c.strategy, c.policy.SimilarityThreshold) {
		// the most detailed step list wins
		canon := canonicalMember(cl, func(it model.ProceduralItem) int {
			total := len(it.Steps) * 1000
			for _, s := range it.Steps {
				total += len(s)
			}
			return total
		}, func(it model.ProceduralItem) string { return it.Workflow })

		items = append(items, &model.ProceduralMemory{
			Provenance: provenanceOf(model.CategoryProcedural, canon.Workflow, cl),
			Workflow:   canon.Workflow,
			Trigger:    canon.Trigger,
			Steps:      canon.Steps,
		})
	}

	return reconcile(items, prev, func(m *model.ProceduralMemory) string { return m.Workflow },
		c.strategy, c.policy.SimilarityThreshold)
}

func (c *Consolidator) buildDecisions(records []*model.ExtractionRecord, prev []*model.DecisionMemory) []*model.DecisionMemory {
	var cands []candidate[model.DecisionItem]
	for _, r := range records {
		for _, it := range r.Decisions {
			if it.Scope == model.ScopeEnvironment {
				continue
			}
			// rationale is part of the fingerprint: same subject with a
			// different justification must stay separate for conflict
			// detection
			cands = append(cands, candidate[model.DecisionItem]{
				item: it, key: it.Decision + " " + it.Rationale, session: r.SessionID, seen: r.ExtractedAt,
			})
		}
	}

	var items []*model.DecisionMemory
	for _, cl := range clusterCandidates(cands, c.strategy, c.policy.SimilarityThreshold) {
		canon := canonicalMember(cl, func(it model.DecisionItem) int {
			return len(it.Decision) + len(it.Rationale)
		}, func(it model.DecisionItem) string { return it.Decision })

		items = append(items, &model.DecisionMemory{
			Provenance:             provenanceOf(model.CategoryDecision, canon.Decision+" "+canon.Rationale, cl),
			Decision:               canon.Decision,
			Rationale:              canon.Rationale,
			AlternativesConsidered: canon.AlternativesConsidered,
			Date:                   canon.Date,
			Status:                 model.DecisionActive,
		})
	}

	return reconcile(items, prev, func(m *model.DecisionMemory) string { return m.Decision + " " + m.Rationale },
		c.strategy, c.policy.SimilarityThreshold)
}

func (c *Consolidator) buildGotchas(records []*model.ExtractionRecord, prev []*model.GotchaMemory) []*model.GotchaMemory {
	var cands []candidate[model.GotchaItem]
	for _, r := range records {
		for _, it := range r.Gotchas {
			if it.Scope == model.ScopeEnvironment {
				continue
			}
			cands = append(cands, candidate[model.GotchaItem]{
				item: it, key: it.Issue, session: r.SessionID, seen: r.ExtractedAt,
			})
		}
	}

	var items []*model.GotchaMemory
	for _, cl := range clusterCandidates(cands, c.strategy, c.policy.SimilarityThreshold) {
		canon := canonicalMember(cl, func(it model.GotchaItem) int {
			return len(it.Issue) + len(it.Cause) + len(it.Solution)
		}, func(it model.GotchaItem) string { return it.Issue })

		tags := make(map[string]bool)
		for _, m := range cl.members {
			for _, tag := range m.item.Tags {
				tags[strings.ToLower(tag)] = true
			}
		}

		items = append(items, &model.GotchaMemory{
			Provenance: provenanceOf(model.CategoryGotcha, canon.Issue, cl),
			Issue:      canon.Issue,
			Cause:      canon.Cause,
			Solution:   canon.Solution,
			Tags:       sortedTags(tags),
		})
	}

	return reconcile(items, prev, func(m *model.GotchaMemory) string { return m.Issue },
		c.strategy, c.policy.SimilarityThreshold)
}

// canonicalMember picks a cluster's most complete member as its canonical
// representation, breaking ties lexicographically so any input order yields
// the same choice.
func canonicalMember[T any](cl *cluster[T], completeness func(T) int, tiebreak func(T) string) T {
	best := cl.members[0].item
	for _, m := range cl.members[1:] {
		cand := m.item
		switch {
		case completeness(cand) > completeness(best):
			best = cand
		case completeness(cand) == completeness(best) && tiebreak(cand) < tiebreak(best):
			best = cand
		}
	}
	return best
}

func sortedTags(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

var severityRank = map[model.Severity]int{
	model.SeverityInfo:     0,
	model.SeverityWarning:  1,
	model.SeverityError:    2,
	model.SeverityCritical: 3,
}
