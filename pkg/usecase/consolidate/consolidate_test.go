package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
)

var testNow = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newConsolidator(t *testing.T, repo repository.Repository) *Consolidator {
	t.Helper()
	c := gt.R1(New(repo, policy.Default(), WithClock(func() time.Time { return testNow }))).NoError(t)
	return c
}

func record(session string, day int) *model.ExtractionRecord {
	return &model.ExtractionRecord{
		SessionID:   model.SessionID(session),
		Project:     "myapp",
		ExtractedAt: time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC),
	}
}

func TestMergesRewordedGotchas(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Gotchas = []model.GotchaItem{{
		Issue: "migration tests fail when run against the shared database",
		Cause: "tests assume exclusive schema access",
		Tags:  []string{"testing"},
		Scope: model.ScopeUniversal,
	}}
	r2 := record("sess-2", 2)
	r2.Gotchas = []model.GotchaItem{{
		Issue:    "running migration tests against shared database causes failures",
		Solution: "use a per-test schema",
		Tags:     []string{"database"},
		Scope:    model.ScopeUniversal,
	}}
	r3 := record("sess-3", 3)
	r3.Gotchas = []model.GotchaItem{{
		Issue: "shared database breaks the migration tests",
		Scope: model.ScopeUniversal,
	}}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1, r2, r3}, nil)

	gt.A(t, memory.Gotchas).Length(1)
	gotcha := memory.Gotchas[0]
	gt.Equal(t, gotcha.Occurrences, 3)
	gt.Equal(t, gotcha.Sessions, []model.SessionID{"sess-1", "sess-2", "sess-3"})
	gt.Equal(t, gotcha.Tags, []string{"database", "testing"})
	gt.Equal(t, gotcha.FirstSeen, r1.ExtractedAt)
	gt.Equal(t, gotcha.LastSeen, r3.ExtractedAt)
}

func TestDistinctItemsStaySeparate(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Semantic = []model.SemanticItem{
		{Knowledge: "http handlers live under internal/server", Category: "architecture", Confidence: model.ConfidenceHigh, Scope: model.ScopeUniversal},
		{Knowledge: "configuration loads from environment variables via envconfig", Category: "conventions", Confidence: model.ConfidenceHigh, Scope: model.ScopeUniversal},
	}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1}, nil)
	gt.A(t, memory.Semantic).Length(2)
}

func TestOrderIndependence(t *testing.T) {
	make3 := func() []*model.ExtractionRecord {
		r1 := record("sess-1", 1)
		r1.Gotchas = []model.GotchaItem{{Issue: "docker build fails without buildkit enabled", Scope: model.ScopeUniversal}}
		r1.Semantic = []model.SemanticItem{{Knowledge: "linting runs through golangci-lint in ci", Category: "testing", Confidence: model.ConfidenceHigh, Scope: model.ScopeUniversal}}
		r2 := record("sess-2", 2)
		r2.Gotchas = []model.GotchaItem{{Issue: "docker build fails unless buildkit is enabled", Scope: model.ScopeUniversal}}
		r2.Decisions = []model.DecisionItem{{Decision: "use postgres for persistence", Rationale: "team familiarity and transactional guarantees", Scope: model.ScopeUniversal}}
		r3 := record("sess-3", 3)
		r3.Gotchas = []model.GotchaItem{{Issue: "enabling buildkit fixes docker build failures", Scope: model.ScopeUniversal}}
		r3.Procedural = []model.ProceduralItem{{Workflow: "release a new version", Steps: []string{"tag", "push", "wait for ci"}, Scope: model.ScopeUniversal}}
		return []*model.ExtractionRecord{r1, r2, r3}
	}

	c := newConsolidator(t, repository.NewMemory())

	perms := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}}
	var baseline []byte
	for _, perm := range perms {
		records := make3()
		ordered := make([]*model.ExtractionRecord, len(perm))
		for i, p := range perm {
			ordered[i] = records[p]
		}
		memory := c.build("myapp", ordered, nil)
		data := gt.R1(json.Marshal(memory)).NoError(t)
		if baseline == nil {
			baseline = data
			continue
		}
		gt.Equal(t, string(data), string(baseline))
	}
}

func TestOccurrencesMatchSessions(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Episodic = []model.EpisodicItem{{
		Incident: "panic on nil pointer in cache warmup", Context: "startup",
		Resolution: "guard added", Severity: model.SeverityError, Scope: model.ScopeUniversal,
	}}
	r2 := record("sess-2", 2)
	r2.Episodic = []model.EpisodicItem{{
		Incident: "nil pointer panic during cache warmup at startup", Context: "boot",
		Resolution: "nil guard", Severity: model.SeverityCritical, Scope: model.ScopeUniversal,
	}}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1, r2}, nil)

	for _, view := range memory.Items() {
		gt.Equal(t, view.Occurrences, len(view.Sessions))
	}
	gt.A(t, memory.Episodic).Length(1)
	gt.Equal(t, memory.Episodic[0].Severity, model.SeverityCritical)
}

func TestConflictingDecisions(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Decisions = []model.DecisionItem{{
		Decision:  "store auth tokens in the system keychain",
		Rationale: "avoids plaintext secrets on disk",
		Scope:     model.ScopeUniversal,
	}}
	r2 := record("sess-2", 5)
	r2.Decisions = []model.DecisionItem{{
		Decision:  "store auth tokens in an encrypted file",
		Rationale: "keychain access breaks headless ci environments",
		Scope:     model.ScopeUniversal,
	}}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1, r2}, nil)

	gt.A(t, memory.Decisions).Length(2)
	a, b := memory.Decisions[0], memory.Decisions[1]
	gt.NotEqual(t, a.ConflictGroupID, "")
	gt.Equal(t, a.ConflictGroupID, b.ConflictGroupID)

	var active, superseded *model.DecisionMemory
	for _, d := range memory.Decisions {
		if d.Status == model.DecisionActive {
			active = d
		} else {
			superseded = d
		}
	}
	gt.NotNil(t, active)
	gt.NotNil(t, superseded)
	gt.S(t, active.Decision).Contains("encrypted file")
}

func TestUnrelatedDecisionsDoNotConflict(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Decisions = []model.DecisionItem{
		{Decision: "use cobra for the command line interface", Rationale: "subcommand support", Scope: model.ScopeUniversal},
		{Decision: "persist snapshots as versioned json documents", Rationale: "human inspectable", Scope: model.ScopeUniversal},
	}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1}, nil)

	gt.A(t, memory.Decisions).Length(2)
	for _, d := range memory.Decisions {
		gt.Equal(t, d.ConflictGroupID, "")
		gt.Equal(t, d.Status, model.DecisionActive)
	}
}

func TestConfidenceDecay(t *testing.T) {
	records := []*model.ExtractionRecord{record("sess-1", 1)}
	records[0].Gotchas = []model.GotchaItem{{Issue: "stale cache entries survive config reload", Scope: model.ScopeUniversal}}

	repo := repository.NewMemory()
	early := gt.R1(New(repo, policy.Default(), WithClock(func() time.Time { return testNow }))).NoError(t)
	late := gt.R1(New(repo, policy.Default(), WithClock(func() time.Time { return testNow.AddDate(0, 0, 90) }))).NoError(t)

	first := early.build("myapp", records, nil)
	second := late.build("myapp", records, first)

	gt.A(t, second.Gotchas).Length(1)
	gt.Number(t, second.Gotchas[0].Confidence).Less(first.Gotchas[0].Confidence)
	gt.Number(t, second.Gotchas[0].Confidence).Greater(0.0)
}

func TestReinforcementRaisesConfidence(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Gotchas = []model.GotchaItem{{Issue: "flag parsing silently ignores unknown flags", Scope: model.ScopeUniversal}}
	r2 := record("sess-2", 9)
	r2.Gotchas = []model.GotchaItem{{Issue: "unknown flags are silently ignored by flag parsing", Scope: model.ScopeUniversal}}

	c := newConsolidator(t, repository.NewMemory())
	solo := c.build("myapp", []*model.ExtractionRecord{r1}, nil)
	reinforced := c.build("myapp", []*model.ExtractionRecord{r1, r2}, nil)

	gt.Number(t, reinforced.Gotchas[0].Confidence).Greater(solo.Gotchas[0].Confidence)
}

func TestMergeWithPreviousSnapshot(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Semantic = []model.SemanticItem{{Knowledge: "deployments go through the staging environment first", Category: "deployment", Confidence: model.ConfidenceHigh, Scope: model.ScopeUniversal}}
	r2 := record("sess-2", 2)
	r2.Semantic = []model.SemanticItem{{Knowledge: "every deployment passes through staging environment first", Category: "deployment", Confidence: model.ConfidenceHigh, Scope: model.ScopeUniversal}}

	c := newConsolidator(t, repository.NewMemory())
	first := c.build("myapp", []*model.ExtractionRecord{r1}, nil)
	gt.Equal(t, first.Version, 1)
	gt.Equal(t, first.Semantic[0].Occurrences, 1)

	second := c.build("myapp", []*model.ExtractionRecord{r1, r2}, first)
	gt.Equal(t, second.Version, 2)
	gt.A(t, second.Semantic).Length(1)
	gt.Equal(t, second.Semantic[0].Occurrences, 2)
	gt.Equal(t, second.Semantic[0].Sessions, []model.SessionID{"sess-1", "sess-2"})
	gt.Equal(t, second.Semantic[0].FirstSeen, r1.ExtractedAt)
	gt.Equal(t, second.Semantic[0].LastSeen, r2.ExtractedAt)
}

func TestPreviousItemsCarryOver(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Gotchas = []model.GotchaItem{{Issue: "yaml anchors are not supported by the config loader", Scope: model.ScopeUniversal}}
	r2 := record("sess-2", 2)
	r2.Semantic = []model.SemanticItem{{Knowledge: "metrics are exported on port 9090", Category: "conventions", Confidence: model.ConfidenceHigh, Scope: model.ScopeUniversal}}

	c := newConsolidator(t, repository.NewMemory())
	first := c.build("myapp", []*model.ExtractionRecord{r1}, nil)

	// second run only sees r2; the r1 gotcha must survive via the snapshot
	second := c.build("myapp", []*model.ExtractionRecord{r2}, first)
	gt.A(t, second.Gotchas).Length(1)
	gt.Equal(t, second.Gotchas[0].Sessions, []model.SessionID{"sess-1"})
	gt.A(t, second.Semantic).Length(1)
}

func TestEnvironmentSpecificExcluded(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Gotchas = []model.GotchaItem{
		{Issue: "zoxide alias shadows the cd builtin", Scope: model.ScopeEnvironment},
		{Issue: "generated mocks drift from interfaces after refactors", Scope: model.ScopeUniversal},
	}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1}, nil)

	gt.A(t, memory.Gotchas).Length(1)
	gt.S(t, memory.Gotchas[0].Issue).Contains("mocks")
}

func TestProceduralKeepsMostDetailedSteps(t *testing.T) {
	r1 := record("sess-1", 1)
	r1.Procedural = []model.ProceduralItem{{
		Workflow: "cut a release", Steps: []string{"tag", "push"}, Scope: model.ScopeUniversal,
	}}
	r2 := record("sess-2", 2)
	r2.Procedural = []model.ProceduralItem{{
		Workflow: "cut a release",
		Trigger:  "when main is green and a milestone closes",
		Steps:    []string{"update changelog", "tag the commit", "push the tag", "verify the pipeline"},
		Scope:    model.ScopeUniversal,
	}}

	c := newConsolidator(t, repository.NewMemory())
	memory := c.build("myapp", []*model.ExtractionRecord{r1, r2}, nil)

	gt.A(t, memory.Procedural).Length(1)
	gt.A(t, memory.Procedural[0].Steps).Length(4)
	gt.Equal(t, memory.Procedural[0].Occurrences, 2)
}

func TestConsolidateNoExtractions(t *testing.T) {
	ctx := context.Background()
	c := newConsolidator(t, repository.NewMemory())

	_, err := c.Consolidate(ctx, "myapp")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrNoExtractions))
}

func TestConsolidateRespectsLock(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	gt.NoError(t, repo.PutExtraction(ctx, record("sess-1", 1)))

	unlock := gt.R1(repo.Lock(ctx, "myapp")).NoError(t)
	defer func() { gt.NoError(t, unlock()) }()

	c := newConsolidator(t, repo)
	_, err := c.Consolidate(ctx, "myapp")
	gt.True(t, model.IsLocked(err))
}

func TestConsolidatePersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	r1 := record("sess-1", 1)
	r1.Gotchas = []model.GotchaItem{{Issue: "context cancellation is swallowed by the retry helper", Scope: model.ScopeUniversal}}
	gt.NoError(t, repo.PutExtraction(ctx, r1))

	c := newConsolidator(t, repo)
	memory := gt.R1(c.Consolidate(ctx, "myapp")).NoError(t)
	gt.Equal(t, memory.Version, 1)
	gt.Equal(t, memory.SessionsAnalyzed, 1)

	stored := gt.R1(repo.GetMemory(ctx, "myapp")).NoError(t)
	gt.Equal(t, stored.Version, 1)

	// lock must have been released
	again := gt.R1(c.Consolidate(ctx, "myapp")).NoError(t)
	gt.Equal(t, again.Version, 2)
}
