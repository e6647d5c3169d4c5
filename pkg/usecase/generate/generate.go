// Package generate renders consolidated memory into agent-facing artifacts:
// an instruction document, one skill file per recurring workflow, and
// actionable tasks that reframe recurring gotchas as root-cause fixes.
package generate

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

//go:embed template/instructions.md
var instructionsRaw string

//go:embed template/skill.md
var skillRaw string

//go:embed template/task.md
var taskRaw string

var tmplFuncs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}

var (
	instructionsTmpl = template.Must(template.New("instructions").Funcs(tmplFuncs).Parse(instructionsRaw))
	skillTmpl        = template.Must(template.New("skill").Funcs(tmplFuncs).Parse(skillRaw))
	taskTmpl         = template.Must(template.New("task").Funcs(tmplFuncs).Parse(taskRaw))
)

type Generator struct {
	repo   repository.Repository
	policy *policy.Policy
	now    func() time.Time
}

type Option func(*Generator)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(repo repository.Repository, pol *policy.Policy, opts ...Option) *Generator {
	g := &Generator{repo: repo, policy: pol, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Output collects one generation run's artifacts and the artifact file names
// written under the project's generated directory.
type Output struct {
	Artifacts []*model.GeneratedArtifact
	Tasks     []*model.ActionableTask
	Files     []string
}

// Generate renders all artifacts from the project's current memory snapshot
// and persists them. Items below the frequency threshold stay out of the
// instruction document but remain queryable; decisions are always rendered
// so superseded choices stay visible.
func (g *Generator) Generate(ctx context.Context, project string) (*Output, error) {
	memory, err := g.repo.GetMemory(ctx, project)
	if err != nil {
		return nil, err
	}

	filtered := g.filter(memory)
	out := &Output{}

	instructions, err := g.renderInstructions(filtered)
	if err != nil {
		return nil, err
	}
	out.Artifacts = append(out.Artifacts, instructions)
	if err := g.put(ctx, project, out, "CLAUDE.md", instructions.Content); err != nil {
		return nil, err
	}

	skills, err := g.renderSkills(filtered)
	if err != nil {
		return nil, err
	}
	for _, skill := range skills {
		out.Artifacts = append(out.Artifacts, skill)
		if err := g.put(ctx, project, out, "skills/"+skill.Name+".md", skill.Content); err != nil {
			return nil, err
		}
	}

	tasks, taskArtifacts, err := g.renderTasks(filtered)
	if err != nil {
		return nil, err
	}
	out.Tasks = tasks
	if len(tasks) > 0 {
		tasksJSON, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tasks")
		}
		if err := g.put(ctx, project, out, "tasks/tasks.json", string(tasksJSON)); err != nil {
			return nil, err
		}
		for i, artifact := range taskArtifacts {
			out.Artifacts = append(out.Artifacts, artifact)
			name := fmt.Sprintf("tasks/%02d-%s.md", i+1, artifact.Name)
			if err := g.put(ctx, project, out, name, artifact.Content); err != nil {
				return nil, err
			}
		}
	}

	knowledge, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal knowledge snapshot")
	}
	if err := g.put(ctx, project, out, "knowledge.json", string(knowledge)); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("generated artifacts",
		"project", project, "files", len(out.Files), "skills", len(skills), "tasks", len(tasks))
	return out, nil
}

func (g *Generator) put(ctx context.Context, project string, out *Output, name, content string) error {
	if err := g.repo.PutGenerated(ctx, project, name, []byte(content)); err != nil {
		return err
	}
	out.Files = append(out.Files, name)
	return nil
}

// filter drops items below the frequency threshold. Decisions are exempt:
// a decision made once is still a decision, and hiding superseded ones
// would resurrect settled debates.
func (g *Generator) filter(memory *model.ConsolidatedMemory) *model.ConsolidatedMemory {
	min := g.policy.FrequencyThreshold
	filtered := &model.ConsolidatedMemory{
		Project:          memory.Project,
		Version:          memory.Version,
		GeneratedAt:      memory.GeneratedAt,
		SessionsAnalyzed: memory.SessionsAnalyzed,
		Decisions:        memory.Decisions,
	}
	for _, it := range memory.Episodic {
		if it.Occurrences >= min {
			filtered.Episodic = append(filtered.Episodic, it)
		}
	}
	for _, it := range memory.Semantic {
		if it.Occurrences >= min {
			filtered.Semantic = append(filtered.Semantic, it)
		}
	}
	for _, it := range memory.Procedural {
		if it.Occurrences >= min {
			filtered.Procedural = append(filtered.Procedural, it)
		}
	}
	for _, it := range memory.Gotchas {
		if it.Occurrences >= min {
			filtered.Gotchas = append(filtered.Gotchas, it)
		}
	}
	return filtered
}

type conventionEntry struct {
	Knowledge string
	Level     model.ConfidenceLevel
}

func (g *Generator) renderInstructions(memory *model.ConsolidatedMemory) (*model.GeneratedArtifact, error) {
	episodic := append([]*model.EpisodicMemory(nil), memory.Episodic...)
	sortByWeight(episodic, func(m *model.EpisodicMemory) (int, string) { return m.Occurrences, m.Incident })

	semantic := append([]*model.SemanticMemory(nil), memory.Semantic...)
	sortByWeight(semantic, func(m *model.SemanticMemory) (int, string) { return m.Occurrences, m.Knowledge })
	conventions := make([]conventionEntry, 0, len(semantic))
	for _, it := range semantic {
		conventions = append(conventions, conventionEntry{
			Knowledge: it.Knowledge,
			Level:     model.ConfidenceLabel(it.Confidence),
		})
	}

	procedural := append([]*model.ProceduralMemory(nil), memory.Procedural...)
	sortByWeight(procedural, func(m *model.ProceduralMemory) (int, string) { return m.Occurrences, m.Workflow })

	gotchas := append([]*model.GotchaMemory(nil), memory.Gotchas...)
	sortByWeight(gotchas, func(m *model.GotchaMemory) (int, string) { return m.Occurrences, m.Issue })

	var buf bytes.Buffer
	if err := instructionsTmpl.Execute(&buf, map[string]any{
		"Project":     memory.Project,
		"Sessions":    memory.SessionsAnalyzed,
		"Version":     memory.Version,
		"Date":        g.now().UTC().Format("2006-01-02"),
		"Errors":      episodic,
		"Conventions": conventions,
		"Workflows":   procedural,
		"Decisions":   memory.Decisions,
		"Gotchas":     gotchas,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render instruction document")
	}

	var sources []string
	for _, view := range memory.Items() {
		sources = append(sources, view.ID)
	}
	sort.Strings(sources)

	return &model.GeneratedArtifact{
		Kind:        model.ArtifactInstructions,
		Name:        "CLAUDE.md",
		Content:     buf.String(),
		SourceItems: sources,
	}, nil
}

func (g *Generator) renderSkills(memory *model.ConsolidatedMemory) ([]*model.GeneratedArtifact, error) {
	procedural := append([]*model.ProceduralMemory(nil), memory.Procedural...)
	sortByWeight(procedural, func(m *model.ProceduralMemory) (int, string) { return m.Occurrences, m.Workflow })

	var skills []*model.GeneratedArtifact
	for _, it := range procedural {
		var buf bytes.Buffer
		if err := skillTmpl.Execute(&buf, it); err != nil {
			return nil, goerr.Wrap(err, "failed to render skill", goerr.V("workflow", it.Workflow))
		}
		skills = append(skills, &model.GeneratedArtifact{
			Kind:        model.ArtifactSkill,
			Name:        slugify(it.Workflow),
			Content:     buf.String(),
			SourceItems: []string{it.ID},
		})
	}
	return skills, nil
}

func (g *Generator) renderTasks(memory *model.ConsolidatedMemory) ([]*model.ActionableTask, []*model.GeneratedArtifact, error) {
	gotchas := append([]*model.GotchaMemory(nil), memory.Gotchas...)
	sortByWeight(gotchas, func(m *model.GotchaMemory) (int, string) { return m.Occurrences, m.Issue })

	var tasks []*model.ActionableTask
	var artifacts []*model.GeneratedArtifact
	for _, it := range gotchas {
		task := &model.ActionableTask{
			Title:             "Fix root cause: " + it.Issue,
			Description:       taskDescription(it),
			Type:              taskType(it),
			Priority:          g.taskPriority(it),
			SourceIssue:       it.Issue,
			SuggestedApproach: it.Solution,
			Tags:              it.Tags,
			SourceItems:       []string{it.ID},
		}
		tasks = append(tasks, task)

		var buf bytes.Buffer
		if err := taskTmpl.Execute(&buf, task); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to render task", goerr.V("issue", it.Issue))
		}
		artifacts = append(artifacts, &model.GeneratedArtifact{
			Kind:        model.ArtifactTask,
			Name:        slugify(it.Issue),
			Content:     buf.String(),
			SourceItems: []string{it.ID},
		})
	}
	return tasks, artifacts, nil
}

func taskDescription(it *model.GotchaMemory) string {
	desc := fmt.Sprintf("This issue recurred in %d sessions. Address the root cause rather than working around it.", it.Occurrences)
	if it.Cause != "" {
		desc += " Root cause: " + it.Cause
	}
	return desc
}

func taskType(it *model.GotchaMemory) model.TaskType {
	if it.Solution == "" && it.Cause == "" {
		return model.TaskInvestigation
	}
	return model.TaskFix
}

// taskPriority weighs how often the gotcha recurred against how dangerous
// its tags look.
func (g *Generator) taskPriority(it *model.GotchaMemory) model.TaskPriority {
	for _, tag := range it.Tags {
		switch tag {
		case "security", "data-loss", "corruption":
			return model.PriorityHigh
		}
	}
	if it.Occurrences > g.policy.FrequencyThreshold {
		return model.PriorityHigh
	}
	if it.Occurrences == g.policy.FrequencyThreshold {
		return model.PriorityMedium
	}
	return model.PriorityLow
}

func sortByWeight[M any](items []M, keyOf func(M) (int, string)) {
	sort.Slice(items, func(i, j int) bool {
		oi, ti := keyOf(items[i])
		oj, tj := keyOf(items[j])
		if oi != oj {
			return oi > oj
		}
		return ti < tj
	})
}

// slugify derives a filesystem-safe name from an item's text.
func slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "item"
	}
	return slug
}
