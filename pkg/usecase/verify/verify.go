// Package verify checks generated claims against present-day reality: file
// paths referenced by artifacts must exist, claimed commands must resolve
// on PATH. Claims that cannot be tested mechanically are marked as such
// instead of being scored. Verification is informational and never blocks
// generation.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

type Verifier struct {
	repo     repository.Repository
	root     string
	now      func() time.Time
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

type Option func(*Verifier)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLookPath overrides command resolution, for tests.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(v *Verifier) { v.lookPath = lookPath }
}

// New creates a Verifier checking claims against the project tree rooted at
// root.
func New(repo repository.Repository, root string, opts ...Option) *Verifier {
	v := &Verifier{
		repo:     repo,
		root:     root,
		now:      time.Now,
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var claimPattern = regexp.MustCompile("`([^`\n]+)`")

// Verify tests every extractable claim in the artifacts and persists a
// scored report. The score covers only mechanically testable claims.
func (v *Verifier) Verify(ctx context.Context, project string, artifacts []*model.GeneratedArtifact) (*model.VerificationReport, error) {
	report := &model.VerificationReport{
		ID:          model.NewReportID(),
		GeneratedAt: v.now().UTC(),
	}

	for _, claim := range extractClaims(artifacts) {
		report.ItemsTested = append(report.ItemsTested, v.testClaim(claim))
	}

	tested, valid := 0, 0
	for _, item := range report.ItemsTested {
		if item.StillValid == nil {
			continue
		}
		tested++
		if *item.StillValid {
			valid++
			continue
		}

		severity := model.IssueWarning
		if item.TestMethod == "file_exists" {
			severity = model.IssueError
		}
		report.Issues = append(report.Issues, model.VerificationIssue{
			Severity:    severity,
			Description: fmt.Sprintf("claim %q failed check %s", item.Item, item.TestMethod),
			Suggestion:  "regenerate after re-extracting recent sessions, or correct the memory item",
		})
	}

	if tested > 0 {
		report.Score = valid * 100 / tested
	} else {
		report.Score = 100
	}
	report.Summary = fmt.Sprintf("%d claims extracted, %d testable, %d still valid (score %d)",
		len(report.ItemsTested), tested, valid, report.Score)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal verification report")
	}
	if err := v.repo.PutGenerated(ctx, project, "verification.json", data); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("verification complete",
		"project", project, "score", report.Score, "issues", len(report.Issues))
	return report, nil
}

// extractClaims pulls backtick-quoted fragments from artifact content,
// deduplicated and sorted.
func extractClaims(artifacts []*model.GeneratedArtifact) []string {
	set := make(map[string]bool)
	for _, artifact := range artifacts {
		for _, match := range claimPattern.FindAllStringSubmatch(artifact.Content, -1) {
			claim := strings.TrimSpace(match[1])
			if claim != "" {
				set[claim] = true
			}
		}
	}

	claims := make([]string, 0, len(set))
	for claim := range set {
		claims = append(claims, claim)
	}
	sort.Strings(claims)
	return claims
}

func (v *Verifier) testClaim(claim string) model.VerifiedItem {
	switch {
	case looksLikePath(claim):
		path := claim
		if !filepath.IsAbs(path) {
			path = filepath.Join(v.root, path)
		}
		_, err := v.stat(path)
		valid := err == nil
		return model.VerifiedItem{
			Item:       claim,
			TestMethod: "file_exists",
			StillValid: &valid,
		}

	case looksLikeCommand(claim):
		_, err := v.lookPath(claim)
		valid := err == nil
		return model.VerifiedItem{
			Item:       claim,
			TestMethod: "command_on_path",
			StillValid: &valid,
		}

	default:
		return model.VerifiedItem{
			Item:       claim,
			TestMethod: "untestable",
			Note:       "no mechanical check applies",
		}
	}
}

// looksLikePath matches path-shaped claims: a separator, or a bare file
// name with an extension.
func looksLikePath(claim string) bool {
	if strings.ContainsAny(claim, " \t") {
		return false
	}
	if strings.Contains(claim, "/") {
		return true
	}
	ext := filepath.Ext(claim)
	return len(ext) > 1 && len(ext) <= 6
}

var commandPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func looksLikeCommand(claim string) bool {
	return commandPattern.MatchString(claim)
}
