// Package policy holds the tunable parameters of the memory pipeline:
// clustering threshold, confidence decay, inclusion threshold and retry
// budgets. Values load from an optional YAML file and may be overridden by
// CLI flags.
package policy

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

type Policy struct {
	// Strategy names the similarity strategy used for clustering
	// ("jaccard" or "levenshtein").
	Strategy string `yaml:"strategy"`

	// SimilarityThreshold is the minimum score for two items to share a
	// cluster. In (0, 1].
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// DecayHalfLifeDays controls confidence decay: an item unreinforced
	// for one half-life loses half its confidence.
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days"`

	// FrequencyThreshold is the minimum occurrences for an item to enter
	// the primary instruction document.
	FrequencyThreshold int `yaml:"frequency_threshold"`

	// MaxAttempts bounds completion calls per extraction, including
	// repair retries after schema validation failures.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoffSeconds is the base backoff between retried completion
	// calls, doubled per attempt.
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`

	// Concurrency bounds the extraction worker pool.
	Concurrency int `yaml:"concurrency"`

	// MaxTraceChars truncates rendered traces before prompting.
	MaxTraceChars int `yaml:"max_trace_chars"`
}

// Default returns the built-in policy values.
func Default() *Policy {
	return &Policy{
		Strategy:            "jaccard",
		SimilarityThreshold: 0.5,
		DecayHalfLifeDays:   90,
		FrequencyThreshold:  2,
		MaxAttempts:         3,
		RetryBackoffSeconds: 2,
		Concurrency:         4,
		MaxTraceChars:       50000,
	}
}

// Load reads a policy YAML file, filling unset fields from defaults.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", path))
	}

	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, goerr.Wrap(err, "failed to parse policy file", goerr.V("path", path))
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that all parameters are in range.
func (p *Policy) Validate() error {
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		return goerr.New("similarity_threshold must be in (0, 1]", goerr.V("value", p.SimilarityThreshold))
	}
	if p.DecayHalfLifeDays <= 0 {
		return goerr.New("decay_half_life_days must be positive", goerr.V("value", p.DecayHalfLifeDays))
	}
	if p.FrequencyThreshold < 1 {
		return goerr.New("frequency_threshold must be at least 1", goerr.V("value", p.FrequencyThreshold))
	}
	if p.MaxAttempts < 1 {
		return goerr.New("max_attempts must be at least 1", goerr.V("value", p.MaxAttempts))
	}
	if p.Concurrency < 1 {
		return goerr.New("concurrency must be at least 1", goerr.V("value", p.Concurrency))
	}
	return nil
}
