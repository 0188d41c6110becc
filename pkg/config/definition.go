package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"weave/pkg/domain"
)

// Definition is a per-feature workflow definition, read from YAML. It
// maps onto the workflow creation command.
type Definition struct {
	Feature       string                `yaml:"feature"`
	Objective     string                `yaml:"objective"`
	MaxIterations domain.MaxIterations  `yaml:"max_iterations"`
	ReviewMode    domain.ReviewModeKind `yaml:"review_mode"`
	Reviewers     []domain.AgentID      `yaml:"reviewers"`
	Failure       domain.FailurePolicy  `yaml:"failure"`
}

// LoadDefinition reads and validates the definition at path.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", path, err)
	}
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, fmt.Errorf("parse definition %s: %w", path, err)
	}
	d.applyDefaults()
	if err := d.Validate(); err != nil {
		return Definition{}, fmt.Errorf("definition %s: %w", path, err)
	}
	return d, nil
}

func (d *Definition) applyDefaults() {
	if d.MaxIterations == 0 {
		d.MaxIterations = domain.DefaultMaxIterations
	}
	if d.ReviewMode == "" {
		d.ReviewMode = domain.ReviewSequential
	}
	if d.Failure.MaxRetries == 0 && d.Failure.BackoffSecs == 0 && d.Failure.OnAllReviewersFailed == "" {
		d.Failure = domain.DefaultFailurePolicy()
	}
}

// Validate checks the definition for internal consistency.
func (d Definition) Validate() error {
	if d.Feature == "" {
		return fmt.Errorf("feature name is required")
	}
	switch d.ReviewMode {
	case domain.ReviewParallel, domain.ReviewSequential:
	default:
		return fmt.Errorf("unknown review mode %q", d.ReviewMode)
	}
	seen := make(map[domain.AgentID]bool, len(d.Reviewers))
	for _, r := range d.Reviewers {
		if r == "" {
			return fmt.Errorf("empty reviewer id")
		}
		if seen[r] {
			return fmt.Errorf("duplicate reviewer %q", r)
		}
		seen[r] = true
		if r.Name() == "" {
			return fmt.Errorf("reviewer %q has no name", r)
		}
	}
	switch d.Failure.OnAllReviewersFailed {
	case domain.OnAllReviewersAbort, domain.OnAllReviewersEscalate, domain.OnAllReviewersContinue:
	default:
		return fmt.Errorf("unknown all-reviewers-failed action %q", d.Failure.OnAllReviewersFailed)
	}
	return nil
}
