// Package ruleset externalizes the scoring weights the Planner and Approval
// Gate use into a single YAML document, loaded and validated the way the
// teacher loads its phase config: read file, unmarshal, validate, default-fill.
// This keeps duration tables and risk/quality weights as data instead of
// constants buried in the component that consumes them.
package ruleset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSet holds every tunable scoring weight used by the Planner's duration
// estimator and the Approval Gate's risk/quality/compliance scoring.
type RuleSet struct {
	// BaseDurationMinutes maps an agent role to its base task duration.
	BaseDurationMinutes map[string]int `yaml:"base_duration_minutes"`
	// ScopeModifiers maps a scope token ("production", "full-featured", ...)
	// to a multiplier applied to every task's base duration.
	ScopeModifiers map[string]float64 `yaml:"scope_modifiers"`

	Risk    RiskWeights    `yaml:"risk"`
	Quality QualityWeights `yaml:"quality"`
}

// RiskWeights score a workflow's risk level from its shape.
type RiskWeights struct {
	// HighRiskTaskCount is the task count at or above which risk is at
	// least "medium" absent other factors.
	HighRiskTaskCount int `yaml:"high_risk_task_count"`
	// SecurityFlagTokens are directive tokens that require a completed
	// security-specialist task to avoid an elevated risk level.
	SecurityFlagTokens []string `yaml:"security_flag_tokens"`
}

// QualityWeights score a workflow's quality point total out of 100.
type QualityWeights struct {
	BaseScore              int `yaml:"base_score"`
	PerFailedTaskPenalty   int `yaml:"per_failed_task_penalty"`
	ManagerReviewBonus     int `yaml:"manager_review_bonus"`
	ArtifactPresenceBonus  int `yaml:"artifact_presence_bonus"`
}

// Default returns the ruleset shipped with the engine (default.yaml,
// embedded as Go literals here so the engine has no required config file).
func Default() *RuleSet {
	rs := &RuleSet{
		BaseDurationMinutes: map[string]int{
			"manager":    15,
			"designer":   45,
			"frontend":   60,
			"backend":    90,
			"security":   30,
			"deploy":     20,
			"researcher": 25,
			"strategist": 25,
			"analyst":    25,
		},
		ScopeModifiers: map[string]float64{
			"production":     1.6,
			"full-featured":  1.3,
			"prototype":      1.0,
		},
		Risk: RiskWeights{
			HighRiskTaskCount:  6,
			SecurityFlagTokens: []string{"payment", "donation", "auth", "login", "pii", "compliance"},
		},
		Quality: QualityWeights{
			BaseScore:             100,
			PerFailedTaskPenalty:  15,
			ManagerReviewBonus:    0,
			ArtifactPresenceBonus: 0,
		},
	}
	return rs
}

// Load reads a YAML ruleset file, starting from Default() and overlaying
// whatever the file specifies, then validates the result.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ruleset: reading %s: %w", path, err)
	}
	rs := Default()
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("ruleset: parsing %s: %w", path, err)
	}
	if err := Validate(rs); err != nil {
		return nil, fmt.Errorf("ruleset: %s: %w", path, err)
	}
	return rs, nil
}

// Validate checks the ruleset for internal consistency, filling in any
// zero-valued fields the caller left unset.
func Validate(rs *RuleSet) error {
	if len(rs.BaseDurationMinutes) == 0 {
		return fmt.Errorf("base_duration_minutes must not be empty")
	}
	for role, minutes := range rs.BaseDurationMinutes {
		if minutes <= 0 {
			return fmt.Errorf("base_duration_minutes[%s] must be positive, got %d", role, minutes)
		}
	}
	for scope, mult := range rs.ScopeModifiers {
		if mult <= 0 {
			return fmt.Errorf("scope_modifiers[%s] must be positive, got %v", scope, mult)
		}
	}
	if rs.Risk.HighRiskTaskCount <= 0 {
		rs.Risk.HighRiskTaskCount = Default().Risk.HighRiskTaskCount
	}
	if rs.Quality.BaseScore <= 0 {
		rs.Quality.BaseScore = Default().Quality.BaseScore
	}
	if rs.Quality.PerFailedTaskPenalty <= 0 {
		rs.Quality.PerFailedTaskPenalty = Default().Quality.PerFailedTaskPenalty
	}
	return nil
}

// DurationFor returns the scope-adjusted duration for role in minutes.
func (rs *RuleSet) DurationFor(role, scope string) int {
	base, ok := rs.BaseDurationMinutes[role]
	if !ok {
		base = 30
	}
	mult, ok := rs.ScopeModifiers[scope]
	if !ok {
		mult, ok = rs.ScopeModifiers[scopeKey(scope)]
	}
	if !ok {
		mult = 1.0
	}
	return int(float64(base)*mult + 0.5)
}

// scopeKey normalizes a free-text scope response to a modifier key.
func scopeKey(scope string) string {
	switch scope {
	case "Production-ready":
		return "production"
	case "Full-featured":
		return "full-featured"
	default:
		return "prototype"
	}
}
