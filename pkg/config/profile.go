package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineProfile is one named tuning profile for the consensus engine.
// Profiles live as profile_<name>.yaml files and carry every threshold,
// bound, and policy rule a deployment can turn.
type EngineProfile struct {
	Name string `yaml:"name" json:"name"`

	// ConsensusThreshold is the minimum agreement index for convergence.
	ConsensusThreshold float64 `yaml:"consensus_threshold" json:"consensus_threshold"`

	// QualityThreshold is the minimum weighted score for convergence.
	QualityThreshold float64 `yaml:"quality_threshold" json:"quality_threshold"`

	// ConfidenceFloor degrades evaluations reporting less confidence.
	ConfidenceFloor float64 `yaml:"confidence_floor" json:"confidence_floor"`

	// MaxIterations bounds improvement rounds per session. Keep it small:
	// a session that cannot converge in a handful of rounds has a
	// systemic disagreement that more loops will not fix.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// MaxHumanRounds bounds rejected-review re-synthesis cycles.
	MaxHumanRounds int `yaml:"max_human_rounds" json:"max_human_rounds"`

	EvaluatorTimeoutSeconds int `yaml:"evaluator_timeout_seconds" json:"evaluator_timeout_seconds"`
	PhaseTimeoutSeconds     int `yaml:"phase_timeout_seconds" json:"phase_timeout_seconds"`
	ReviewTimeoutSeconds    int `yaml:"review_timeout_seconds" json:"review_timeout_seconds"`

	// ValidateOnConvergence routes converged sessions through the human
	// gateway anyway.
	ValidateOnConvergence bool `yaml:"validate_on_convergence" json:"validate_on_convergence"`

	// ProposalSupportThreshold is the pattern support count at which the
	// miner proposes a strategy update.
	ProposalSupportThreshold int `yaml:"proposal_support_threshold" json:"proposal_support_threshold"`

	// SystemicSupportThreshold is the support count at which an
	// unaddressed pattern raises an operator alert.
	SystemicSupportThreshold int `yaml:"systemic_support_threshold" json:"systemic_support_threshold"`

	// Weights are the default per-dimension scoring weights. Strategies
	// override them per evaluator.
	Weights map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`

	// Rules are CEL policy rules evaluated against round statistics.
	Rules []PolicyRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// PolicyRule is one CEL condition with an effect. Conditions see the
// round statistics document (weighted_score, agreement_index, round,
// degraded_count, ...).
type PolicyRule struct {
	Name      string `yaml:"name" json:"name"`
	Condition string `yaml:"condition" json:"condition"`

	// Effect is "require_review" or "alert".
	Effect string `yaml:"effect" json:"effect"`

	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// DefaultProfile returns the built-in tuning profile.
func DefaultProfile() *EngineProfile {
	return &EngineProfile{
		Name:                     "default",
		ConsensusThreshold:       0.85,
		QualityThreshold:         0.85,
		ConfidenceFloor:          0.30,
		MaxIterations:            5,
		MaxHumanRounds:           1,
		EvaluatorTimeoutSeconds:  30,
		PhaseTimeoutSeconds:      120,
		ReviewTimeoutSeconds:     900,
		ValidateOnConvergence:    false,
		ProposalSupportThreshold: 3,
		SystemicSupportThreshold: 10,
	}
}

// Validate checks profile ranges.
func (p *EngineProfile) Validate() error {
	if p.ConsensusThreshold < 0 || p.ConsensusThreshold > 1 {
		return fmt.Errorf("profile %s: consensus_threshold %v outside [0,1]", p.Name, p.ConsensusThreshold)
	}
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		return fmt.Errorf("profile %s: quality_threshold %v outside [0,1]", p.Name, p.QualityThreshold)
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		return fmt.Errorf("profile %s: confidence_floor %v outside [0,1]", p.Name, p.ConfidenceFloor)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("profile %s: max_iterations %d < 1", p.Name, p.MaxIterations)
	}
	if p.MaxHumanRounds < 0 {
		return fmt.Errorf("profile %s: max_human_rounds %d < 0", p.Name, p.MaxHumanRounds)
	}
	for dim, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("profile %s: weight for %s is negative", p.Name, dim)
		}
	}
	for _, r := range p.Rules {
		if r.Effect != "require_review" && r.Effect != "alert" {
			return fmt.Errorf("profile %s: rule %s has unknown effect %q", p.Name, r.Name, r.Effect)
		}
	}
	return nil
}

// EvaluatorTimeout returns the per-evaluator deadline.
func (p *EngineProfile) EvaluatorTimeout() time.Duration {
	return time.Duration(p.EvaluatorTimeoutSeconds) * time.Second
}

// PhaseTimeout returns the fan-in deadline for one phase.
func (p *EngineProfile) PhaseTimeout() time.Duration {
	return time.Duration(p.PhaseTimeoutSeconds) * time.Second
}

// ReviewTimeout returns how long a human review may stay pending.
func (p *EngineProfile) ReviewTimeout() time.Duration {
	return time.Duration(p.ReviewTimeoutSeconds) * time.Second
}

// LoadProfile loads profile_<name>.yaml from the profiles directory.
// Fields absent from the file keep their defaults.
func LoadProfile(profilesDir, name string) (*EngineProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the directory, keyed by
// profile name.
func LoadAllProfiles(profilesDir string) (map[string]*EngineProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*EngineProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		profile := DefaultProfile()
		if err := yaml.Unmarshal(data, profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		if err := profile.Validate(); err != nil {
			return nil, err
		}
		profiles[profile.Name] = profile
	}
	return profiles, nil
}
