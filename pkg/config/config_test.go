package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ACCORD_LOG_LEVEL", "")
	t.Setenv("ACCORD_LLM_URL", "")
	t.Setenv("ACCORD_PROFILE", "")

	cfg := Load()
	if cfg.LogLevel != "INFO" {
		t.Fatalf("LogLevel = %s, want INFO", cfg.LogLevel)
	}
	if cfg.Profile != "default" {
		t.Fatalf("Profile = %s, want default", cfg.Profile)
	}
	if cfg.LLMServiceURL == "" {
		t.Fatal("LLMServiceURL should have a default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ACCORD_LOG_LEVEL", "DEBUG")
	t.Setenv("ACCORD_REDIS_ADDR", "localhost:6379")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg := Load()
	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("LogLevel = %s, want DEBUG", cfg.LogLevel)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr = %s", cfg.RedisAddr)
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Fatalf("GeminiAPIKey = %s", cfg.GeminiAPIKey)
	}
}

func TestDefaultProfileValid(t *testing.T) {
	p := DefaultProfile()
	if err := p.Validate(); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
	if p.MaxIterations != 5 {
		t.Fatalf("MaxIterations = %d, want 5", p.MaxIterations)
	}
}

func TestProfileValidateRejectsBadRanges(t *testing.T) {
	p := DefaultProfile()
	p.ConsensusThreshold = 1.5
	if err := p.Validate(); err == nil {
		t.Fatal("expected out-of-range consensus_threshold to fail")
	}

	p = DefaultProfile()
	p.MaxIterations = 0
	if err := p.Validate(); err == nil {
		t.Fatal("expected max_iterations 0 to fail")
	}

	p = DefaultProfile()
	p.Rules = []PolicyRule{{Name: "r", Condition: "true", Effect: "explode"}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected unknown effect to fail")
	}
}

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+name+".yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "strict", `
name: strict
consensus_threshold: 0.95
quality_threshold: 0.9
max_iterations: 3
validate_on_convergence: true
weights:
  technical_accuracy: 0.4
  visual_quality: 0.2
rules:
  - name: low-agreement-alert
    condition: "agreement_index < 0.5 && round >= 2"
    effect: alert
`)

	p, err := LoadProfile(dir, "strict")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.ConsensusThreshold != 0.95 {
		t.Fatalf("ConsensusThreshold = %v", p.ConsensusThreshold)
	}
	if p.MaxIterations != 3 {
		t.Fatalf("MaxIterations = %d", p.MaxIterations)
	}
	if !p.ValidateOnConvergence {
		t.Fatal("ValidateOnConvergence should be true")
	}
	// unspecified fields keep defaults
	if p.MaxHumanRounds != 1 {
		t.Fatalf("MaxHumanRounds = %d, want default 1", p.MaxHumanRounds)
	}
	if p.EvaluatorTimeoutSeconds != 30 {
		t.Fatalf("EvaluatorTimeoutSeconds = %d, want default 30", p.EvaluatorTimeoutSeconds)
	}
	if len(p.Rules) != 1 || p.Rules[0].Effect != "alert" {
		t.Fatalf("rules not loaded: %+v", p.Rules)
	}
}

func TestLoadProfileMissing(t *testing.T) {
	if _, err := LoadProfile(t.TempDir(), "absent"); err == nil {
		t.Fatal("missing profile must error")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "default", "consensus_threshold: 0.85\n")
	writeProfile(t, dir, "strict", "name: strict\nconsensus_threshold: 0.95\n")

	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if _, ok := profiles["strict"]; !ok {
		t.Fatal("strict profile missing")
	}
	// name inferred from filename when absent
	if _, ok := profiles["default"]; !ok {
		t.Fatal("default profile missing")
	}
}
