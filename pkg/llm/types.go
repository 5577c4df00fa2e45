package llm

// ModelFingerprint identifies the exact model configuration behind an
// evaluation, so stored verdicts stay attributable after model upgrades.
type ModelFingerprint struct {
	ProviderID       string `json:"provider_id"`
	ModelID          string `json:"model_id"`
	ModelVersion     string `json:"model_version,omitempty"`
	SystemPromptHash string `json:"system_prompt_hash,omitempty"`
	ConfigHash       string `json:"config_hash,omitempty"`
}
