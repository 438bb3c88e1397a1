package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"eval_harness/internal/eval"
)

// ProviderEntry declares one configured endpoint in the providers file.
type ProviderEntry struct {
	// ID is the provider identifier string, e.g. "openai:chat:gpt-4o-mini".
	ID string `yaml:"id"`

	// Type names the adapter implementation when the vendor token in ID is
	// a custom name (e.g. id "groq:chat:llama-3.3-70b" with type "openai"
	// registers groq as an OpenAI-compatible vendor). Empty means the
	// vendor token is itself a registered adapter type.
	Type string `yaml:"type,omitempty"`

	// Config is the provider-level config block, merged below test-level
	// overrides and above environment variables.
	Config map[string]any `yaml:"config,omitempty"`
}

// ProvidersFile is the YAML document declaring all providers.
type ProvidersFile struct {
	Providers []ProviderEntry `yaml:"providers"`
}

// LoadProviders reads and validates a providers YAML file.
func LoadProviders(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	var pf ProvidersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(pf.Providers))
	for i, entry := range pf.Providers {
		if entry.ID == "" {
			return nil, fmt.Errorf("provider %d has no id", i)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("duplicate provider id %q", entry.ID)
		}
		seen[entry.ID] = true
	}
	return &pf, nil
}

// ConfigFor returns the config block for a provider ID, or nil.
func (pf *ProvidersFile) ConfigFor(id string) map[string]any {
	for _, entry := range pf.Providers {
		if entry.ID == id {
			return entry.Config
		}
	}
	return nil
}

// TestCase is one evaluation in a suite file.
type TestCase struct {
	Provider   string            `yaml:"provider"`
	Prompt     string            `yaml:"prompt,omitempty"`
	Messages   []eval.Message    `yaml:"messages,omitempty"`
	Vars       map[string]string `yaml:"vars,omitempty"`
	Overrides  map[string]any    `yaml:"overrides,omitempty"`
	SessionKey string            `yaml:"session_key,omitempty"`
}

// Suite is a YAML file of evaluations to run, optionally with inline
// provider declarations.
type Suite struct {
	Providers []ProviderEntry `yaml:"providers,omitempty"`
	Tests     []TestCase      `yaml:"tests"`
}

// LoadSuite reads and validates a suite YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("suite file %s has no tests", path)
	}
	for i, tc := range suite.Tests {
		if tc.Provider == "" {
			return nil, fmt.Errorf("test %d has no provider", i)
		}
	}
	return &suite, nil
}

// Request converts a test case into a pipeline request.
func (tc *TestCase) Request() *eval.Request {
	return &eval.Request{
		Prompt:     tc.Prompt,
		Messages:   tc.Messages,
		Vars:       tc.Vars,
		Overrides:  tc.Overrides,
		SessionKey: tc.SessionKey,
	}
}
