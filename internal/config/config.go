// Package config loads and persists the apiflow configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// StateDirName is the directory under the repository root that holds
// configuration and the persisted index documents.
const StateDirName = ".apiflow"

// Config represents the complete apiflow configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	SourceExt string `json:"sourceExt" mapstructure:"sourceExt"`
	Workers   int    `json:"workers" mapstructure:"workers"`

	Extract    ExtractConfig    `json:"extract" mapstructure:"extract"`
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`
	Output     OutputConfig     `json:"output" mapstructure:"output"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// ExtractConfig controls symbol and flow extraction
type ExtractConfig struct {
	// TestKeywords mark test-only classes/methods by substring match
	TestKeywords []string `json:"testKeywords" mapstructure:"testKeywords"`
	// TestDirs are directory segments whose files are out of scope
	TestDirs []string `json:"testDirs" mapstructure:"testDirs"`
	// ExternalPackages are dependency prefixes filtered from the index
	ExternalPackages []string `json:"externalPackages" mapstructure:"externalPackages"`
	// FallbackWindow is how many lines above a method declaration the
	// heuristic path scan inspects
	FallbackWindow int `json:"fallbackWindow" mapstructure:"fallbackWindow"`
}

// GenerationConfig controls the artifact generation service client
type GenerationConfig struct {
	Model        string  `json:"model" mapstructure:"model"`
	TemplatePath string  `json:"templatePath" mapstructure:"templatePath"`
	MaxRetries   int     `json:"maxRetries" mapstructure:"maxRetries"`
	RetryDelayMs int     `json:"retryDelayMs" mapstructure:"retryDelayMs"`
	TimeoutMs    int     `json:"timeoutMs" mapstructure:"timeoutMs"`
	MaxTokens    int     `json:"maxTokens" mapstructure:"maxTokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
}

// OutputConfig controls where artifacts are written
type OutputConfig struct {
	ArtifactsDir string `json:"artifactsDir" mapstructure:"artifactsDir"`
	ArchiveDir   string `json:"archiveDir" mapstructure:"archiveDir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:   1,
		RepoRoot:  ".",
		SourceExt: ".java",
		Workers:   4,
		Extract: ExtractConfig{
			TestKeywords: []string{
				"Test", "Tests", "TestCase", "TestSuite", "IntegrationTest",
				"UnitTest", "Spec", "Specification", "IT", "E2E",
			},
			TestDirs: []string{"test", "tests", "testing", "it", "e2e"},
			ExternalPackages: []string{
				"org.springframework", "javax", "java", "org.hibernate",
				"org.junit", "org.mockito", "org.apache", "com.fasterxml",
				"io.swagger", "lombok", "jakarta", "org.slf4j",
				"ch.qos.logback", "org.json", "com.google", "org.testng",
				"junit",
			},
			FallbackWindow: 10,
		},
		Generation: GenerationConfig{
			Model:        "gpt-4o-mini",
			TemplatePath: "prompts/bdd_test_case_template.md",
			MaxRetries:   3,
			RetryDelayMs: 2000,
			TimeoutMs:    60000,
			MaxTokens:    1000,
			Temperature:  0.2,
		},
		Output: OutputConfig{
			ArtifactsDir: "summary/bdd_test_cases",
			ArchiveDir:   "archived",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <repoRoot>/.apiflow/config.json,
// falling back to defaults when the file does not exist.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, StateDirName))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := DefaultConfig()
			cfg.RepoRoot = repoRoot
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.RepoRoot == "." || cfg.RepoRoot == "" {
		cfg.RepoRoot = repoRoot
	}

	return cfg, nil
}

// Save writes the configuration to <repoRoot>/.apiflow/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, StateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// StateDir returns the directory holding the persisted index documents.
func (c *Config) StateDir() string {
	return filepath.Join(c.RepoRoot, StateDirName)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.SourceExt == "" {
		return &ConfigError{Field: "sourceExt", Message: "source extension must not be empty"}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "workers", Message: "workers must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
