package docflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "2m", or from plain nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration value on line %d", node.Line)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the pipeline settings loaded from YAML.
type Config struct {
	// BaseDir is where session sandboxes are created.
	BaseDir string `yaml:"base_dir"`

	// StateDir is where serialized pipeline state lives between resumes.
	// Defaults to BaseDir/state.
	StateDir string `yaml:"state_dir"`

	Sanitizer SanitizerOptions `yaml:"sanitizer"`

	// Model settings for the text generator.
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	// RenderCommand converts the structured document to the final output.
	// It is invoked with the structure path and the output path appended.
	RenderCommand []string `yaml:"render_command"`

	// LintCommand checks the draft. It is invoked with the draft path
	// appended and is expected to emit markdownlint-style JSON on failure.
	LintCommand []string `yaml:"lint_command"`

	GenerateTimeout Duration `yaml:"generate_timeout"`
	RenderTimeout   Duration `yaml:"render_timeout"`
	LintTimeout     Duration `yaml:"lint_timeout"`

	// Attempt ceilings. Zero means the default of 3.
	MaxFixAttempts        int `yaml:"max_fix_attempts"`
	MaxConversionAttempts int `yaml:"max_conversion_attempts"`
	MaxRetries            int `yaml:"max_retries"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		BaseDir:               "sessions",
		Model:                 "claude-sonnet-4-5",
		MaxTokens:             4096,
		GenerateTimeout:       Duration(2 * time.Minute),
		RenderTimeout:         Duration(time.Minute),
		LintTimeout:           Duration(30 * time.Second),
		MaxFixAttempts:        3,
		MaxConversionAttempts: 3,
		MaxRetries:            3,
	}
}

// LoadConfig parses a YAML config document.
func LoadConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from a YAML file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfig(data)
}

func (c *Config) validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.MaxFixAttempts < 0 || c.MaxConversionAttempts < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("attempt ceilings must not be negative")
	}
	return nil
}
