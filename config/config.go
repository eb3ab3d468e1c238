package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dcshock/hookpipe/priority"
)

// PipelineConfig is the root structure for a pipeline definition (e.g. from YAML).
type PipelineConfig struct {
	Name string `yaml:"name"`
	// Sentinels adds the protected begin and end steps.
	Sentinels bool `yaml:"sentinels"`
	// Observers are names registered in BuildOptions.ObserverRegistry.
	Observers []string  `yaml:"observers"`
	Steps     []StepRef `yaml:"steps"`
}

// StepRef is a single step entry: either a plain name or name + options.
// In YAML, a step can be written as:
//   - fetch
//   - name: parse
//     action: json.decode
//     order: high
//     retry: exponential
//     timeout: 60s
type StepRef struct {
	Name string `yaml:"name"`

	// Action is the registered action name. Defaults to Name.
	Action string `yaml:"action"`

	// Order is an integer or a priority tier name. Defaults to neutral, so
	// steps without an order run in file order.
	Order *Priority `yaml:"order"`

	// Before/After toggle the hook chains around the step. Default true.
	Before *bool `yaml:"before"`
	After  *bool `yaml:"after"`

	Protected bool `yaml:"protected"`

	// Timeout applied around the action (e.g. "60s").
	Timeout Duration `yaml:"timeout"`

	// Retry: "exponential" | "fixed" | "" (no retry)
	Retry string `yaml:"retry"`

	// For retry: initial backoff ("exponential") or fixed delay ("fixed")
	Initial Duration `yaml:"initial"`

	// For exponential retry: multiplier (default 2), cap (e.g. "5m"), max attempts
	Multiplier  float64  `yaml:"multiplier"`
	Cap         Duration `yaml:"cap"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// ActionName returns Action, or Name when Action is empty.
func (s StepRef) ActionName() string {
	if s.Action != "" {
		return s.Action
	}
	return s.Name
}

// UnmarshalYAML allows a step to be a string (step name only) or a struct.
func (s *StepRef) UnmarshalYAML(value *yaml.Node) error {
	var nameOnly string
	if err := value.Decode(&nameOnly); err == nil {
		s.Name = nameOnly
		return nil
	}
	type raw StepRef
	return value.Decode((*raw)(s))
}

// Priority is a step order that unmarshals from an integer or a tier name
// ("highest", "high", "neutral", "low", "lowest").
type Priority int

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	n, err := priority.Parse(s)
	if err != nil {
		return err
	}
	*p = Priority(n)
	return nil
}

// Int returns the numeric order.
func (p Priority) Int() int { return int(p) }

// PriorityOf returns a *Priority for n.
func PriorityOf(n int) *Priority {
	p := Priority(n)
	return &p
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ParsePipelineConfig parses YAML bytes into a single PipelineConfig.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SequenceConfig names pipelines to run in order with the same arguments.
type SequenceConfig struct {
	Name      string   `yaml:"name"`
	Pipelines []string `yaml:"pipelines"`
}

// MultiPipelineConfig is the root structure for a file that defines multiple pipelines.
// Top-level key is "pipelines"; each value is a pipeline (name + steps).
type MultiPipelineConfig struct {
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	Sequences map[string]SequenceConfig `yaml:"sequences"`
}

// ParseMultiPipelineConfig parses YAML bytes that contain a "pipelines" map from name to pipeline config.
// Example YAML:
//
//	pipelines:
//	  sync:
//	    sentinels: true
//	    steps: [fetch, store]
//	  notify:
//	    steps: [validate, send]
//	sequences:
//	  nightly:
//	    pipelines: [sync, notify]
func ParseMultiPipelineConfig(data []byte) (*MultiPipelineConfig, error) {
	var cfg MultiPipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseYAML accepts either a multi-pipeline document or a single pipeline
// document and returns it in multi form.
func ParseYAML(data []byte) (*MultiPipelineConfig, error) {
	multi, err := ParseMultiPipelineConfig(data)
	if err != nil {
		return nil, err
	}
	if len(multi.Pipelines) > 0 || len(multi.Sequences) > 0 {
		return multi, nil
	}
	single, err := ParsePipelineConfig(data)
	if err != nil {
		return nil, err
	}
	if single.Name == "" {
		return nil, fmt.Errorf("config: no pipelines defined")
	}
	return &MultiPipelineConfig{Pipelines: map[string]PipelineConfig{single.Name: *single}}, nil
}

// LoadFile reads pipeline definitions from path. Files ending in .hcl are
// parsed as HCL, everything else as YAML.
func LoadFile(path string) (*MultiPipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg *MultiPipelineConfig
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		cfg, err = ParseHCL(data, path)
	} else {
		cfg, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
