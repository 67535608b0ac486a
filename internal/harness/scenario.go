package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one rewrite test case: a plugin configuration, a request,
// an input tree and the expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the CUE plugin configuration file.
	// Relative paths are resolved against the scenario file location.
	Config string `yaml:"config"`

	// Fields is the requested field list.
	Fields []string `yaml:"fields"`

	// Context is the rewrite context handed to every plugin callback.
	Context any `yaml:"context,omitempty"`

	// Input is the tree fetched from the source.
	Input map[string]any `yaml:"input"`

	// Async runs the pipeline with RewriteAsync.
	Async bool `yaml:"async,omitempty"`

	// SQL is executed against the scenario's fresh database before the run,
	// typically to create and fill tables read by lookup plugins.
	SQL string `yaml:"sql,omitempty"`

	// Expect is the expected output tree. If nil, the output is not checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ExpectFields is the expected fieldsToRequest list. If nil, it is not
	// checked.
	ExpectFields []string `yaml:"expect_fields,omitempty"`

	// ExpectError is a substring the run's error must contain. When empty the
	// run must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "expected:" vs "expect:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}

	if len(s.Fields) == 0 {
		return fmt.Errorf("fields list is required and must be non-empty")
	}

	if s.Input == nil {
		return fmt.Errorf("input is required (use an empty map for an empty tree)")
	}

	if s.ExpectError != "" && (s.Expect != nil || s.ExpectFields != nil) {
		return fmt.Errorf("expect_error cannot be combined with expect or expect_fields")
	}

	return nil
}
