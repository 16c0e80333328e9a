package backend

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReportFixture is one seeded capability result.
type ReportFixture struct {
	Capability string          `yaml:"capability"`
	Columns    []string        `yaml:"columns"`
	Rows       [][]interface{} `yaml:"rows"`
}

// EntityFixture is one master record for entity resolution.
type EntityFixture struct {
	Kind    string   `yaml:"kind"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// FixtureSet is the deterministic demo dataset loaded into a LocalBackend.
type FixtureSet struct {
	Reports  []ReportFixture `yaml:"reports"`
	Entities []EntityFixture `yaml:"entities"`
}

// LoadFixtureFile reads a fixture set from a YAML file.
func LoadFixtureFile(path string) (*FixtureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	var set FixtureSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file: %w", err)
	}
	for i, r := range set.Reports {
		if r.Capability == "" {
			return nil, fmt.Errorf("fixture report %d has no capability name", i)
		}
		for j, row := range r.Rows {
			if len(row) != len(r.Columns) {
				return nil, fmt.Errorf("fixture report %s row %d has %d cells, want %d",
					r.Capability, j, len(row), len(r.Columns))
			}
		}
	}
	return &set, nil
}
