package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/floradistro/whale/internal/team"
)

// LoadBlueprint reads a declarative team definition from a YAML file.
func LoadBlueprint(path string) (*team.Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blueprint: %w", err)
	}

	var bp team.Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprint %s: %w", path, err)
	}

	if bp.Name == "" {
		return nil, fmt.Errorf("blueprint %s: name is required", path)
	}
	if len(bp.Tasks) == 0 {
		return nil, fmt.Errorf("blueprint %s: at least one task is required", path)
	}
	for i, t := range bp.Tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("blueprint %s: task %d has no name", path, i)
		}
		if t.Description == "" {
			return nil, fmt.Errorf("blueprint %s: task %q has no description", path, t.Name)
		}
	}
	return &bp, nil
}
