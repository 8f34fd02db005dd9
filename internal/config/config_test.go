package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
anthropic:
  api_key: sk-ant-test12345678901234
defaults:
  model: claude-opus-4-1
limits:
  max_budget_usd: 2.5
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test12345678901234" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Defaults.Model != "claude-opus-4-1" {
		t.Errorf("model = %q", cfg.Defaults.Model)
	}
	if cfg.Limits.MaxBudgetUSD != 2.5 {
		t.Errorf("budget = %v", cfg.Limits.MaxBudgetUSD)
	}
	// Unset values keep their defaults.
	if cfg.Defaults.FallbackModel != "claude-haiku-4-5" {
		t.Errorf("fallback = %q", cfg.Defaults.FallbackModel)
	}
	if cfg.Limits.ResultCap != 20000 {
		t.Errorf("result cap = %d", cfg.Limits.ResultCap)
	}
}

func TestLoadFromPathExpandsEnvRefs(t *testing.T) {
	t.Setenv("TEST_WHALE_KEY", "sk-ant-fromenv1234567890")
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "anthropic:\n  api_key: ${TEST_WHALE_KEY}\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-fromenv1234567890" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadBlueprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.yaml")
	writeFile(t, path, `
name: release
system: Ship the release.
teammates:
  - name: ada
    model: claude-sonnet-4-5
  - name: grace
tasks:
  - name: changelog
    description: Write the changelog
    files: [CHANGELOG.md]
  - name: tag
    description: Tag the release
    depends_on: [changelog]
`)

	bp, err := LoadBlueprint(path)
	if err != nil {
		t.Fatalf("LoadBlueprint: %v", err)
	}
	if bp.Name != "release" || len(bp.Teammates) != 2 || len(bp.Tasks) != 2 {
		t.Errorf("blueprint = %+v", bp)
	}
	if bp.Tasks[1].DependsOn[0] != "changelog" {
		t.Errorf("depends_on = %v", bp.Tasks[1].DependsOn)
	}
	if bp.Tasks[0].Files[0] != "CHANGELOG.md" {
		t.Errorf("files = %v", bp.Tasks[0].Files)
	}
}

func TestLoadBlueprintRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"no name", "teammates: [{name: a}]\ntasks: [{name: t, description: d}]\n"},
		{"no tasks", "name: x\nteammates: [{name: a}]\n"},
		{"unnamed task", "name: x\ntasks: [{description: d}]\n"},
		{"task without description", "name: x\ntasks: [{name: t}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bp.yaml")
			writeFile(t, path, tt.content)
			if _, err := LoadBlueprint(path); err == nil {
				t.Errorf("blueprint accepted: %s", tt.content)
			}
		})
	}
}
