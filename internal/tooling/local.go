package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LocalTools implements the local filesystem/shell tool set rooted at one
// working directory.
type LocalTools struct {
	workDir string
}

// NewLocalTools creates local tool handlers for the given working directory.
func NewLocalTools(workDir string) *LocalTools {
	return &LocalTools{workDir: workDir}
}

// Execute implements Handler.
func (l *LocalTools) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case "Read":
		return l.read(input)
	case "Write":
		return l.write(input)
	case "Edit":
		return l.edit(input)
	case "Bash":
		return l.bash(ctx, input)
	case "Glob":
		return l.glob(input)
	case "Grep":
		return l.grep(ctx, input)
	case "ListDir":
		return l.listDir(input)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (l *LocalTools) read(input json.RawMessage) (string, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	content, err := os.ReadFile(l.resolve(params.FilePath))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return "", fmt.Errorf("offset %d beyond end of file (%d lines)", params.Offset, len(lines))
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return b.String(), nil
}

func (l *LocalTools) write(input json.RawMessage) (string, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	path := l.resolve(params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath), nil
}

func (l *LocalTools) edit(input json.RawMessage) (string, error) {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	path := l.resolve(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in file")
	}
	if !params.ReplaceAll && count > 1 {
		return "", fmt.Errorf("old_string found %d times; must be unique or use replace_all", count)
	}

	if params.ReplaceAll {
		text = strings.ReplaceAll(text, params.OldString, params.NewString)
	} else {
		text = strings.Replace(text, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if params.ReplaceAll {
		return fmt.Sprintf("replaced %d occurrences", count), nil
	}
	return "edit applied", nil
}

func (l *LocalTools) bash(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	timeout := 2 * time.Minute
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = l.workDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %v:\n%s", timeout, output)
		}
		return "", fmt.Errorf("%s\nerror: %w", output, err)
	}
	return string(output), nil
}

func (l *LocalTools) glob(input json.RawMessage) (string, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	root := l.workDir
	if params.Path != "" {
		root = l.resolve(params.Path)
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(filepath.Base(params.Pattern), d.Name()); ok {
			rel, _ := filepath.Rel(root, path)
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("glob: %w", err)
	}
	if len(matches) == 0 {
		return "no files matched the pattern", nil
	}
	return strings.Join(matches, "\n"), nil
}

func (l *LocalTools) grep(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	args := []string{"--color=never", "-n"}
	if params.Glob != "" {
		args = append(args, "--glob", params.Glob)
	}
	args = append(args, params.Pattern)
	root := l.workDir
	if params.Path != "" {
		root = l.resolve(params.Path)
	}
	args = append(args, root)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rg", args...)
	// rg exits non-zero on no match; that is not a failure.
	output, _ := cmd.CombinedOutput()
	if len(output) == 0 {
		return "no matches found", nil
	}
	return string(output), nil
}

func (l *LocalTools) listDir(input json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	entries, err := os.ReadDir(l.resolve(params.Path))
	if err != nil {
		return "", fmt.Errorf("read directory: %w", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "d %s/\n", entry.Name())
			continue
		}
		if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&b, "- %s\n", entry.Name())
		}
	}
	return b.String(), nil
}

func (l *LocalTools) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.workDir, path)
}
