package tooling

import "github.com/floradistro/whale/internal/transport"

// LocalToolNames are the built-in local tools in catalogue order.
var LocalToolNames = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "ListDir"}

// readOnlyTools is the allow-list for plan mode.
var readOnlyTools = map[string]bool{
	"Read":    true,
	"Glob":    true,
	"Grep":    true,
	"ListDir": true,
}

// IsReadOnly reports whether a tool is on the plan-mode allow-list.
func IsReadOnly(name string) bool {
	return readOnlyTools[name]
}

// RegisterLocalTools registers the built-in local tool set on a dispatcher.
func RegisterLocalTools(d *Dispatcher, workDir string) {
	local := NewLocalTools(workDir)
	for _, name := range LocalToolNames {
		d.Register(name, KindLocal, local)
	}
}

// LocalToolDefinitions returns the catalogue entries for the built-in local
// tools, in a stable order so request prefixes stay cacheable.
func LocalToolDefinitions() []transport.ToolDefinition {
	return []transport.ToolDefinition{
		{
			Name:        "Read",
			Description: "Read a file from the filesystem. Returns file contents with line numbers.",
			Properties: map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Path to the file to read"},
				"offset":    map[string]any{"type": "integer", "description": "Line number to start from (1-indexed, optional)"},
				"limit":     map[string]any{"type": "integer", "description": "Maximum number of lines to read (optional)"},
			},
			Required: []string{"file_path"},
		},
		{
			Name:        "Write",
			Description: "Write content to a file. Creates parent directories if needed.",
			Properties: map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Path to the file to write"},
				"content":   map[string]any{"type": "string", "description": "Content to write"},
			},
			Required: []string{"file_path", "content"},
		},
		{
			Name:        "Edit",
			Description: "Edit a file by replacing text. The old_string must be unique unless replace_all is true.",
			Properties: map[string]any{
				"file_path":   map[string]any{"type": "string", "description": "Path to the file to edit"},
				"old_string":  map[string]any{"type": "string", "description": "Text to replace"},
				"new_string":  map[string]any{"type": "string", "description": "Replacement text"},
				"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence"},
			},
			Required: []string{"file_path", "old_string", "new_string"},
		},
		{
			Name:        "Bash",
			Description: "Run a shell command in the working directory.",
			Properties: map[string]any{
				"command": map[string]any{"type": "string", "description": "Command to run"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in milliseconds (optional)"},
			},
			Required: []string{"command"},
		},
		{
			Name:        "Glob",
			Description: "Find files matching a pattern.",
			Properties: map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Filename pattern to match"},
				"path":    map[string]any{"type": "string", "description": "Directory to search (optional)"},
			},
			Required: []string{"pattern"},
		},
		{
			Name:        "Grep",
			Description: "Search file contents for a regular expression.",
			Properties: map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Regular expression to search for"},
				"path":    map[string]any{"type": "string", "description": "Directory to search (optional)"},
				"glob":    map[string]any{"type": "string", "description": "Filter files by glob (optional)"},
			},
			Required: []string{"pattern"},
		},
		{
			Name:        "ListDir",
			Description: "List the entries of a directory.",
			Properties: map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory to list"},
			},
			Required: []string{"path"},
		},
	}
}
