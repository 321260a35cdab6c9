package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Tool names offered to the local model.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolListFiles = "list_files"
)

// maxReadBytes caps what read_file hands back to the model.
const maxReadBytes = 64 << 10

// Toolbox resolves file tools inside one root directory.
type Toolbox struct {
	root string
}

// NewToolbox roots the tools at dir.
func NewToolbox(dir string) (*Toolbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return &Toolbox{root: abs}, nil
}

// Root returns the directory the tools operate in.
func (t *Toolbox) Root() string { return t.root }

// Resolve maps a model-supplied path onto the root. Absolute paths are
// accepted only when they already lie inside it.
func (t *Toolbox) Resolve(path string) (string, error) {
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(t.root, path)
	}
	rel, err := filepath.Rel(t.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return abs, nil
}

// ReadFile returns the head of a file.
func (t *Toolbox) ReadFile(path string) (string, error) {
	abs, err := t.Resolve(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

// WriteFile replaces a file, creating parent directories.
func (t *Toolbox) WriteFile(path, content string) error {
	abs, err := t.Resolve(path)
	if err != nil {
		return err
	}
	if abs == t.root {
		return fmt.Errorf("%w: cannot write the root directory", ErrPathEscape)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// ListFiles lists one directory level. Directories end with a slash.
func (t *Toolbox) ListFiles(path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	abs, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Call runs the named tool with JSON arguments and returns the text handed
// back to the model. Tool failures are reported to the model, not the caller.
func (t *Toolbox) Call(name, arguments string) string {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "error: invalid arguments: " + err.Error()
		}
	}

	switch name {
	case ToolReadFile:
		out, err := t.ReadFile(args.Path)
		if err != nil {
			return "error: " + err.Error()
		}
		return out
	case ToolWriteFile:
		if err := t.WriteFile(args.Path, args.Content); err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)
	case ToolListFiles:
		names, err := t.ListFiles(args.Path)
		if err != nil {
			return "error: " + err.Error()
		}
		if len(names) == 0 {
			return "(empty)"
		}
		return strings.Join(names, "\n")
	default:
		return "error: unknown tool " + name
	}
}

// Definitions describes the tools in the chat completions format.
func (t *Toolbox) Definitions() []openai.Tool {
	pathOnly := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string", "description": "Path relative to the project directory"}},
		"required": ["path"]
	}`)
	write := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the project directory"},
			"content": {"type": "string", "description": "Full new file content"}
		},
		"required": ["path", "content"]
	}`)

	return []openai.Tool{
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        ToolReadFile,
			Description: "Read a file from the project directory.",
			Parameters:  pathOnly,
		}},
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        ToolWriteFile,
			Description: "Create or overwrite a file in the project directory.",
			Parameters:  write,
		}},
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        ToolListFiles,
			Description: "List the entries of a directory in the project. Use \".\" for the root.",
			Parameters:  pathOnly,
		}},
	}
}
