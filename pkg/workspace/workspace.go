// Package workspace answers the directory questions a category can ask:
// list folders, fuzzy-find a folder by a spoken name, and summarize a
// project directory (markers, top-level entries, git state).
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Defaults for searches.
const (
	DefaultFindDepth  = 3
	DefaultThreshold  = 0.4
	ParentThreshold   = 0.5
	parentCandidates  = 3
	maxInfoChildren   = 20
	maxListedFindings = 10
)

// ErrNotDirectory is returned when a path does not name a directory.
var ErrNotDirectory = errors.New("workspace: not a directory")

// skipped holds directory names never listed or searched.
var skipped = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"dist":         true,
	"build":        true,
}

// ProjectMarkers are files whose presence makes a directory a project.
var ProjectMarkers = []string{
	"package.json", "pyproject.toml", "Cargo.toml",
	"go.mod", "pom.xml", "build.gradle", "Makefile",
	"requirements.txt", "setup.py", "CMakeLists.txt",
}

// Config configures a Workspace.
type Config struct {
	// SearchRoot is where fuzzy finds start. Defaults to ~/dev.
	SearchRoot string

	// FindDepth bounds how deep finds descend below SearchRoot.
	FindDepth int

	Logger *slog.Logger
}

// Workspace answers directory queries.
type Workspace struct {
	root   string
	depth  int
	logger *slog.Logger
}

// New creates a Workspace.
func New(cfg Config) (*Workspace, error) {
	if cfg.SearchRoot == "" {
		cfg.SearchRoot = "~/dev"
	}
	root, err := ExpandPath(cfg.SearchRoot)
	if err != nil {
		return nil, err
	}
	if cfg.FindDepth <= 0 {
		cfg.FindDepth = DefaultFindDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Workspace{
		root:   root,
		depth:  cfg.FindDepth,
		logger: cfg.Logger.With("component", "workspace"),
	}, nil
}

// Root returns the expanded search root.
func (w *Workspace) Root() string { return w.root }

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("workspace: expand %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("workspace: expand %s: %w", path, err)
	}
	return abs, nil
}

// Walk returns the directories under path up to maxDepth levels deep
// (1 means immediate children), in lexical order. Hidden and dependency
// directories are skipped. Unreadable directories are skipped silently.
func Walk(path string, maxDepth int) ([]string, error) {
	base, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, base)
	}

	var out []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() || skip(e.Name()) {
				continue
			}
			child := filepath.Join(dir, e.Name())
			out = append(out, child)
			walk(child, depth+1)
		}
	}
	walk(base, 1)
	return out, nil
}

func skip(name string) bool {
	return strings.HasPrefix(name, ".") || skipped[name]
}

// List returns the immediate child directories of path, or of the search
// root when path is empty.
func (w *Workspace) List(path string) ([]protocol.DirectoryEntry, error) {
	if path == "" {
		path = w.root
	}
	dirs, err := Walk(path, 1)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.DirectoryEntry, len(dirs))
	for i, d := range dirs {
		out[i] = protocol.DirectoryEntry{Path: d, Name: filepath.Base(d), IsProject: IsProject(d)}
	}
	return out, nil
}

// ListUnder lists the children of the best directory matching parentHint
// below base. Without a hint or a match it lists base itself.
func (w *Workspace) ListUnder(base, parentHint string) (string, []protocol.DirectoryEntry, error) {
	if base == "" {
		base = w.root
	}
	if parentHint != "" {
		if matches, err := w.findIn(base, parentHint, ""); err == nil && len(matches) > 0 {
			base = matches[0].Path
		}
	}
	entries, err := w.List(base)
	return base, entries, err
}

// Find fuzzy-matches hint against directory names below the search root.
// With parentHint, only directories below the best three parents matching
// it are considered, unless that leaves nothing.
func (w *Workspace) Find(hint, parentHint string) ([]protocol.DirectoryEntry, error) {
	return w.findIn(w.root, hint, parentHint)
}

func (w *Workspace) findIn(root, hint, parentHint string) ([]protocol.DirectoryEntry, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, nil
	}
	all, err := Walk(root, w.depth)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	candidates := all
	if parentHint = strings.TrimSpace(parentHint); parentHint != "" {
		parents := Match(parentHint, all, ParentThreshold)
		if len(parents) > parentCandidates {
			parents = parents[:parentCandidates]
		}
		var under []string
		for _, p := range parents {
			prefix := p.Path + string(filepath.Separator)
			for _, d := range all {
				if strings.HasPrefix(d, prefix) {
					under = append(under, d)
				}
			}
		}
		if len(under) > 0 {
			candidates = under
		}
	}

	matches := Match(hint, candidates, DefaultThreshold)
	for i := range matches {
		matches[i].IsProject = IsProject(matches[i].Path)
	}
	w.logger.Debug("find directory",
		"hint", hint,
		"parent_hint", parentHint,
		"candidates", len(candidates),
		"matches", len(matches))
	if len(matches) > maxListedFindings {
		matches = matches[:maxListedFindings]
	}
	return matches, nil
}

// Score rates how well a spoken query names a directory, from 0 to 1.
// Exact names score 1, prefixes 0.9, substrings 0.7 and names containing
// every query word 0.6. Otherwise a name containing the query letters in
// order scores by how much of the name they cover.
func Score(query, name string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	n := strings.ToLower(name)
	switch {
	case q == "":
		return 0
	case n == q:
		return 1
	case strings.HasPrefix(n, q):
		return 0.9
	case strings.Contains(n, q):
		return 0.7
	case allWords(n, q):
		return 0.6
	}
	if len(fuzzy.Find(q, []string{n})) == 0 {
		return 0
	}
	return 2 * float64(len(q)) / float64(len(q)+len(n))
}

func allWords(name, query string) bool {
	words := strings.Fields(query)
	for _, w := range words {
		if !strings.Contains(name, w) {
			return false
		}
	}
	return len(words) > 0
}

// Match scores every path's base name against query and returns those at
// or above threshold, best first.
func Match(query string, paths []string, threshold float64) []protocol.DirectoryEntry {
	var out []protocol.DirectoryEntry
	for _, p := range paths {
		name := filepath.Base(p)
		if s := Score(query, name); s >= threshold {
			out = append(out, protocol.DirectoryEntry{Path: p, Name: name, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return len(out[i].Path) < len(out[j].Path)
	})
	return out
}

// IsProject reports whether dir holds one of the ProjectMarkers.
func IsProject(dir string) bool {
	return len(markers(dir)) > 0
}

func markers(dir string) []string {
	var found []string
	for _, m := range ProjectMarkers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			found = append(found, m)
		}
	}
	return found
}
