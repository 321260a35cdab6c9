package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Info describes one directory.
type Info struct {
	Path      string
	Name      string
	IsProject bool
	Markers   []string
	Children  []string
	Git       *GitInfo
}

// GitInfo is the state of the repository containing a directory.
type GitInfo struct {
	Root      string
	Branch    string
	Head      string
	Subject   string
	Dirty     int
	Detached  bool
	NoCommits bool
}

// Describe gathers Info for path. Git state is best effort: a directory
// outside any repository has a nil Git.
func Describe(path string) (*Info, error) {
	abs, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	info := &Info{Path: abs, Name: filepath.Base(abs), Markers: markers(abs)}
	info.IsProject = len(info.Markers) > 0

	if entries, err := os.ReadDir(abs); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			info.Children = append(info.Children, name)
			if len(info.Children) == maxInfoChildren {
				break
			}
		}
	}

	if g, err := Git(abs); err == nil {
		info.Git = g
	}
	return info, nil
}

// Git inspects the repository containing dir.
func Git(dir string) (*GitInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, err
	}
	g := &GitInfo{}
	wt, err := repo.Worktree()
	if err == nil {
		g.Root = wt.Filesystem.Root()
	}

	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		g.NoCommits = true
		if ref, err := repo.Reference(plumbing.HEAD, false); err == nil {
			g.Branch = ref.Target().Short()
		}
	case err != nil:
		return nil, err
	default:
		g.Head = head.Hash().String()[:7]
		if head.Name().IsBranch() {
			g.Branch = head.Name().Short()
		} else {
			g.Detached = true
		}
		if c, err := repo.CommitObject(head.Hash()); err == nil {
			g.Subject, _, _ = strings.Cut(strings.TrimSpace(c.Message), "\n")
		}
	}

	if wt != nil {
		if status, err := wt.Status(); err == nil {
			for _, s := range status {
				if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
					g.Dirty++
				}
			}
		}
	}
	return g, nil
}

// Summary renders Info as the short project context handed to providers.
func (i *Info) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory %s (%s).", i.Name, i.Path)
	if i.IsProject {
		fmt.Fprintf(&b, " Project files: %s.", strings.Join(i.Markers, ", "))
	}
	if g := i.Git; g != nil {
		switch {
		case g.NoCommits:
			fmt.Fprintf(&b, " Git repository on %s with no commits yet.", orUnknown(g.Branch))
		case g.Detached:
			fmt.Fprintf(&b, " Git HEAD detached at %s: %s.", g.Head, g.Subject)
		default:
			fmt.Fprintf(&b, " Git branch %s at %s: %s.", g.Branch, g.Head, g.Subject)
		}
		if g.Dirty > 0 {
			fmt.Fprintf(&b, " %d uncommitted change(s).", g.Dirty)
		}
	}
	if len(i.Children) > 0 {
		fmt.Fprintf(&b, " Top-level entries: %s.", strings.Join(i.Children, ", "))
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "an unknown branch"
	}
	return s
}
