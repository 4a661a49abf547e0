// Package workspace manages the scratch directories a run extracts and
// renders frames into, and the policy for cleaning them up afterwards.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const maxNameLen = 64

// Workspace is a directory holding intermediate frames. Owned is true only
// for directories this package created; caller-supplied directories are
// never owned.
type Workspace struct {
	Dir   string
	Owned bool
}

// Policy controls Cleanup.
type Policy struct {
	// Keep skips cleanup entirely.
	Keep bool
	// Force removes an owned directory tree even when it holds residual
	// files or protected paths. Caller-supplied directories are never
	// removed recursively.
	Force bool
	// Protected lists output paths; without Force an owned directory
	// containing one of them keeps everything but the listed files.
	Protected []string
}

// Manager hands out workspaces below one per-run directory,
// <root>/<user>_<uuid>, created on first use.
type Manager struct {
	root   string
	runDir string

	mu      sync.Mutex
	created bool
}

// NewManager returns a Manager rooted at root.
func NewManager(root string) *Manager {
	return &Manager{
		root:   root,
		runDir: filepath.Join(root, SanitizeName(currentUser(), maxNameLen)+"_"+uuid.NewString()),
	}
}

// RunDir is the per-run directory. It may not exist yet.
func (m *Manager) RunDir() string {
	return m.runDir
}

// Extraction returns the frame extraction workspace for video. When explicit
// is set it is used as-is (created if missing) and is not owned.
func (m *Manager) Extraction(explicit, video string) (Workspace, error) {
	if explicit != "" {
		return external(explicit)
	}
	return m.owned(SanitizeName(filepath.Base(video), maxNameLen) + "_frames_" + uuid.NewString())
}

// Render returns the rendered-frame workspace for video.
func (m *Manager) Render(explicit, video string) (Workspace, error) {
	if explicit != "" {
		return external(explicit)
	}
	return m.owned(SanitizeName(filepath.Base(video), maxNameLen) + "_detections")
}

// Close removes the run directory if nothing is left in it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return nil
	}
	entries, err := os.ReadDir(m.runDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read run dir: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(m.runDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove run dir: %w", err)
	}
	return nil
}

func (m *Manager) owned(name string) (Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.runDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	m.created = true
	return Workspace{Dir: dir, Owned: true}, nil
}

func external(dir string) (Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return Workspace{Dir: dir}, nil
}

// Cleanup applies p to the workspace after its files are no longer needed.
// files are the paths this run wrote. Errors never abort cleanup; they are
// returned for the caller to report.
func (w Workspace) Cleanup(files []string, p Policy) []error {
	if p.Keep || w.Dir == "" {
		return nil
	}

	if w.Owned && (p.Force || !w.contains(p.Protected)) {
		if err := os.RemoveAll(w.Dir); err != nil {
			return []error{fmt.Errorf("remove %s: %w", w.Dir, err)}
		}
		return nil
	}

	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", f, err))
		}
	}
	return errs
}

// contains reports whether any path equals w.Dir or lies inside it.
func (w Workspace) contains(paths []string) bool {
	dir, err := filepath.Abs(w.Dir)
	if err != nil {
		dir = filepath.Clean(w.Dir)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "user"
}
