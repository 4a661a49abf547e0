package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestManager_ExtractionWorkspacesAreDistinct(t *testing.T) {
	m := NewManager(t.TempDir())

	a, err := m.Extraction("", "/videos/clip.mp4")
	require.NoError(t, err)
	b, err := m.Extraction("", "/other/clip.mp4")
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir, b.Dir)
	assert.True(t, a.Owned)
	assert.True(t, strings.HasPrefix(filepath.Base(a.Dir), "clip.mp4_frames_"))
	assert.Equal(t, m.RunDir(), filepath.Dir(a.Dir))
	assert.DirExists(t, a.Dir)
}

func TestManager_RunDirsAreDistinct(t *testing.T) {
	root := t.TempDir()
	assert.NotEqual(t, NewManager(root).RunDir(), NewManager(root).RunDir())
}

func TestManager_ExplicitIsNotOwned(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mine")
	ws, err := NewManager(t.TempDir()).Render(dir, "/videos/clip.mp4")
	require.NoError(t, err)
	assert.False(t, ws.Owned)
	assert.Equal(t, dir, ws.Dir)
	assert.DirExists(t, dir)
}

func TestManager_CloseRemovesOnlyEmptyRunDir(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.Close(), "nothing created yet")

	ws, err := m.Render("", "v.mp4")
	require.NoError(t, err)
	writeFiles(t, ws.Dir, "frame000000.jpg")

	require.NoError(t, m.Close())
	assert.DirExists(t, m.RunDir())

	require.Empty(t, ws.Cleanup(nil, Policy{}))
	require.NoError(t, m.Close())
	assert.NoDirExists(t, m.RunDir())
}

func TestCleanup_Keep(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, "frame000000.jpg")

	errs := Workspace{Dir: dir, Owned: true}.Cleanup(files, Policy{Keep: true, Force: true})
	assert.Empty(t, errs)
	assert.FileExists(t, files[0])
}

func TestCleanup_DefaultLeavesCallerDirectory(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, "frame000000.jpg", "frame000005.jpg")
	foreign := writeFiles(t, dir, "notes.txt")

	errs := Workspace{Dir: dir}.Cleanup(files, Policy{})
	assert.Empty(t, errs)
	assert.NoFileExists(t, files[0])
	assert.NoFileExists(t, files[1])
	assert.FileExists(t, foreign[0])
	assert.DirExists(t, dir)
}

func TestCleanup_OwnedRemovesTree(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	files := writeFiles(t, dir, "a.mp4/frame000000.jpg")
	writeFiles(t, dir, "leftover.tmp")

	errs := Workspace{Dir: dir, Owned: true}.Cleanup(files, Policy{})
	assert.Empty(t, errs)
	assert.NoDirExists(t, dir)
}

func TestCleanup_OwnedButHoldsOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	files := writeFiles(t, dir, "frame000000.jpg")
	out := writeFiles(t, dir, "result.json")

	errs := Workspace{Dir: dir, Owned: true}.Cleanup(files, Policy{Protected: out})
	assert.Empty(t, errs)
	assert.NoFileExists(t, files[0])
	assert.FileExists(t, out[0])
}

func TestCleanup_ForceRemovesResidualFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	files := writeFiles(t, dir, "frame000000.jpg")
	writeFiles(t, dir, "stale/frame000099.jpg")

	errs := Workspace{Dir: dir, Owned: true}.Cleanup(files, Policy{Force: true, Protected: []string{dir + "x"}})
	assert.Empty(t, errs)
	assert.NoDirExists(t, dir)
}

func TestCleanup_ForceNeverRemovesCallerDirectory(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, "frame000000.jpg")
	foreign := writeFiles(t, dir, "keep.txt")

	errs := Workspace{Dir: dir}.Cleanup(files, Policy{Force: true})
	assert.Empty(t, errs)
	assert.NoFileExists(t, files[0])
	assert.FileExists(t, foreign[0])
}

func TestCleanup_MissingFilesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	errs := Workspace{Dir: dir}.Cleanup([]string{filepath.Join(dir, "gone.jpg")}, Policy{})
	assert.Empty(t, errs)
}

func TestContains_SeparatorBoundary(t *testing.T) {
	w := Workspace{Dir: "/tmp/ws"}
	assert.True(t, w.contains([]string{"/tmp/ws"}))
	assert.True(t, w.contains([]string{"/tmp/ws/out.json"}))
	assert.False(t, w.contains([]string{"/tmp/ws2/out.json"}))
	assert.False(t, w.contains([]string{""}))
}
