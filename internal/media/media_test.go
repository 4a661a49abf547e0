package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/camtrap-video/internal/logging"
	"github.com/heimdex/camtrap-video/internal/proc"
)

// fakeTools plays ffprobe and ffmpeg. Videos are described by name: total
// frame count and rate. ffmpeg "decodes" by writing one staged file per
// sampled frame.
type fakeTools struct {
	videos map[string]fakeVideo

	probeCalls    atomic.Int32
	extractCalls  atomic.Int32
	assembleCalls atomic.Int32

	mu        sync.Mutex
	assembled []proc.Command
	concat    string
}

type fakeVideo struct {
	frames  int
	rate    string
	noCount bool
	fail    bool
}

func (f *fakeTools) Run(_ context.Context, cmd proc.Command) proc.Result {
	video := cmd.Args[len(cmd.Args)-1]
	switch cmd.Name {
	case "ffprobe":
		f.probeCalls.Add(1)
		v, ok := f.videos[video]
		if !ok {
			return proc.Result{ExitCode: 1, StderrTail: "No such file"}
		}
		counting := strings.Contains(strings.Join(cmd.Args, " "), "-count_frames")
		switch {
		case counting:
			return proc.Result{Stdout: []byte(fmt.Sprintf(`{"streams":[{"nb_read_frames":"%d"}]}`, v.frames))}
		case v.noCount:
			return proc.Result{Stdout: []byte(fmt.Sprintf(`{"streams":[{"nb_frames":"N/A","r_frame_rate":%q,"avg_frame_rate":"0/0"}]}`, v.rate))}
		default:
			return proc.Result{Stdout: []byte(fmt.Sprintf(`{"streams":[{"nb_frames":"%d","r_frame_rate":%q,"avg_frame_rate":%q}]}`, v.frames, v.rate, v.rate))}
		}
	case "ffmpeg":
		if contains(cmd.Args, "concat") {
			f.assembleCalls.Add(1)
			f.mu.Lock()
			f.assembled = append(f.assembled, cmd)
			list := cmd.Args[indexOf(cmd.Args, "-i")+1]
			data, _ := os.ReadFile(list)
			f.concat = string(data)
			f.mu.Unlock()
			_ = os.WriteFile(video, []byte("video"), 0o644)
			return proc.Result{}
		}
		f.extractCalls.Add(1)
		src := cmd.Args[indexOf(cmd.Args, "-i")+1]
		v := f.videos[src]
		if v.fail {
			return proc.Result{ExitCode: 1, StderrTail: "Invalid data found when processing input"}
		}
		stride := 1
		if i := indexOf(cmd.Args, "-vf"); i >= 0 {
			_, _ = fmt.Sscanf(cmd.Args[i+1], `select=not(mod(n\,%d))`, &stride)
		}
		staging := filepath.Dir(video)
		for k := 0; k < ExpectedCount(v.frames, stride); k++ {
			_ = os.WriteFile(filepath.Join(staging, fmt.Sprintf("%06d.jpg", k+1)), []byte(fmt.Sprintf("src%d", k*stride)), 0o644)
		}
		return proc.Result{}
	}
	return proc.Result{ExitCode: 127, StderrTail: "unknown tool"}
}

func contains(args []string, s string) bool { return indexOf(args, s) >= 0 }

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func newFake(videos map[string]fakeVideo) (*fakeTools, *FFmpeg) {
	tools := &fakeTools{videos: videos}
	return tools, NewFFmpeg("", "", tools, logging.Discard())
}

func TestExtract_StrideProducesCeilFrames(t *testing.T) {
	tools, ff := newFake(map[string]fakeVideo{"/v/clip.mp4": {frames: 300, rate: "30/1"}})
	dest := filepath.Join(t.TempDir(), "frames")

	got, err := ff.Extract(context.Background(), "/v/clip.mp4", dest, 5, true)
	require.NoError(t, err)

	assert.Len(t, got.Paths, 60)
	assert.Equal(t, 30.0, got.FPS)
	assert.Equal(t, filepath.Join(dest, "frame000000.jpg"), got.Paths[0])
	assert.Equal(t, filepath.Join(dest, "frame000005.jpg"), got.Paths[1])
	assert.Equal(t, filepath.Join(dest, "frame000295.jpg"), got.Paths[59])
	assert.EqualValues(t, 1, tools.extractCalls.Load())

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 60, "staging directory is removed")
}

func TestExtract_UnevenStride(t *testing.T) {
	_, ff := newFake(map[string]fakeVideo{"/v/a.avi": {frames: 7, rate: "25"}})
	got, err := ff.Extract(context.Background(), "/v/a.avi", t.TempDir(), 3, true)
	require.NoError(t, err)
	assert.Len(t, got.Paths, 3)
	assert.Equal(t, "frame000006.jpg", filepath.Base(got.Paths[2]))
}

func TestExtract_ReuseSkipsFFmpegWhenComplete(t *testing.T) {
	tools, ff := newFake(map[string]fakeVideo{"/v/clip.mp4": {frames: 10, rate: "10/1"}})
	dest := t.TempDir()

	_, err := ff.Extract(context.Background(), "/v/clip.mp4", dest, 2, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, tools.extractCalls.Load())

	got, err := ff.Extract(context.Background(), "/v/clip.mp4", dest, 2, false)
	require.NoError(t, err)
	assert.Len(t, got.Paths, 5)
	assert.EqualValues(t, 1, tools.extractCalls.Load(), "no second decode")
}

func TestExtract_ReuseKeepsExistingFrames(t *testing.T) {
	_, ff := newFake(map[string]fakeVideo{"/v/clip.mp4": {frames: 4, rate: "4/1"}})
	dest := t.TempDir()
	kept := filepath.Join(dest, "frame000002.jpg")
	require.NoError(t, os.WriteFile(kept, []byte("original"), 0o644))

	got, err := ff.Extract(context.Background(), "/v/clip.mp4", dest, 1, false)
	require.NoError(t, err)
	assert.Len(t, got.Paths, 4)

	data, err := os.ReadFile(kept)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestExtract_OverwriteReplacesFrames(t *testing.T) {
	_, ff := newFake(map[string]fakeVideo{"/v/clip.mp4": {frames: 4, rate: "4/1"}})
	dest := t.TempDir()
	stale := filepath.Join(dest, "frame000002.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	_, err := ff.Extract(context.Background(), "/v/clip.mp4", dest, 1, true)
	require.NoError(t, err)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "src2", string(data))
}

func TestExtract_CountsFramesWhenContainerDoesNot(t *testing.T) {
	tools, ff := newFake(map[string]fakeVideo{"/v/x.mkv": {frames: 12, rate: "24000/1001", noCount: true}})
	got, err := ff.Extract(context.Background(), "/v/x.mkv", t.TempDir(), 4, true)
	require.NoError(t, err)
	assert.Len(t, got.Paths, 3)
	assert.InDelta(t, 23.976, got.FPS, 0.001)
	assert.EqualValues(t, 2, tools.probeCalls.Load())
}

func TestExtract_Errors(t *testing.T) {
	_, ff := newFake(map[string]fakeVideo{"/v/bad.mp4": {frames: 10, rate: "30/1", fail: true}})

	_, err := ff.Extract(context.Background(), "/v/missing.mp4", t.TempDir(), 1, true)
	require.Error(t, err)
	var exitErr *proc.ExitError
	assert.True(t, errors.As(err, &exitErr))

	_, err = ff.Extract(context.Background(), "/v/bad.mp4", t.TempDir(), 1, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestExtract_NoFramesDecodedIsNotAnError(t *testing.T) {
	tools, ff := newFake(map[string]fakeVideo{"/v/empty.mp4": {frames: 0, rate: "30/1"}})
	dest := t.TempDir()

	got, err := ff.Extract(context.Background(), "/v/empty.mp4", dest, 1, true)
	require.NoError(t, err)
	assert.Empty(t, got.Paths)
	assert.Equal(t, 30.0, got.FPS)
	assert.EqualValues(t, 1, tools.extractCalls.Load())

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 30.0, parseRate("30/1"))
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.001)
	assert.Equal(t, 25.0, parseRate("25"))
	assert.Zero(t, parseRate("0/0"))
	assert.Zero(t, parseRate("abc"))
}

func TestExpectedCount(t *testing.T) {
	assert.Equal(t, 60, ExpectedCount(300, 5))
	assert.Equal(t, 61, ExpectedCount(301, 5))
	assert.Equal(t, 10, ExpectedCount(10, 0))
	assert.Zero(t, ExpectedCount(0, 3))
}

func TestAssemble(t *testing.T) {
	tools, ff := newFake(nil)
	dir := t.TempDir()
	frames := []string{filepath.Join(dir, "frame000000.jpg"), filepath.Join(dir, "it's", "frame000005.jpg")}
	out := filepath.Join(dir, "out", "clip.mp4")

	require.NoError(t, ff.Assemble(context.Background(), frames, 6, out, "h264"))

	assert.EqualValues(t, 1, tools.assembleCalls.Load())
	cmd := tools.assembled[0]
	assert.Equal(t, "6", cmd.Args[indexOf(cmd.Args, "-r")+1])
	assert.Equal(t, "libx264", cmd.Args[indexOf(cmd.Args, "-c:v")+1])
	assert.Contains(t, tools.concat, "duration 0.166667")
	assert.Contains(t, tools.concat, `it'\''s`)
	assert.FileExists(t, out)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "concat list removed")
}

func TestAssemble_Rejects(t *testing.T) {
	_, ff := newFake(nil)
	out := filepath.Join(t.TempDir(), "o.mp4")
	assert.Error(t, ff.Assemble(context.Background(), nil, 30, out, "h264"))
	assert.Error(t, ff.Assemble(context.Background(), []string{"a.jpg"}, 0, out, "h264"))
	assert.Error(t, ff.Assemble(context.Background(), []string{"a.jpg"}, 30, out, "zzzz"))
}

func TestConcatList_RepeatsLastFrame(t *testing.T) {
	got := concatList([]string{"/a.jpg", "/b.jpg"}, 2)
	want := "ffconcat version 1.0\nfile '/a.jpg'\nduration 0.500000\nfile '/b.jpg'\nduration 0.500000\nfile '/b.jpg'\n"
	assert.Equal(t, want, got)
}

func TestFindVideos(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"b.MP4", "a.avi", "notes.txt", "sub/c.mov", ".hidden/d.mp4"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}

	flat, err := FindVideos(root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.avi"), filepath.Join(root, "b.MP4")}, flat)

	deep, err := FindVideos(root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.avi"),
		filepath.Join(root, "b.MP4"),
		filepath.Join(root, "sub", "c.mov"),
	}, deep)

	_, err = FindVideos(filepath.Join(root, "missing"), false)
	assert.Error(t, err)
}

func TestExtractFolder_IsolatesFailures(t *testing.T) {
	root := "/cams"
	tools, ff := newFake(map[string]fakeVideo{
		"/cams/a.mp4":     {frames: 10, rate: "10/1"},
		"/cams/b.mp4":     {frames: 10, rate: "10/1", fail: true},
		"/cams/sub/c.mp4": {frames: 4, rate: "2/1"},
	})
	dest := t.TempDir()

	got, err := ff.ExtractAll(context.Background(), FolderRequest{
		Root:        root,
		Videos:      []string{"/cams/a.mp4", "/cams/b.mp4", "/cams/sub/c.mp4"},
		Dest:        dest,
		EveryN:      2,
		Overwrite:   true,
		Concurrency: 2,
	})
	require.NoError(t, err)
	require.Len(t, got.Videos, 3)

	assert.NoError(t, got.Videos[0].Err)
	assert.Error(t, got.Videos[1].Err)
	assert.Nil(t, got.Videos[1].Frames)
	assert.NoError(t, got.Videos[2].Err)

	assert.Equal(t, "sub/c.mp4", got.Videos[2].Rel)
	assert.Equal(t, filepath.Join(dest, "sub", "c.mp4", "frame000002.jpg"), got.Videos[2].Frames.Paths[1])
	assert.Len(t, got.Paths(), 7)
	assert.Equal(t, map[string]float64{"a.mp4": 10, "sub/c.mp4": 2}, got.FrameRates())
	assert.EqualValues(t, 3, tools.extractCalls.Load())
}

func TestExtractFolder_VideoOutsideRoot(t *testing.T) {
	_, ff := newFake(nil)
	got, err := ExtractFolder(context.Background(), ff, FolderRequest{Root: "/cams", Videos: []string{"/other/x.mp4"}, Dest: t.TempDir()})
	require.NoError(t, err)
	assert.Error(t, got.Videos[0].Err)
}

func TestExtractFolder_Cancelled(t *testing.T) {
	_, ff := newFake(map[string]fakeVideo{"/cams/a.mp4": {frames: 2, rate: "1/1"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExtractFolder(ctx, ff, FolderRequest{Root: "/cams", Videos: []string{"/cams/a.mp4"}, Dest: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}
