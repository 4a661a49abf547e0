package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/camtrap-video/internal/logging"
	"github.com/heimdex/camtrap-video/internal/results"
)

func writeFrame(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.Black)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
}

func TestDrawDetections_Threshold(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	dets := []results.Detection{
		{Category: "1", Conf: 0.9, BBox: [4]float64{0.1, 0.1, 0.5, 0.5}},
		{Category: "2", Conf: 0.1, BBox: [4]float64{0.2, 0.2, 0.2, 0.2}},
		{Category: "9", Conf: 0.5, BBox: [4]float64{1.2, 1.2, 0.1, 0.1}},
	}

	assert.Equal(t, 1, DrawDetections(img, dets, 0.2))

	edge := img.RGBAAt(10, 30)
	assert.Equal(t, categoryColors["1"], edge, "left edge of the box is drawn")
	inside := img.RGBAAt(35, 35)
	assert.Equal(t, color.RGBA{}, inside, "box interior untouched")
}

func TestRender_SingleVideo(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	for _, n := range []string{"frame000000.jpg", "frame000005.jpg", "frame000010.jpg"} {
		writeFrame(t, filepath.Join(frames, n))
	}
	writeFrame(t, filepath.Join(frames, ".staging-x", "000001.jpg"))

	resultPath := filepath.Join(dir, "r.json")
	require.NoError(t, results.Write(resultPath, &results.Batch{Images: []results.Image{
		{File: "frame000000.jpg", Detections: []results.Detection{{Category: "1", Conf: 0.9, BBox: [4]float64{0.1, 0.1, 0.5, 0.5}}}},
		{File: "frame000005.jpg", Detections: []results.Detection{}},
	}}))

	out := filepath.Join(dir, "rendered")
	got, err := NewBoxes(logging.Discard()).Render(context.Background(), Request{
		ResultPath: resultPath,
		FramesDir:  frames,
		OutDir:     out,
		Threshold:  0.2,
		Workers:    2,
	})
	require.NoError(t, err)

	require.Len(t, got, 3, "frames without results are rendered too")
	assert.Equal(t, filepath.Join(out, "frame000000.jpg"), got[0])
	assert.Equal(t, filepath.Join(out, "frame000010.jpg"), got[2])
	for _, p := range got {
		assert.FileExists(t, p)
	}
}

func TestRender_PreserveAndFlatten(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	writeFrame(t, filepath.Join(frames, "sub", "a.mp4", "frame000000.jpg"))
	writeFrame(t, filepath.Join(frames, "b.mp4", "frame000000.jpg"))

	resultPath := filepath.Join(dir, "r.frames.json")
	require.NoError(t, results.Write(resultPath, &results.Batch{Images: []results.Image{}}))

	r := NewBoxes(logging.Discard())
	kept, err := r.Render(context.Background(), Request{ResultPath: resultPath, FramesDir: frames, OutDir: filepath.Join(dir, "p"), PreserveStructure: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "p", "b.mp4", "frame000000.jpg"),
		filepath.Join(dir, "p", "sub", "a.mp4", "frame000000.jpg"),
	}, kept)

	flat, err := r.Render(context.Background(), Request{ResultPath: resultPath, FramesDir: frames, OutDir: filepath.Join(dir, "f")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "f", "sub~a.mp4~frame000000.jpg"), flat[1])
}

func TestRender_ExplicitFrameList(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	writeFrame(t, filepath.Join(frames, "frame000000.jpg"))
	writeFrame(t, filepath.Join(frames, "frame000001.jpg"))
	writeFrame(t, filepath.Join(frames, "frame000005.jpg"))

	resultPath := filepath.Join(dir, "r.json")
	require.NoError(t, results.Write(resultPath, &results.Batch{Images: []results.Image{}}))

	r := NewBoxes(logging.Discard())
	got, err := r.Render(context.Background(), Request{
		ResultPath: resultPath,
		FramesDir:  frames,
		OutDir:     filepath.Join(dir, "out"),
		Frames:     []string{filepath.Join(frames, "frame000005.jpg"), filepath.Join(frames, "frame000000.jpg")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "out", "frame000000.jpg"),
		filepath.Join(dir, "out", "frame000005.jpg"),
	}, got, "stale frames outside the list are ignored")

	_, err = r.Render(context.Background(), Request{
		ResultPath: resultPath,
		FramesDir:  frames,
		OutDir:     filepath.Join(dir, "out"),
		Frames:     []string{filepath.Join(dir, "elsewhere.jpg")},
	})
	assert.Error(t, err)
}

func TestRender_Errors(t *testing.T) {
	dir := t.TempDir()
	r := NewBoxes(logging.Discard())

	_, err := r.Render(context.Background(), Request{ResultPath: filepath.Join(dir, "missing.json"), FramesDir: dir, OutDir: dir})
	assert.Error(t, err)

	resultPath := filepath.Join(dir, "r.json")
	require.NoError(t, results.Write(resultPath, &results.Batch{Images: []results.Image{}}))
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	_, err = r.Render(context.Background(), Request{ResultPath: resultPath, FramesDir: empty, OutDir: filepath.Join(dir, "o")})
	assert.Error(t, err)
}

func TestFramesFor_SeparatorBounded(t *testing.T) {
	dir := "/r"
	rendered := []string{
		filepath.Join(dir, "cam1.mp4", "frame000000.jpg"),
		filepath.Join(dir, "cam1.mp4", "frame000005.jpg"),
		filepath.Join(dir, "cam1.mp4x", "frame000000.jpg"),
		filepath.Join(dir, "sub", "cam1.mp4", "frame000000.jpg"),
	}

	got, err := FramesFor(rendered, dir, "cam1.mp4")
	require.NoError(t, err)
	assert.Equal(t, rendered[:2], got)

	got, err = FramesFor(rendered, dir, "sub/cam1.mp4")
	require.NoError(t, err)
	assert.Equal(t, rendered[3:], got)

	_, err = FramesFor(rendered, dir, "cam2.mp4")
	assert.True(t, errors.Is(err, ErrNoFrames))
}
