package results

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameBatch() *Batch {
	return &Batch{
		Info:       Info{Detector: "MDV5A", FormatVersion: FormatVersion},
		Categories: DefaultCategories,
		Images: []Image{
			{File: "a.mp4/frame000000.jpg", Detections: []Detection{
				{Category: "1", Conf: 0.4, BBox: [4]float64{0.1, 0.1, 0.2, 0.2}},
			}},
			{File: "a.mp4/frame000001.jpg", Detections: []Detection{
				{Category: "1", Conf: 0.9, BBox: [4]float64{0.2, 0.2, 0.2, 0.2}},
				{Category: "2", Conf: 0.3, BBox: [4]float64{0.5, 0.5, 0.1, 0.1}},
			}},
			{File: "sub/b.avi/frame000000.jpg", Detections: []Detection{}},
			{File: "sub/b.avi/frame000001.jpg", Failure: "image access failed"},
		},
	}
}

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "video.json")

	b := &Batch{
		Info: Info{Detector: "MDV5A"},
		Images: []Image{
			{File: filepath.Join(dir, "frames", "frame000000.jpg"), Detections: []Detection{
				{Category: "1", Conf: 0.7, BBox: [4]float64{0, 0, 0.5, 0.5}},
			}},
			{File: filepath.Join(dir, "frames", "frame000001.jpg")},
		},
	}

	require.NoError(t, Persist(dest, b, filepath.Join(dir, "frames"), Metadata{FrameRate: 29.97}))

	got, err := Load(dest)
	require.NoError(t, err)
	assert.Equal(t, "frame000000.jpg", got.Images[0].File)
	assert.Equal(t, 0.7, got.Images[0].MaxDetectionConf)
	assert.NotNil(t, got.Images[1].Detections)
	assert.Equal(t, 29.97, got.Info.VideoFrameRate)
	assert.Equal(t, FormatVersion, got.Info.FormatVersion)
	assert.NotEmpty(t, got.Info.CompletionTime)
	assert.Equal(t, DefaultCategories, got.Categories)

	var raw map[string]any
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	info := raw["info"].(map[string]any)
	assert.EqualValues(t, 29.97, info["video_frame_rate"])
	assert.NotContains(t, info, "video_frame_rates")
}

func TestPersist_RejectsFramesOutsideBase(t *testing.T) {
	dir := t.TempDir()
	b := &Batch{Images: []Image{{File: filepath.Join(dir, "elsewhere", "f.jpg")}}}

	err := Persist(filepath.Join(dir, "r.json"), b, filepath.Join(dir, "frames"), Metadata{})
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "r.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := map[string]string{
		"not json":       "{",
		"missing images": `{"info":{"detector":"x"}}`,
		"empty file key": `{"images":[{"file":""}]}`,
		"bad confidence": `{"images":[{"file":"f.jpg","detections":[{"category":"1","conf":1.5,"bbox":[0,0,1,1]}]}]}`,
		"duplicate":      `{"images":[{"file":"f.jpg"},{"file":"f.jpg"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
			_, err := Load(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArtifact))
		})
	}

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestVideoOf(t *testing.T) {
	assert.Equal(t, "a.mp4", VideoOf("a.mp4/frame000000.jpg"))
	assert.Equal(t, "sub/b.avi", VideoOf("sub/b.avi/frame000003.jpg"))
	assert.Equal(t, "", VideoOf("frame000000.jpg"))
}

func TestAggregateBatch(t *testing.T) {
	frames := frameBatch()
	frames.Info.VideoFrameRates = map[string]float64{"a.mp4": 30, "sub/b.avi": 25}

	videos, err := AggregateBatch(frames)
	require.NoError(t, err)

	want := []Image{
		{
			File: "a.mp4", FrameRate: 30, FrameCount: 2, MaxDetectionConf: 0.9,
			Detections: []Detection{
				{Category: "1", Conf: 0.9, BBox: [4]float64{0.2, 0.2, 0.2, 0.2}},
				{Category: "2", Conf: 0.3, BBox: [4]float64{0.5, 0.5, 0.1, 0.1}},
			},
		},
		{File: "sub/b.avi", FrameRate: 25, FrameCount: 2, Detections: []Detection{}},
	}
	if diff := cmp.Diff(want, videos.Images); diff != "" {
		t.Errorf("aggregated images mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, frames.Info.Detector, videos.Info.Detector)
}

func TestAggregateBatch_AllFramesFailed(t *testing.T) {
	frames := &Batch{Images: []Image{{File: "v.mp4/frame000000.jpg", Failure: "corrupt"}}}

	videos, err := AggregateBatch(frames)
	require.NoError(t, err)
	require.Len(t, videos.Images, 1)
	assert.Contains(t, videos.Images[0].Failure, "corrupt")
}

func TestAggregateBatch_PrefixNamesStayDistinct(t *testing.T) {
	frames := &Batch{Images: []Image{
		{File: "cam1.mp4/frame000000.jpg", Detections: []Detection{{Category: "1", Conf: 0.5}}},
		{File: "cam1.mp4x/frame000000.jpg", Detections: []Detection{{Category: "2", Conf: 0.6}}},
	}}

	videos, err := AggregateBatch(frames)
	require.NoError(t, err)
	require.Len(t, videos.Images, 2)
	assert.Equal(t, 1, videos.Images[0].FrameCount)
	assert.Equal(t, 1, videos.Images[1].FrameCount)
}

func TestAggregateBatch_RootFrameRejected(t *testing.T) {
	_, err := AggregateBatch(&Batch{Images: []Image{{File: "frame000000.jpg"}}})
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestAggregate_Files(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "run.frames.json")
	videoPath := filepath.Join(dir, "run.json")
	require.NoError(t, Write(framePath, frameBatch()))

	require.NoError(t, Aggregate(framePath, videoPath))

	got, err := Load(videoPath)
	require.NoError(t, err)
	assert.Len(t, got.Images, 2)
}
