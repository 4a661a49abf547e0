// Package results defines the detector output artifact: a self-describing
// JSON document with detector info, category names and per-image detections.
// Frame-level artifacts key images by frame path; video-level artifacts key
// them by source video path.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

const FormatVersion = "1.3"

// DefaultCategories are the detector's built-in classes.
var DefaultCategories = map[string]string{
	"1": "animal",
	"2": "person",
	"3": "vehicle",
}

// Detection is one box. BBox is normalized [x_min, y_min, width, height].
type Detection struct {
	Category string     `json:"category"`
	Conf     float64    `json:"conf"`
	BBox     [4]float64 `json:"bbox"`
}

// Image is the result for one frame, or for one video after aggregation.
type Image struct {
	File             string      `json:"file"`
	FrameRate        float64     `json:"frame_rate,omitempty"`
	FrameCount       int         `json:"frame_count,omitempty"`
	MaxDetectionConf float64     `json:"max_detection_conf"`
	Detections       []Detection `json:"detections"`
	Failure          string      `json:"failure,omitempty"`
}

// Info describes how an artifact was produced.
type Info struct {
	Detector        string             `json:"detector"`
	CompletionTime  string             `json:"detection_completion_time,omitempty"`
	FormatVersion   string             `json:"format_version"`
	VideoFrameRate  float64            `json:"video_frame_rate,omitempty"`
	VideoFrameRates map[string]float64 `json:"video_frame_rates,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

// Batch is a complete artifact.
type Batch struct {
	Info       Info              `json:"info"`
	Categories map[string]string `json:"detection_categories"`
	Images     []Image           `json:"images"`
}

// Metadata is attached to a batch when it is persisted.
type Metadata struct {
	// FrameRate is the source rate of a single video.
	FrameRate float64
	// FrameRates maps relative video paths to source rates in folder runs.
	FrameRates map[string]float64
	Extra      map[string]string
}

var ErrInvalidArtifact = errors.New("invalid result artifact")

// Validate checks the invariants every artifact must hold.
func (b *Batch) Validate() error {
	if b.Images == nil {
		return fmt.Errorf("%w: missing images", ErrInvalidArtifact)
	}
	seen := make(map[string]bool, len(b.Images))
	for i, im := range b.Images {
		if im.File == "" {
			return fmt.Errorf("%w: image %d has no file", ErrInvalidArtifact, i)
		}
		if seen[im.File] {
			return fmt.Errorf("%w: duplicate image %s", ErrInvalidArtifact, im.File)
		}
		seen[im.File] = true
		for _, d := range im.Detections {
			if d.Conf < 0 || d.Conf > 1 || math.IsNaN(d.Conf) {
				return fmt.Errorf("%w: %s has confidence %v", ErrInvalidArtifact, im.File, d.Conf)
			}
		}
	}
	return nil
}

// Relativize rewrites image paths relative to base using forward slashes.
// Every image must live under base.
func (b *Batch) Relativize(base string) error {
	for i := range b.Images {
		f := b.Images[i].File
		if !filepath.IsAbs(f) {
			b.Images[i].File = filepath.ToSlash(f)
			continue
		}
		rel, err := filepath.Rel(base, f)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", f, err)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("relativize: %s is outside %s", f, base)
		}
		b.Images[i].File = filepath.ToSlash(rel)
	}
	return nil
}

// ByFile indexes images by their file key.
func (b *Batch) ByFile() map[string]*Image {
	m := make(map[string]*Image, len(b.Images))
	for i := range b.Images {
		m[b.Images[i].File] = &b.Images[i]
	}
	return m
}

// Detector returns the detector identifier recorded in the artifact.
func (b *Batch) Detector() string {
	return b.Info.Detector
}

// Persist relativizes b against relativeBase, stamps metadata and writes it
// atomically to dest.
func Persist(dest string, b *Batch, relativeBase string, meta Metadata) error {
	if relativeBase != "" {
		if err := b.Relativize(relativeBase); err != nil {
			return err
		}
	}
	if meta.FrameRate > 0 {
		b.Info.VideoFrameRate = meta.FrameRate
	}
	if len(meta.FrameRates) > 0 {
		b.Info.VideoFrameRates = meta.FrameRates
	}
	if len(meta.Extra) > 0 {
		if b.Info.Metadata == nil {
			b.Info.Metadata = make(map[string]string, len(meta.Extra))
		}
		for k, v := range meta.Extra {
			b.Info.Metadata[k] = v
		}
	}
	if b.Info.FormatVersion == "" {
		b.Info.FormatVersion = FormatVersion
	}
	if b.Info.CompletionTime == "" {
		b.Info.CompletionTime = time.Now().UTC().Format(time.RFC3339)
	}
	if b.Categories == nil {
		b.Categories = DefaultCategories
	}
	for i := range b.Images {
		b.Images[i].MaxDetectionConf = maxConf(b.Images[i].Detections)
		if b.Images[i].Detections == nil {
			b.Images[i].Detections = []Detection{}
		}
	}
	return Write(dest, b)
}

// Write stores b at dest. The file is replaced atomically, so readers never
// observe a partial artifact.
func Write(dest string, b *Batch) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(dest)
	if err != nil {
		return fmt.Errorf("create pending artifact: %w", err)
	}
	defer pending.Cleanup()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", filepath.Base(dest), err)
	}
	return nil
}

// Load reads and validates an artifact.
func Load(src string) (*Batch, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// VideoOf returns the video key a frame-level file belongs to: its parent
// directory, or "" for files at the root of the frame workspace.
func VideoOf(file string) string {
	dir := path.Dir(filepath.ToSlash(file))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func maxConf(ds []Detection) float64 {
	m := 0.0
	for _, d := range ds {
		if d.Conf > m {
			m = d.Conf
		}
	}
	return m
}
