// Package render draws detection boxes onto frame images.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/camtrap-video/internal/results"
)

const jpegQuality = 90

// Request renders every frame under FramesDir into OutDir.
type Request struct {
	// ResultPath is a frame-level artifact whose file keys are relative to
	// FramesDir.
	ResultPath string
	FramesDir  string
	OutDir     string
	Threshold  float64
	// PreserveStructure keeps FramesDir's sub-directories in OutDir;
	// otherwise output names are flattened.
	PreserveStructure bool
	// Frames restricts rendering to these paths under FramesDir; empty
	// means every frame found there.
	Frames  []string
	Workers int
}

// Renderer produces annotated frames and returns their paths in
// presentation order.
type Renderer interface {
	Render(ctx context.Context, req Request) ([]string, error)
}

// Boxes is the stock Renderer.
type Boxes struct {
	Logger *slog.Logger
}

// NewBoxes creates a box renderer.
func NewBoxes(logger *slog.Logger) *Boxes {
	return &Boxes{Logger: logger}
}

// Render draws every frame found under FramesDir, including frames that have
// no entry in the artifact; those are copied through unannotated.
func (r *Boxes) Render(ctx context.Context, req Request) ([]string, error) {
	batch, err := results.Load(req.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	byFile := batch.ByFile()

	frames, err := selectFrames(req)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames under %s", req.FramesDir)
	}

	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}

	workers := req.Workers
	if workers < 1 {
		workers = 1
	}

	outputs := make([]string, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, rel := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(req.OutDir, outputName(rel, req.PreserveStructure))
			var dets []results.Detection
			if im, ok := byFile[rel]; ok {
				dets = im.Detections
			}
			if err := renderFrame(filepath.Join(req.FramesDir, filepath.FromSlash(rel)), dst, dets, req.Threshold); err != nil {
				return fmt.Errorf("render %s: %w", rel, err)
			}
			outputs[i] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.Logger.Debug("rendered frames", "count", len(outputs), "dir", req.OutDir)
	return outputs, nil
}

func selectFrames(req Request) ([]string, error) {
	if len(req.Frames) == 0 {
		return ListFrames(req.FramesDir)
	}
	frames := make([]string, 0, len(req.Frames))
	for _, p := range req.Frames {
		rel, err := filepath.Rel(req.FramesDir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("frame %s is outside %s", p, req.FramesDir)
		}
		frames = append(frames, filepath.ToSlash(rel))
	}
	sort.Strings(frames)
	return frames, nil
}

// ListFrames returns the relative, slash-separated paths of every frame
// image under dir in presentation order. Staging directories are skipped.
func ListFrames(dir string) ([]string, error) {
	var frames []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(d.Name(), "frame") || !strings.EqualFold(filepath.Ext(d.Name()), ".jpg") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		frames = append(frames, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list frames in %s: %w", dir, err)
	}
	sort.Strings(frames)
	return frames, nil
}

func outputName(rel string, preserve bool) string {
	if preserve {
		return filepath.FromSlash(rel)
	}
	return strings.ReplaceAll(rel, "/", "~")
}

func renderFrame(src, dst string, dets []results.Detection, threshold float64) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	canvas := image.NewRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)
	DrawDetections(canvas, dets, threshold)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		out.Close()
		return fmt.Errorf("encode: %w", err)
	}
	return out.Close()
}

var categoryColors = map[string]color.RGBA{
	"1": {R: 0xff, G: 0x45, B: 0x00, A: 0xff},
	"2": {R: 0x1e, G: 0x90, B: 0xff, A: 0xff},
	"3": {R: 0xff, G: 0xd7, B: 0x00, A: 0xff},
}

var fallbackColor = color.RGBA{R: 0x32, G: 0xcd, B: 0x32, A: 0xff}

// DrawDetections outlines every detection at or above threshold. Boxes are
// normalized to the image size; the line width scales with the image.
func DrawDetections(img draw.Image, dets []results.Detection, threshold float64) int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	thickness := max(2, min(w, h)/200)

	drawn := 0
	for _, d := range dets {
		if d.Conf < threshold {
			continue
		}
		x0 := b.Min.X + int(d.BBox[0]*float64(w))
		y0 := b.Min.Y + int(d.BBox[1]*float64(h))
		x1 := x0 + int(d.BBox[2]*float64(w))
		y1 := y0 + int(d.BBox[3]*float64(h))
		rect := image.Rect(x0, y0, x1, y1).Intersect(b)
		if rect.Empty() {
			continue
		}
		c, ok := categoryColors[d.Category]
		if !ok {
			c = fallbackColor
		}
		outline(img, rect, thickness, c)
		drawn++
	}
	return drawn
}

func outline(img draw.Image, r image.Rectangle, t int, c color.Color) {
	src := image.NewUniform(c)
	t = min(t, r.Dx()/2+1, r.Dy()/2+1)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// ErrNoFrames is returned by FramesFor when a video owns no frames.
var ErrNoFrames = errors.New("no frames")

// FramesFor picks the frames of one video out of a folder laid out as
// <dir>/<videoRel>/frameNNNNNN.jpg, extracted or rendered with preserved
// structure. A frame matches when it lies inside <dir>/<videoRel>/, so
// "cam1.mp4" never claims frames of "cam1.mp4x".
func FramesFor(rendered []string, dir, videoRel string) ([]string, error) {
	prefix := filepath.Join(dir, filepath.FromSlash(videoRel)) + string(filepath.Separator)
	var out []string
	for _, p := range rendered {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", videoRel, ErrNoFrames)
	}
	return out, nil
}
