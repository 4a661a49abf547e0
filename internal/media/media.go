// Package media turns videos into ordered frame images and frame images back
// into videos.
package media

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Frames is the result of extracting one video.
type Frames struct {
	Video string
	Dir   string
	// Paths are absolute frame paths in presentation order.
	Paths []string
	FPS   float64
}

// FolderRequest asks for every video under Root to be extracted into a tree
// below Dest mirroring Root: <Dest>/<rel video path>/frameNNNNNN.jpg.
type FolderRequest struct {
	Root        string
	Videos      []string
	Dest        string
	EveryN      int
	Overwrite   bool
	Concurrency int
}

// VideoFrames is one slot of a folder extraction. Exactly one of Frames and
// Err is set.
type VideoFrames struct {
	Video  string
	Rel    string
	Frames *Frames
	Err    error
}

// FolderFrames holds per-video outcomes in the order of FolderRequest.Videos.
type FolderFrames struct {
	Root   string
	Dest   string
	Videos []VideoFrames
}

// Paths returns every extracted frame, grouped by video.
func (f *FolderFrames) Paths() []string {
	var out []string
	for _, v := range f.Videos {
		if v.Frames != nil {
			out = append(out, v.Frames.Paths...)
		}
	}
	return out
}

// FrameRates maps relative video paths to their source frame rates.
func (f *FolderFrames) FrameRates() map[string]float64 {
	m := make(map[string]float64, len(f.Videos))
	for _, v := range f.Videos {
		if v.Frames != nil {
			m[v.Rel] = v.Frames.FPS
		}
	}
	return m
}

// Extractor extracts one video.
type Extractor interface {
	Extract(ctx context.Context, video, destDir string, everyN int, overwrite bool) (*Frames, error)
}

// FrameExtractor extracts single videos and whole folders.
type FrameExtractor interface {
	Extractor
	ExtractAll(ctx context.Context, req FolderRequest) (*FolderFrames, error)
}

// VideoAssembler stitches frames into a video at a given rate.
type VideoAssembler interface {
	Assemble(ctx context.Context, frames []string, fps float64, out, codec string) error
}

// VideoExtensions are the container formats FindVideos picks up.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".mpeg": true,
	".mpg":  true,
	".wmv":  true,
	".m4v":  true,
	".asf":  true,
}

// IsVideoFile reports whether filename has a known video extension.
func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

// FindVideos lists video files under dir, sorted. Without recursive only
// the top level is searched. Hidden directories are skipped.
func FindVideos(dir string, recursive bool) ([]string, error) {
	var videos []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsVideoFile(d.Name()) {
			videos = append(videos, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find videos in %s: %w", dir, err)
	}
	sort.Strings(videos)
	return videos, nil
}

// FrameName is the file name of the frame at index i of its video.
func FrameName(i int) string {
	return fmt.Sprintf("frame%06d.jpg", i)
}

// ExpectedCount is the number of frames sampled from total frames with
// stride everyN: ceil(total/everyN).
func ExpectedCount(total, everyN int) int {
	if everyN < 1 {
		everyN = 1
	}
	if total <= 0 {
		return 0
	}
	return (total + everyN - 1) / everyN
}
