package results

import (
	"fmt"
	"sort"
)

// Aggregate reads a frame-level artifact and writes the video-level artifact:
// one record per source video.
func Aggregate(frameResults, videoResults string) error {
	frames, err := Load(frameResults)
	if err != nil {
		return fmt.Errorf("load frame results: %w", err)
	}

	videos, err := AggregateBatch(frames)
	if err != nil {
		return err
	}
	return Write(videoResults, videos)
}

// AggregateBatch folds frames into videos. Each frame maps to exactly one
// video (its parent directory); per category the highest-confidence
// detection across the video's frames is kept.
func AggregateBatch(frames *Batch) (*Batch, error) {
	type acc struct {
		count    int
		failed   int
		failure  string
		best     map[string]Detection
		maxConf  float64
		hasFrame bool
	}

	byVideo := make(map[string]*acc)
	for _, im := range frames.Images {
		video := VideoOf(im.File)
		if video == "" {
			return nil, fmt.Errorf("%w: frame %s is not under a video directory", ErrInvalidArtifact, im.File)
		}
		a, ok := byVideo[video]
		if !ok {
			a = &acc{best: make(map[string]Detection)}
			byVideo[video] = a
		}
		a.count++
		if im.Failure != "" {
			a.failed++
			a.failure = im.Failure
			continue
		}
		a.hasFrame = true
		for _, d := range im.Detections {
			if cur, ok := a.best[d.Category]; !ok || d.Conf > cur.Conf {
				a.best[d.Category] = d
			}
			if d.Conf > a.maxConf {
				a.maxConf = d.Conf
			}
		}
	}

	keys := make([]string, 0, len(byVideo))
	for k := range byVideo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Batch{
		Info:       frames.Info,
		Categories: frames.Categories,
		Images:     make([]Image, 0, len(keys)),
	}

	for _, video := range keys {
		a := byVideo[video]
		im := Image{
			File:             video,
			FrameCount:       a.count,
			FrameRate:        frames.Info.VideoFrameRates[video],
			MaxDetectionConf: a.maxConf,
			Detections:       sortedDetections(a.best),
		}
		if !a.hasFrame {
			im.Failure = fmt.Sprintf("all %d frames failed: %s", a.failed, a.failure)
		}
		out.Images = append(out.Images, im)
	}

	return out, nil
}

func sortedDetections(best map[string]Detection) []Detection {
	ds := make([]Detection, 0, len(best))
	for _, d := range best {
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Conf != ds[j].Conf {
			return ds[i].Conf > ds[j].Conf
		}
		return ds[i].Category < ds[j].Category
	})
	return ds
}
