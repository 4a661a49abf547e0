package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ExtractFolder runs x over every video in req with at most req.Concurrency
// extractions in flight. A failing video does not stop its siblings; its
// error is recorded in its slot.
func ExtractFolder(ctx context.Context, x Extractor, req FolderRequest) (*FolderFrames, error) {
	out := &FolderFrames{
		Root:   req.Root,
		Dest:   req.Dest,
		Videos: make([]VideoFrames, len(req.Videos)),
	}

	limit := req.Concurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, video := range req.Videos {
		g.Go(func() error {
			slot := VideoFrames{Video: video}
			rel, err := relVideoPath(req.Root, video)
			if err != nil {
				slot.Err = err
				out.Videos[i] = slot
				return nil
			}
			slot.Rel = rel

			if err := ctx.Err(); err != nil {
				slot.Err = err
				out.Videos[i] = slot
				return nil
			}

			frames, err := x.Extract(ctx, video, filepath.Join(req.Dest, filepath.FromSlash(rel)), req.EveryN, req.Overwrite)
			if err != nil {
				slot.Err = err
			} else {
				slot.Frames = frames
			}
			out.Videos[i] = slot
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func relVideoPath(root, video string) (string, error) {
	rel, err := filepath.Rel(root, video)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", video, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside %s", video, root)
	}
	return filepath.ToSlash(rel), nil
}
