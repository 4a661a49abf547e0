package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/heimdex/camtrap-video/internal/proc"
)

const stagingPrefix = ".staging-"

// FFmpeg extracts and assembles frames with the ffmpeg and ffprobe CLIs.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Runner      proc.Runner
	Logger      *slog.Logger
}

// NewFFmpeg creates an FFmpeg using runner for subprocesses.
func NewFFmpeg(ffmpegPath, ffprobePath string, runner proc.Runner, logger *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Runner: runner, Logger: logger}
}

// ProbeResult is what extraction needs to know about a video stream.
type ProbeResult struct {
	FrameCount int
	FrameRate  float64
}

// Probe reads the frame count and frame rate of the first video stream.
// Containers that do not record a frame count are decoded to count frames.
func (f *FFmpeg) Probe(ctx context.Context, video string) (*ProbeResult, error) {
	res := f.Runner.Run(ctx, proc.Command{
		Name: f.FFprobePath,
		Args: []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "stream=nb_frames,r_frame_rate,avg_frame_rate",
			"-of", "json",
			video,
		},
		CaptureStdout: true,
	})
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(video), err)
	}

	probe, err := parseProbe(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(video), err)
	}
	if probe.FrameCount > 0 {
		return probe, nil
	}

	res = f.Runner.Run(ctx, proc.Command{
		Name: f.FFprobePath,
		Args: []string{
			"-v", "error",
			"-count_frames",
			"-select_streams", "v:0",
			"-show_entries", "stream=nb_read_frames",
			"-of", "json",
			video,
		},
		CaptureStdout: true,
	})
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("count frames %s: %w", filepath.Base(video), err)
	}
	counted, err := parseProbe(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("count frames %s: %w", filepath.Base(video), err)
	}
	probe.FrameCount = counted.FrameCount
	return probe, nil
}

type probeJSON struct {
	Streams []struct {
		NbFrames     string `json:"nb_frames"`
		NbReadFrames string `json:"nb_read_frames"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var pj probeJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	if len(pj.Streams) == 0 {
		return nil, errors.New("no video stream")
	}
	s := pj.Streams[0]

	out := &ProbeResult{}
	for _, v := range []string{s.NbFrames, s.NbReadFrames} {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			out.FrameCount = n
			break
		}
	}
	out.FrameRate = parseRate(s.AvgFrameRate)
	if out.FrameRate <= 0 {
		out.FrameRate = parseRate(s.RFrameRate)
	}
	return out, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// Extract writes every everyN-th frame of video into destDir as
// frameNNNNNN.jpg, where NNNNNN is the source frame index. Without
// overwrite, frames already on disk are kept, and ffmpeg is skipped
// entirely when all of them are present. A video that decodes to no frames
// yields an empty Frames, not an error.
func (f *FFmpeg) Extract(ctx context.Context, video, destDir string, everyN int, overwrite bool) (*Frames, error) {
	if everyN < 1 {
		everyN = 1
	}

	probe, err := f.Probe(ctx, video)
	if err != nil {
		return nil, err
	}
	if probe.FrameRate <= 0 {
		return nil, fmt.Errorf("%s: unknown frame rate", filepath.Base(video))
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	if !overwrite {
		if paths, ok := existingFrames(destDir, probe.FrameCount, everyN); ok {
			f.Logger.Debug("reusing extracted frames", "video", filepath.Base(video), "frames", len(paths))
			return &Frames{Video: video, Dir: destDir, Paths: paths, FPS: probe.FrameRate}, nil
		}
	}

	staging := filepath.Join(destDir, stagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	res := f.Runner.Run(ctx, proc.Command{
		Name: f.FFmpegPath,
		Args: extractArgs(video, staging, everyN),
	})
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("ffmpeg extract %s: %w", filepath.Base(video), err)
	}

	paths, err := finalizeStaged(staging, destDir, everyN, overwrite)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		f.Logger.Warn("no frames decoded", "video", filepath.Base(video))
	}

	return &Frames{Video: video, Dir: destDir, Paths: paths, FPS: probe.FrameRate}, nil
}

// ExtractAll extracts a folder of videos.
func (f *FFmpeg) ExtractAll(ctx context.Context, req FolderRequest) (*FolderFrames, error) {
	return ExtractFolder(ctx, f, req)
}

func extractArgs(video, staging string, everyN int) []string {
	args := []string{"-nostdin", "-v", "error", "-i", video}
	if everyN > 1 {
		args = append(args, "-vf", fmt.Sprintf("select=not(mod(n\\,%d))", everyN))
	}
	return append(args, "-vsync", "vfr", "-q:v", "2", filepath.Join(staging, "%06d.jpg"))
}

// existingFrames reports whether all ExpectedCount(total, everyN) frames are
// already in dir.
func existingFrames(dir string, total, everyN int) ([]string, bool) {
	n := ExpectedCount(total, everyN)
	if n == 0 {
		return nil, false
	}
	paths := make([]string, 0, n)
	for k := 0; k < n; k++ {
		p := filepath.Join(dir, FrameName(k*everyN))
		if _, err := os.Stat(p); err != nil {
			return nil, false
		}
		paths = append(paths, p)
	}
	return paths, true
}

// finalizeStaged moves staged frame k to destDir/frame<k*everyN>.jpg and
// returns the final paths in order.
func finalizeStaged(staging, destDir string, everyN int, overwrite bool) ([]string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for k, name := range names {
		dst := filepath.Join(destDir, FrameName(k*everyN))
		src := filepath.Join(staging, name)
		if !overwrite {
			if _, err := os.Stat(dst); err == nil {
				paths = append(paths, dst)
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("stat %s: %w", dst, err)
			}
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("move frame %d: %w", k, err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// Assemble encodes frames into out at fps using the codec's fourcc.
func (f *FFmpeg) Assemble(ctx context.Context, frames []string, fps float64, out, codec string) error {
	if len(frames) == 0 {
		return errors.New("assemble: no frames")
	}
	if fps <= 0 {
		return fmt.Errorf("assemble: invalid frame rate %v", fps)
	}
	encoder, err := encoderFor(codec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	list, err := os.CreateTemp(filepath.Dir(out), ".concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	if _, err := list.WriteString(concatList(frames, fps)); err != nil {
		list.Close()
		return fmt.Errorf("write concat list: %w", err)
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}

	res := f.Runner.Run(ctx, proc.Command{
		Name: f.FFmpegPath,
		Args: []string{
			"-nostdin", "-y", "-v", "error",
			"-f", "concat", "-safe", "0", "-i", list.Name(),
			"-r", strconv.FormatFloat(fps, 'f', -1, 64),
			"-c:v", encoder,
			"-pix_fmt", "yuv420p",
			out,
		},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("ffmpeg assemble %s: %w", filepath.Base(out), err)
	}
	return nil
}

// concatList renders an ffconcat script showing each frame for 1/fps
// seconds. The last frame is repeated so its duration is honoured.
func concatList(frames []string, fps float64) string {
	d := strconv.FormatFloat(1/fps, 'f', 6, 64)
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, fr := range frames {
		fmt.Fprintf(&b, "file '%s'\nduration %s\n", escapeConcat(fr), d)
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeConcat(frames[len(frames)-1]))
	return b.String()
}

func escapeConcat(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// encoderFor maps fourcc codes to ffmpeg encoders.
func encoderFor(codec string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case "", "h264", "avc1", "x264":
		return "libx264", nil
	case "hevc", "h265", "hvc1", "x265":
		return "libx265", nil
	case "mp4v", "mpeg4", "xvid", "divx":
		return "mpeg4", nil
	case "mjpg", "mjpeg":
		return "mjpeg", nil
	case "vp09", "vp9":
		return "libvpx-vp9", nil
	default:
		return "", fmt.Errorf("unsupported codec %q", codec)
	}
}
