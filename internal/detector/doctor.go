package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/camtrap-video/internal/proc"
)

const defaultCacheTTL = 5 * time.Minute

// moduleProbe prints the interpreter version and whether argv[1] imports.
const moduleProbe = `import importlib.util, json, platform, sys
print(json.dumps({"version": platform.python_version(), "found": importlib.util.find_spec(sys.argv[1].split(".")[0]) is not None and importlib.util.find_spec(sys.argv[1]) is not None}))`

// Prober probes the detection environment.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Doctor checks python, the detector module and the ffmpeg tools.
type Doctor struct {
	Python  string // configured python; empty = auto-detect
	Module  string
	FFmpeg  string
	FFprobe string
	Timeout time.Duration
	Runner  proc.Runner
	Logger  *slog.Logger
}

// Probe never fails on a missing dependency; it records it instead.
func (d *Doctor) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		DetectorModule: DepInfo{Name: d.Module},
		Executables:    make(map[string]DepInfo, 2),
		ProbedAt:       time.Now(),
	}

	for name, bin := range map[string]string{"ffmpeg": d.FFmpeg, "ffprobe": d.FFprobe} {
		info := DepInfo{Name: name}
		if p, err := proc.LookPath(bin); err != nil {
			info.Error = err.Error()
		} else {
			info.Available = true
			info.Path = p
		}
		caps.Executables[name] = info
	}

	python, err := proc.ResolvePython(d.Python)
	if err != nil {
		caps.Python.Error = err.Error()
		caps.DetectorModule.Error = "python unavailable"
		d.log(caps)
		return caps, nil
	}
	caps.Python.Executable = python

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := d.Runner.Run(ctx, proc.Command{
		Name:          python,
		Args:          []string{"-c", moduleProbe, d.Module},
		CaptureStdout: true,
	})
	if err := res.Err(); err != nil {
		caps.DetectorModule.Error = err.Error()
		d.log(caps)
		return caps, nil
	}

	var out struct {
		Version string `json:"version"`
		Found   bool   `json:"found"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(res.Stdout))), &out); err != nil {
		caps.DetectorModule.Error = "cannot parse probe output: " + err.Error()
		d.log(caps)
		return caps, nil
	}
	caps.Python.Version = out.Version
	caps.DetectorModule.Available = out.Found
	if !out.Found {
		caps.DetectorModule.Error = "module not importable"
	}

	d.log(caps)
	return caps, nil
}

func (d *Doctor) log(caps *Capabilities) {
	d.Logger.Info("doctor probe complete",
		"python", caps.Python.Version,
		"detector_module", caps.DetectorModule.Available,
		"ffmpeg", caps.Executables["ffmpeg"].Available,
		"ffprobe", caps.Executables["ffprobe"].Available,
		"ready", caps.Ready(),
	)
}

// CachedDoctor wraps a Prober to cache results with a configurable TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
