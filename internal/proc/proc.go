// Package proc runs external tools (ffmpeg, ffprobe, the detector) as
// subprocesses with a bounded stderr tail kept for diagnostics.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Command describes one subprocess invocation.
type Command struct {
	Name string
	Args []string
	// CaptureStdout keeps stdout in Result.Stdout; otherwise it is discarded.
	CaptureStdout bool
}

// Result is the structured outcome of a subprocess.
type Result struct {
	ExitCode   int
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

// Err converts a failed result into an error carrying the stderr tail.
func (r Result) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &ExitError{Code: r.ExitCode, StderrTail: r.StderrTail}
}

// ExitError reports a non-zero exit.
type ExitError struct {
	Code       int
	StderrTail string
}

func (e *ExitError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("exited %d", e.Code)
	}
	return fmt.Sprintf("exited %d: %s", e.Code, Truncate(e.StderrTail, 512))
}

// Runner executes commands. Tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// Exec is the os/exec backed Runner.
type Exec struct {
	Logger *slog.Logger
}

// NewExec creates an Exec runner.
func NewExec(logger *slog.Logger) *Exec {
	return &Exec{Logger: logger}
}

// Run executes cmd and waits for it. Cancelling ctx kills the process.
func (e *Exec) Run(ctx context.Context, c Command) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)

	var stderrBuf, stdoutBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if c.CaptureStdout {
		cmd.Stdout = &stdoutBuf
	} else {
		cmd.Stdout = io.Discard
	}

	e.Logger.Debug("executing command", "name", c.Name, "args", c.Args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	stderrTail := stderrBuf.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if exitCode == 0 {
				exitCode = -1
			}
		} else {
			exitCode = -1
			if stderrTail == "" {
				stderrTail = err.Error()
			}
		}
	}

	if exitCode != 0 {
		e.Logger.Warn("command failed",
			"name", c.Name,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", Truncate(stderrTail, 512),
		)
	} else {
		e.Logger.Debug("command succeeded",
			"name", c.Name,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return Result{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.Bytes(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// LookPath resolves name on PATH.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// ResolvePython finds a usable python binary.
func ResolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
