package proc

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/camtrap-video/internal/logging"
)

func TestLimitedWriter_KeepsTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 8}

	n, err := lw.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", buf.String())

	_, _ = lw.Write([]byte("ab"))
	assert.Equal(t, "456789ab", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "...6789", Truncate("0123456789", 4))
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, Result{}.Err())

	err := Result{ExitCode: 3, StderrTail: "boom"}.Err()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, err.Error(), "boom")
}

func TestExec_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	sh, err := LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	e := NewExec(logging.Discard())

	ok := e.Run(context.Background(), Command{Name: sh, Args: []string{"-c", "printf hello"}, CaptureStdout: true})
	assert.True(t, ok.IsSuccess())
	assert.Equal(t, "hello", string(ok.Stdout))

	bad := e.Run(context.Background(), Command{Name: sh, Args: []string{"-c", "echo nope >&2; exit 4"}})
	assert.Equal(t, 4, bad.ExitCode)
	assert.Equal(t, "nope", strings.TrimSpace(bad.StderrTail))

	missing := e.Run(context.Background(), Command{Name: "/nonexistent/binary"})
	assert.Equal(t, -1, missing.ExitCode)
	assert.NotEmpty(t, missing.StderrTail)
}
