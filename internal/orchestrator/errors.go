package orchestrator

import (
	"errors"
	"fmt"
)

// Stage error kinds. Match with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrExtraction = errors.New("frame extraction failed")
	ErrDetection  = errors.New("detection failed")
	ErrRender     = errors.New("rendering failed")
	ErrCleanup    = errors.New("cleanup failed")
)

// StageError attributes a failure to a stage and, where known, a video.
type StageError struct {
	Kind  error
	Video string
	Err   error
}

func (e *StageError) Error() string {
	if e.Video != "" {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Video, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Is matches the stage kind.
func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(kind error, video string, err error) *StageError {
	return &StageError{Kind: kind, Video: video, Err: err}
}
