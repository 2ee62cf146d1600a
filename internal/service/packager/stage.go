package packager

import "fmt"

// Stage is a step of the pipeline.
type Stage int

// Pipeline stages in execution order.
const (
	StageSetup Stage = iota + 1
	StageFetch
	StageArchive
	StagePublish
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "setup"
	case StageFetch:
		return "fetch"
	case StageArchive:
		return "archive"
	case StagePublish:
		return "publish"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// State is the pipeline position after the last completed stage.
type State int

// Pipeline states.
const (
	StateInit State = iota
	StateDirsReady
	StateFetchedVerified
	StateArchived
	StatePublished
	StateDone
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDirsReady:
		return "dirs-ready"
	case StateFetchedVerified:
		return "fetched-verified"
	case StateArchived:
		return "archived"
	case StatePublished:
		return "published"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StageError reports the stage a build failed in.
type StageError struct {
	// Stage is where the pipeline stopped.
	Stage Stage
	// Err is the precipitating error.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the precipitating error.
func (e *StageError) Unwrap() error {
	return e.Err
}
