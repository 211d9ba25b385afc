package pipeline

import "time"

// Stage is one step of the acquisition pipeline. Stages always run in
// declaration order.
type Stage int

const (
	StageMetadata Stage = iota
	StageDownload
	StageProbe
	StageDecode
	StageAnalyze
	StageRegister
)

var stageNames = [...]string{"metadata", "download", "probe", "decode", "analyze", "register"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Fatal reports whether a failure of s aborts the whole prepare.
func (s Stage) Fatal() bool {
	return s == StageDownload
}

// StageStatus is the state a stage reports to an Observer.
type StageStatus int

const (
	StageStarted StageStatus = iota
	StageSucceeded
	StageSkipped
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageStarted:
		return "started"
	case StageSucceeded:
		return "succeeded"
	case StageSkipped:
		return "skipped"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets events be encoded as JSON strings.
func (s StageStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalText lets events be encoded as JSON strings.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is one stage transition.
type Event struct {
	Stage   Stage         `json:"stage"`
	Status  StageStatus   `json:"status"`
	Elapsed time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// Observer receives stage events. It is called synchronously from the
// goroutine running the prepare and must not block for long.
type Observer func(Event)
