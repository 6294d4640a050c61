package models

// Status is the workflow lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusAwaitingHuman Status = "awaiting_human"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusTimeout       Status = "timeout"
	StatusTerminated    Status = "terminated"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusAwaitingHuman,
		StatusCompleted, StatusFailed, StatusTimeout, StatusTerminated:
		return true
	}
	return false
}

// IsActive reports whether the saga can still make progress.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusAwaitingHuman
}

// IsFinished reports whether the saga reached an outcome other than termination.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

func (s Status) String() string {
	return string(s)
}
