package domain

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobFinished  JobState = "finished"
	JobCancelled JobState = "cancelled"
	JobErrored   JobState = "errored"
)

// Terminal reports whether no further transitions can happen from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobFinished, JobCancelled, JobErrored:
		return true
	}
	return false
}

// Status is the coarse outcome of a device task
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result column markers for tasks that produced no command output.
const (
	ResultAccessible   = "✅ Accessible"
	ResultUnauthorized = "⛔ Unauthorized"
	ResultTimeout      = "⌛ Timeout"
	ResultUnreachable  = "🔌 Unreachable"
	ResultUnknownType  = "❓ Unknown device type"
	ResultNoTemplate   = "❓ No template"
	ResultNoMatches    = "❓ No matches"
	ResultException    = "🔥 Exception"
)

var failureResults = map[string]bool{
	ResultUnauthorized: true,
	ResultTimeout:      true,
	ResultUnreachable:  true,
	ResultUnknownType:  true,
	ResultNoTemplate:   true,
	ResultNoMatches:    true,
	ResultException:    true,
}

// IsFailureResult reports whether result is one of the failure markers.
func IsFailureResult(result string) bool {
	return failureResults[result]
}
