// Package stream turns a job's notifications into push frames for a remote
// observer over Server-Sent Events or WebSocket.
package stream

import (
	"context"
	"encoding/json"

	"github.com/Diegomcha/netquery/internal/domain"
)

// Message type constants
const (
	TypeProgress = "progress"
	TypeFinished = "finished"
	TypeError    = "error"
	// TypeStop is the only client -> server message: stop dispatching more devices.
	TypeStop = "stop"
)

// Envelope wraps every WebSocket message with a type discriminator.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProgressPayload is one completed device: the flat result row plus the
// running completion fraction.
type ProgressPayload struct {
	domain.Record
	Seq       int     `json:"seq"`
	Progress  float64 `json:"progress"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
}

// FinishedPayload closes a stream
type FinishedPayload struct {
	Artifact  string          `json:"artifact,omitempty"`
	State     domain.JobState `json:"state"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
}

// Source is the job side of a stream. *orchestrator.Job satisfies it.
type Source interface {
	Observe(ctx context.Context) (<-chan domain.Notification, error)
	Cancel() bool
}

func progressPayload(n domain.Notification) ProgressPayload {
	p := ProgressPayload{Seq: n.Seq, Progress: n.Progress, Completed: n.Completed, Total: n.Total}
	if n.Record != nil {
		p.Record = *n.Record
	}
	return p
}

func finishedPayload(n domain.Notification) FinishedPayload {
	return FinishedPayload{Artifact: n.Artifact, State: n.State, Completed: n.Completed, Total: n.Total}
}

// envelopeFor maps a notification onto its WebSocket message
func envelopeFor(n domain.Notification) Envelope {
	switch {
	case !n.Final:
		return Envelope{Type: TypeProgress, Payload: progressPayload(n)}
	case n.State == domain.JobErrored:
		return Envelope{Type: TypeError, Payload: finishedPayload(n)}
	default:
		return Envelope{Type: TypeFinished, Payload: finishedPayload(n)}
	}
}
