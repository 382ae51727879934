// Package broadcast fans run progress out to live observers.
//
// Each run gets a session that multiplexes messages to any number of
// observers, typically WebSocket connections. Sessions are created on
// first use and evicted when the run finishes and the last observer
// detaches.
package broadcast

import (
	"time"

	"github.com/keplerhq/kepler/insight"
)

// MessageType classifies a broadcast message.
type MessageType string

const (
	// TypeProgress reports that a pipeline stage started or finished.
	TypeProgress MessageType = "progress"

	// TypeItemsGenerated carries a batch of freshly generated items.
	TypeItemsGenerated MessageType = "items_generated"

	// TypeCompleted reports that the run finished successfully.
	TypeCompleted MessageType = "completed"

	// TypeError reports that the run failed.
	TypeError MessageType = "error"
)

// Message is a single progress update for a run.
type Message struct {
	// Type classifies the message.
	Type MessageType `json:"type"`

	// RunID identifies the run this message belongs to.
	RunID string `json:"run_id"`

	// Stage names the pipeline stage for progress messages.
	Stage string `json:"stage,omitempty"`

	// Detail is a human-readable description.
	Detail string `json:"detail,omitempty"`

	// Items carries the generated batch for items_generated messages.
	Items []insight.MetricItem `json:"items,omitempty"`

	// ItemsSaved is the final item count for completed messages.
	ItemsSaved int `json:"items_saved,omitempty"`

	// Error holds the failure reason for error messages.
	Error string `json:"error,omitempty"`

	// Timestamp is when the message was published.
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the message ends the run's message stream.
func (m Message) Terminal() bool {
	return m.Type == TypeCompleted || m.Type == TypeError
}
