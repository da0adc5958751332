package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while a plan runs.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Wave      int       `json:"wave,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter selects events for a subscriber. Empty fields match all.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	NodeID     string   `json:"node_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Publisher is the write side the executor depends on.
type Publisher interface {
	Publish(ctx context.Context, event StreamEvent) error
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publisher
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
