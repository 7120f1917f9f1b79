package domain

import (
	"errors"
	"fmt"
	"time"
)

// TaskPayload is the structured content of a queue message. The address
// identifies the token to reconcile; the remaining fields are mutable retry
// metadata carried across redeliveries.
type TaskPayload struct {
	Address       string     `json:"address"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	Failures      []string   `json:"failures,omitempty"` // one entry per failed attempt
}

// ErrInvalidPayload is returned when a payload fails validation at a
// deserialization boundary.
var ErrInvalidPayload = errors.New("invalid task payload")

// Validate checks payload invariants. Called after deserialization so that a
// malformed message fails fast instead of surfacing mid-pipeline.
func (p *TaskPayload) Validate() error {
	if p.Address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidPayload)
	}
	if p.AttemptCount < 0 {
		return fmt.Errorf("%w: negative attempt count %d", ErrInvalidPayload, p.AttemptCount)
	}
	return nil
}

// TaskMessage is a unit of deferred work in a named queue.
// Corresponds to the task_queue table in PostgreSQL.
type TaskMessage struct {
	MessageID      string // UUID, assigned at enqueue
	Queue          string // logical partition, e.g. "token_processing"
	Payload        TaskPayload
	EnqueuedAt     time.Time  // FIFO-ish ordering among eligible messages
	NextEligibleAt *time.Time // nil means immediately eligible
	InvisibleUntil *time.Time // visibility-timeout marker set on dequeue
}

// DeadLetterQueue returns the dead-letter companion of a queue name.
func DeadLetterQueue(queue string) string {
	return queue + "_dlq"
}
