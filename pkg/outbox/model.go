package outbox

import "time"

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is an outbox row. ID doubles as the envelope id on the stream, so a
// row relayed twice is still deduplicated by the projector.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	// Attempts counts earlier failed deliveries of the row.
	Attempts int
}
