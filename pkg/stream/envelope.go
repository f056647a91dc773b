package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Stream entry field names. The payload is JSON carried inside a string field
// so the entry stays a flat string map.
const (
	FieldID      = "id"
	FieldType    = "type"
	FieldPayload = "payload"
)

var ErrMalformedEntry = errors.New("malformed stream entry")

// Envelope is the unit carried by the stream. ID is the idempotency key
// downstream and never changes across redeliveries.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Entry is a raw stream record: the broker-assigned sequence id and its fields.
type Entry struct {
	ID     string
	Values map[string]any
}

// NewEnvelope marshals payload and fills in a random UUID when id is empty.
func NewEnvelope(eventType string, payload any, id string) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, errors.New("event type is required")
	}
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	if id == "" {
		id = uuid.NewString()
	}
	return Envelope{ID: id, Type: eventType, Payload: raw}, nil
}

// Values flattens the envelope into stream entry fields.
func (e Envelope) Values() map[string]any {
	payload := string(e.Payload)
	if payload == "" {
		payload = "null"
	}
	return map[string]any{
		FieldID:      e.ID,
		FieldType:    e.Type,
		FieldPayload: payload,
	}
}

// DecodeEntry rebuilds the envelope carried by a stream entry.
func DecodeEntry(e Entry) (Envelope, error) {
	id := StringField(e.Values, FieldID)
	typ := StringField(e.Values, FieldType)
	payload := StringField(e.Values, FieldPayload)
	if id == "" || typ == "" {
		return Envelope{}, fmt.Errorf("%w: entry %s missing id or type", ErrMalformedEntry, e.ID)
	}
	if payload == "" {
		payload = "null"
	}
	if !json.Valid([]byte(payload)) {
		return Envelope{}, fmt.Errorf("%w: entry %s payload is not json", ErrMalformedEntry, e.ID)
	}
	return Envelope{ID: id, Type: typ, Payload: json.RawMessage(payload)}, nil
}

// StringField reads a string-ish field from entry values.
func StringField(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
