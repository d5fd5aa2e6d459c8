package event

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is an immutable record of a state transition. Every mutating
// operation emits one; it feeds the append-only history log and the
// notification dispatcher.
type Event struct {
	ID          string                 `json:"id"`
	Type        Type                   `json:"type"`
	TaskID      string                 `json:"task_id"`
	ActorID     string                 `json:"actor_id"`
	OldValue    string                 `json:"old_value,omitempty"`
	NewValue    string                 `json:"new_value,omitempty"`
	Description string                 `json:"description,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// New creates a domain event with a generated ID and current timestamp
func New(eventType Type, taskID, actorID, oldValue, newValue, description string) *Event {
	return &Event{
		ID:          NewID(),
		Type:        eventType,
		TaskID:      taskID,
		ActorID:     actorID,
		OldValue:    oldValue,
		NewValue:    newValue,
		Description: description,
		Timestamp:   time.Now(),
	}
}

// WithPayload returns the event with an added payload key-value pair
func (e *Event) WithPayload(key string, value interface{}) *Event {
	if e.Payload == nil {
		e.Payload = make(map[string]interface{})
	}
	e.Payload[key] = value
	return e
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadStrings retrieves a string slice value from the payload
func (e *Event) GetPayloadStrings(key string) []string {
	val, ok := e.Payload[key]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// NewID generates a lexicographically sortable unique identifier
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
