package domain

import (
	"encoding/json"
	"time"
)

// InstanceRecord is the journaled view of an app instance. It never holds tokens.
type InstanceRecord struct {
	InstanceID     string    `json:"instance_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Environment    string    `json:"environment"`
	UserID         string    `json:"user_id,omitempty"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event is one journal entry of an instance.
type Event struct {
	EventID    string          `json:"event_id"`
	InstanceID string          `json:"instance_id"`
	Ts         int64           `json:"ts"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
