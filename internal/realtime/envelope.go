package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope carries a room event between instances.
type Envelope struct {
	UserID string          `json:"user_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Deliverer hands a decoded event to local connections.
type Deliverer interface {
	Deliver(userID string, ev Event) int
}

// EncodeEnvelope marshals an event addressed to userID.
func EncodeEnvelope(userID, event string, payload any) ([]byte, error) {
	env := Envelope{UserID: userID, Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses an envelope received from another instance.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.UserID == "" || env.Event == "" {
		return Envelope{}, errors.New("envelope is missing user_id or event")
	}
	return env, nil
}

// ToEvent converts the envelope into the event written to clients.
func (e Envelope) ToEvent() Event {
	ev := Event{Event: e.Event}
	if len(e.Data) > 0 {
		ev.Data = e.Data
	}
	return ev
}
