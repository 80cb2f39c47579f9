package events

import "encoding/json"
import nanoid "github.com/matoous/go-nanoid/v2"

// BaseEvent is the envelope header carried by every frame in both directions.
type BaseEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// NewBaseEvent mints an envelope with a fresh event_id. Ids are never reused
// or derived from the payload.
func NewBaseEvent(eventType string) BaseEvent {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return BaseEvent{
		EventID: id,
		Type:    eventType,
	}
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}
