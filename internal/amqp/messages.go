package amqp

import (
	"encoding/json"
	"errors"

	"thebox/internal/mirror"
)

func encodeEvent(e mirror.Event) ([]byte, error) {
	return json.Marshal(e)
}

// decodeEvent rejects messages that carry no id or type; they cannot be routed.
func decodeEvent(data []byte) (mirror.Event, error) {
	var e mirror.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return mirror.Event{}, err
	}
	if e.ID == "" || e.Type == "" {
		return mirror.Event{}, errors.New("event without id or type")
	}
	return e, nil
}
