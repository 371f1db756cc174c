package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var ErrUnknownType = errors.New("unknown command type")

type envelope struct {
	ID        uint64          `json:"id"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c.Payload == nil {
		return nil, fmt.Errorf("command %d: %w", c.ID, ErrUnknownType)
	}
	raw, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ID:        c.ID,
		RequestID: c.RequestID,
		Timestamp: c.Timestamp,
		Type:      c.Payload.Type(),
		Payload:   raw,
	})
}

func (c *Command) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	ptr, ok := newPayload(env.Type)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownType, env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, ptr); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	c.ID = env.ID
	c.RequestID = env.RequestID
	c.Timestamp = env.Timestamp
	c.Payload = reflect.ValueOf(ptr).Elem().Interface().(Payload)
	return nil
}

// Encode is the durable log representation of a command.
func Encode(c Command) ([]byte, error) {
	return json.Marshal(c)
}

func Decode(b []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(b, &c)
	return c, err
}
