package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Envelope is one inbound stream message. Data and Message are left raw
// for the consumer to decode.
type Envelope struct {
	Type           string          `json:"type"`
	Event          string          `json:"event,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	ConversationID ConversationID  `json:"conversation_id,omitempty"`
	Message        json.RawMessage `json:"message,omitempty"`

	// Raw is the frame as received.
	Raw []byte `json:"-"`
}

// ConversationID accepts both string and numeric ids.
type ConversationID string

func (c *ConversationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*c = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ConversationID(s)
	default:
		if _, err := strconv.ParseFloat(string(b), 64); err != nil {
			return fmt.Errorf("conversation_id: %w", err)
		}
		*c = ConversationID(b)
	}
	return nil
}

// ParseEnvelope decodes a text frame. Frames that are not UTF-8 JSON
// objects with a type are rejected.
func ParseEnvelope(frame []byte) (Envelope, error) {
	if !utf8.Valid(frame) {
		return Envelope{}, fmt.Errorf("%w: not utf-8", ErrInvalidEnvelope)
	}

	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}

	env.Raw = append([]byte(nil), frame...)
	return env, nil
}
