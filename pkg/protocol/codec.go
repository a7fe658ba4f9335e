package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode builds a wire envelope for tag. A nil payload produces a
// payload-free message (the get-stl case).
func Encode(tag Tag, payload any) (Message, error) {
	msg := Message{Type: tag}
	if payload == nil {
		return msg, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	msg.Payload = raw

	return msg, nil
}

// Marshal serializes a message for the wire.
func Marshal(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	return data, nil
}

// Decode parses one wire frame into a Message. The only hard requirement
// at this boundary is a non-empty type tag; the payload is kept opaque.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if strings.TrimSpace(string(msg.Type)) == "" {
		return Message{}, ErrMissingTag
	}

	return msg, nil
}
