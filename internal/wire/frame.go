package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a decoded gateway frame. Every frame resolves to exactly
// one kind before any business logic runs; unrecognized-but-valid JSON is
// KindUnknown, not an error.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindPing                Kind = "ping"
	KindPong                Kind = "pong"
	KindWelcome             Kind = "welcome"
	KindConfirmSubscription Kind = "confirm_subscription"
	KindRejectSubscription  Kind = "reject_subscription"
	KindBulkMessages        Kind = "bulk_messages"
	KindSingleMessage       Kind = "single_message"
)

var ErrMalformed = errors.New("wire: malformed frame")

// Frame is the tagged-union result of classifying one raw gateway payload.
type Frame struct {
	Kind       Kind
	Identifier string           // channel identifier on confirm/reject/multiplexed frames
	Reason     string           // reject reason, when the server includes one
	Message    map[string]any   // payload for KindSingleMessage
	Messages   []map[string]any // payload for KindBulkMessages
}

// Decode classifies one raw frame. The gateway has shipped several shapes
// over time: bare control frames keyed by "type", bulk history envelopes,
// channel-multiplexed identifier+message envelopes (where message may itself
// be a JSON-encoded string), and bare message objects.
func Decode(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{Kind: KindUnknown}, ErrMalformed
	}

	// A bare top-level array is a history dump.
	if trimmed[0] == '[' {
		var arr []map[string]any
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return Frame{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Frame{Kind: KindBulkMessages, Messages: arr}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Frame{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return classify(obj), nil
}

func classify(obj map[string]any) Frame {
	switch typ, _ := obj["type"].(string); typ {
	case "ping":
		return Frame{Kind: KindPing}
	case "pong":
		return Frame{Kind: KindPong}
	case "welcome":
		return Frame{Kind: KindWelcome}
	case "confirm_subscription":
		return Frame{Kind: KindConfirmSubscription, Identifier: stringValue(obj["identifier"])}
	case "reject_subscription":
		return Frame{
			Kind:       KindRejectSubscription,
			Identifier: stringValue(obj["identifier"]),
			Reason:     stringValue(obj["reason"]),
		}
	case "user_messages_response":
		return Frame{Kind: KindBulkMessages, Messages: messageList(obj)}
	}

	// Channel-multiplexed envelope: {"identifier": "...", "message": ...}.
	// The inner message may be an object or a JSON-encoded string, and may
	// itself be a control or bulk frame.
	if ident, ok := obj["identifier"]; ok {
		if inner, ok := unwrapInner(obj["message"]); ok {
			f := classify(inner)
			if f.Identifier == "" {
				f.Identifier = stringValue(ident)
			}
			return f
		}
	}

	// Bare message object.
	if stringValue(obj["content"]) != "" {
		return Frame{Kind: KindSingleMessage, Message: obj}
	}
	return Frame{Kind: KindUnknown}
}

// unwrapInner decodes the "message" field of a multiplexed envelope.
func unwrapInner(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(m), &inner); err != nil {
			return nil, false
		}
		return inner, true
	}
	return nil, false
}

// messageList pulls the bulk array out of a history envelope, accepting both
// the "messages" and legacy "data" keys.
func messageList(obj map[string]any) []map[string]any {
	raw, ok := obj["messages"].([]any)
	if !ok {
		raw, _ = obj["data"].([]any)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	case json.Number:
		return s.String()
	}
	return ""
}
