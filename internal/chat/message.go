package chat

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// Message is the canonical chat message record. Wire payloads in any of the
// gateway's historical shapes are converted into this form before they touch
// the merge step.
type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	MessageType  string    `json:"message_type"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	SenderEmail  string    `json:"sender_email"`
	SenderRole   string    `json:"sender_role"`
	Timestamp    time.Time `json:"created_at"`
	DisplayTime  string    `json:"display_time"`
	Optimistic   bool      `json:"optimistic"`
	ThreadID     string    `json:"thread_id,omitempty"`
	ThreadStatus string    `json:"thread_status,omitempty"`
}

const (
	defaultMessageType = "text"
	defaultSenderName  = "Support"
	defaultSenderRole  = "user"
	selfSenderName     = "You"
)

// Normalizer converts raw wire payloads into canonical Messages, resolving
// sender identity against the local user.
type Normalizer struct {
	selfID string
	now    func() time.Time
	tempID func(time.Time) string
}

// NewNormalizer builds a Normalizer for the given local user id. selfID may
// be empty, in which case no message is treated as self-authored.
func NewNormalizer(selfID string) *Normalizer {
	return &Normalizer{
		selfID: selfID,
		now:    time.Now,
		tempID: func(ts time.Time) string {
			return fmt.Sprintf("temp-%d-%d", ts.UnixMilli(), rand.Int63())
		},
	}
}

// Normalize converts one raw payload. It returns false for any payload
// without usable content. Re-normalizing an already-canonical record is
// lossless apart from DisplayTime recomputation.
func (n *Normalizer) Normalize(raw map[string]any) (Message, bool) {
	if raw == nil {
		return Message{}, false
	}
	content := field(raw, "content")
	if strings.TrimSpace(content) == "" {
		return Message{}, false
	}

	user := object(raw, "user")
	sender := object(raw, "sender")

	senderID := field(raw, "sender_id", "senderId", "user_id", "userId")
	if senderID == "" {
		senderID = field(user, "id")
	}
	if senderID == "" {
		senderID = field(sender, "id")
	}

	fromSelf := n.selfID != "" && senderID == n.selfID

	senderName := field(raw, "sender_name", "senderName")
	if senderName == "" {
		senderName = field(user, "name")
	}
	if senderName == "" {
		senderName = field(sender, "name")
	}
	if fromSelf {
		senderName = selfSenderName
	} else if senderName == "" {
		senderName = defaultSenderName
	}

	senderEmail := field(raw, "sender_email", "senderEmail")
	if senderEmail == "" {
		senderEmail = field(user, "email")
	}

	senderRole := field(raw, "sender_role", "senderRole")
	if senderRole == "" {
		senderRole = field(user, "role")
	}
	if senderRole == "" {
		senderRole = defaultSenderRole
	}

	msgType := field(raw, "message_type", "messageType")
	if msgType == "" {
		msgType = defaultMessageType
	}

	ts := n.timestamp(raw)

	id := field(raw, "id")
	if id == "" {
		id = n.tempID(ts)
	}

	optimistic, _ := raw["optimistic"].(bool)

	return Message{
		ID:           id,
		Content:      content,
		MessageType:  msgType,
		SenderID:     senderID,
		SenderName:   senderName,
		SenderEmail:  senderEmail,
		SenderRole:   senderRole,
		Timestamp:    ts,
		DisplayTime:  formatDisplayTime(ts),
		Optimistic:   optimistic,
		ThreadID:     field(raw, "thread_id", "threadId"),
		ThreadStatus: field(raw, "thread_status", "threadStatus"),
	}, true
}

// NormalizeBatch converts a raw history dump, dropping invalid entries and
// returning the survivors in ascending timestamp order.
func (n *Normalizer) NormalizeBatch(raws []map[string]any) []Message {
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		if m, ok := n.Normalize(raw); ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// timestamp resolves the message time, falling back to "now" when absent or
// unparseable.
func (n *Normalizer) timestamp(raw map[string]any) time.Time {
	for _, key := range []string{"created_at", "createdAt", "timestamp"} {
		s := field(raw, key)
		if s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts
			}
		}
	}
	return n.now()
}

// formatDisplayTime renders month/day/year with a 24-hour clock.
func formatDisplayTime(ts time.Time) string {
	return ts.Format("Jan 2, 2006 15:04")
}

// field returns the first non-empty string value among keys. Numeric ids are
// rendered as their decimal string.
func field(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func object(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}
