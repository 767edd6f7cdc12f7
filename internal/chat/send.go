package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/geekelo/sephcocco-chat-client/internal/metrics"
)

// Send accepts a user-authored message. The optimistic record is visible in
// the merged view before the transport acknowledges anything. Only
// caller-correctable failures are returned: empty content, missing user
// identity, transport not open, or a transport-level write error.
func (e *Engine) Send(content, msgType string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if e.opts.User.ID == "" {
		return ErrNoUser
	}
	if msgType == "" {
		msgType = defaultMessageType
	}

	e.mu.Lock()
	if e.conn == nil {
		e.mu.Unlock()
		return ErrNotConnected
	}

	now := time.Now()
	role := e.opts.User.Role
	if role == "" {
		role = defaultSenderRole
	}
	m := Message{
		ID:          e.tempID(now),
		Content:     content,
		MessageType: msgType,
		SenderID:    e.opts.User.ID,
		SenderName:  selfSenderName,
		SenderEmail: e.opts.User.Email,
		SenderRole:  role,
		Timestamp:   now,
		DisplayTime: formatDisplayTime(now),
		Optimistic:  true,
	}
	e.pending = append(e.pending, m)
	e.remergeLocked()

	// Channel framing once the subscription is confirmed; direct framing
	// otherwise. One framing per attempt so the server never sees the same
	// send twice.
	var err error
	if e.confirmedSub {
		data, _ := json.Marshal(map[string]string{
			"action":       "send_message",
			"content":      content,
			"message_type": msgType,
		})
		err = e.writeLocked(map[string]any{
			"command":    "message",
			"identifier": e.identifier,
			"data":       string(data),
		})
	} else {
		err = e.writeLocked(map[string]any{
			"type":         "send_message",
			"content":      content,
			"message_type": msgType,
			"token":        e.opts.Token,
		})
	}
	if err != nil {
		e.removePendingLocked(m.ID)
		e.remergeLocked()
		e.mu.Unlock()
		e.notifyChange()
		metrics.SendFailures.Inc()
		return fmt.Errorf("chat: send failed: %w", err)
	}
	metrics.SendsTotal.Inc()

	session := e.session
	id := m.ID
	time.AfterFunc(e.opts.FinalizeTimeout, func() {
		e.finalize(session, id)
	})
	e.mu.Unlock()
	e.notifyChange()
	return nil
}

// finalize resolves one optimistic record after the finalization timeout. If
// a confirmed echo already arrived the record is simply purged; otherwise it
// is promoted into the confirmed set so it never shows a "sending"
// affordance forever.
func (e *Engine) finalize(session int, id string) {
	e.mu.Lock()
	if session != e.session {
		e.mu.Unlock()
		return
	}
	var m Message
	found := false
	for _, p := range e.pending {
		if p.ID == id {
			m = p
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return
	}
	e.removePendingLocked(id)
	if !e.hasConfirmedMatchLocked(m) {
		m.Optimistic = false
		e.confirmed = append(e.confirmed, m)
		metrics.OptimisticPromoted.Inc()
	}
	e.remergeLocked()
	e.mu.Unlock()
	e.notifyChange()
}
