package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sony/sonyflake"
	"go.uber.org/zap"

	"github.com/geekelo/sephcocco-chat-client/internal/metrics"
	"github.com/geekelo/sephcocco-chat-client/internal/wire"
)

// State is the externally observable connection lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateSubscribing State = "subscribing"
	StateConfirmed   State = "confirmed"
	StateErrored     State = "errored"
	StateClosed      State = "closed"
)

const channelName = "MessagesChannel"

// User identifies the local user. The engine receives identity here and only
// here; there is no ambient fallback.
type User struct {
	ID    string
	Name  string
	Email string
	Role  string
}

type Options struct {
	URL        string // gateway websocket URL
	Token      string // auth token, sent as a Bearer header on dial
	OutletType string // scopes the channel subscription
	User       User

	Transport Transport
	Logger    *zap.Logger

	DialTimeout     time.Duration
	ReconnectDelay  time.Duration
	WelcomeGrace    time.Duration
	SettleDelay     time.Duration
	LoadTimeout     time.Duration
	FinalizeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Transport == nil {
		o.Transport = NewWebSocketTransport()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.WelcomeGrace <= 0 {
		o.WelcomeGrace = 500 * time.Millisecond
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 500 * time.Millisecond
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 10 * time.Second
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = 10 * time.Second
	}
	return o
}

// Snapshot is the read-only view the UI layer consumes.
type Snapshot struct {
	State           State
	IsConnected     bool
	IsConnecting    bool
	ConnectionError string
	IsLoading       bool
	Messages        []Message
}

// Engine owns the channel subscription: the transport handle, the
// subscription record and the connection guards live here and nowhere else.
// All transitions happen under one mutex, so readers never observe a
// partially merged message list.
type Engine struct {
	opts  Options
	log   *zap.Logger
	norm  *Normalizer
	flake *sonyflake.Sonyflake

	mu        sync.Mutex
	state     State
	conn      Conn
	attemptID string

	// gen is bumped per connection attempt; session only on Cleanup. Timers
	// capture one of the two and no-op when it has moved on.
	gen     int
	session int

	identifier   string // outstanding subscription identifier, "" when none
	welcomed     bool
	confirmedSub bool
	rejected     bool

	connErr    string
	loading    bool
	loadedOnce bool

	confirmed []Message
	pending   []Message
	merged    []Message

	reconnectTimer *time.Timer
	onChange       func()
}

// New builds an Engine. Connect must be called to open the subscription.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.URL == "" {
		return nil, errors.New("chat: gateway url required")
	}
	e := &Engine{
		opts:  opts,
		log:   opts.Logger,
		flake: sonyflake.NewSonyflake(sonyflake.Settings{}),
		state: StateIdle,
	}
	e.norm = NewNormalizer(opts.User.ID)
	e.norm.tempID = e.tempID
	return e, nil
}

// OnChange registers a callback invoked after every observable state change.
// The callback runs outside the engine lock and may call Snapshot.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Snapshot returns the current observable state and the merged message view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := make([]Message, len(e.merged))
	copy(msgs, e.merged)
	return Snapshot{
		State:           e.state,
		IsConnected:     e.state == StateConfirmed,
		IsConnecting:    e.state == StateConnecting || e.state == StateSubscribing,
		ConnectionError: e.connErr,
		IsLoading:       e.loading,
		Messages:        msgs,
	}
}

// Connect starts a connection attempt. It is a no-op while an attempt is
// already in flight, and records an error instead of dialing when
// credentials are missing.
func (e *Engine) Connect() {
	e.mu.Lock()
	if e.opts.Token == "" || e.opts.OutletType == "" {
		e.connErr = "missing credentials"
		e.mu.Unlock()
		e.notifyChange()
		return
	}
	switch e.state {
	case StateConnecting, StateSubscribing, StateConfirmed:
		e.mu.Unlock()
		return
	}
	if e.conn != nil {
		// rejected-but-open connection; requires Cleanup first
		e.mu.Unlock()
		return
	}
	e.gen++
	gen := e.gen
	session := e.session
	e.state = StateConnecting
	e.connErr = ""
	e.welcomed = false
	e.confirmedSub = false
	e.rejected = false
	e.identifier = ""
	e.loadedOnce = false
	e.attemptID = uuid.NewString()
	attempt := e.attemptID
	e.mu.Unlock()
	e.notifyChange()

	e.log.Info("connecting", zap.String("attempt", attempt), zap.String("outlet_type", e.opts.OutletType))
	go e.dial(gen, session)
}

// Cleanup tears the session down: cancels timers, closes the transport and
// resets every guard. Idempotent, callable in any state. Messages already
// merged remain readable until the owner discards the engine.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	e.session++
	e.gen++
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	e.state = StateIdle
	e.connErr = ""
	e.welcomed = false
	e.confirmedSub = false
	e.rejected = false
	e.identifier = ""
	e.loading = false
	e.loadedOnce = false
	e.mu.Unlock()
	e.notifyChange()
}

// TriggerMessageLoad issues the history load unless it already ran for this
// connection.
func (e *Engine) TriggerMessageLoad() {
	e.mu.Lock()
	if !e.loadedOnce {
		e.loadedOnce = true
		e.loadLocked()
	}
	e.mu.Unlock()
	e.notifyChange()
}

// RefreshMessages re-issues the history load regardless of the one-shot
// guard (explicit user refresh).
func (e *Engine) RefreshMessages() {
	e.mu.Lock()
	e.loadLocked()
	e.mu.Unlock()
	e.notifyChange()
}

// ClearOptimistic drops every pending optimistic record.
func (e *Engine) ClearOptimistic() {
	e.mu.Lock()
	e.pending = nil
	e.remergeLocked()
	e.mu.Unlock()
	e.notifyChange()
}

func (e *Engine) dial(gen, session int) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.opts.Token)

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.DialTimeout)
	conn, err := e.opts.Transport.Dial(ctx, e.opts.URL, header)
	cancel()

	e.mu.Lock()
	if gen != e.gen || session != e.session {
		e.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		e.state = StateErrored
		e.connErr = "connection failed: " + err.Error()
		e.scheduleReconnectLocked()
		e.mu.Unlock()
		e.notifyChange()
		return
	}
	e.conn = conn

	// Grace period for the server welcome; subscribe proactively if it never
	// arrives.
	time.AfterFunc(e.opts.WelcomeGrace, func() {
		e.mu.Lock()
		if gen == e.gen && !e.welcomed {
			e.subscribeLocked()
		}
		e.mu.Unlock()
	})
	e.mu.Unlock()

	go e.readLoop(conn, gen)
}

func (e *Engine) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			e.handleDisconnect(gen, err)
			return
		}
		e.handleFrame(gen, data)
	}
}

func (e *Engine) handleFrame(gen int, data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		metrics.MalformedFrames.Inc()
		e.log.Debug("malformed frame swallowed", zap.Error(err))
		return
	}
	metrics.FramesTotal.WithLabelValues(string(f.Kind)).Inc()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}

	changed := false
	switch f.Kind {
	case wire.KindPing:
		_ = e.writeLocked(map[string]string{"type": "pong"})
		metrics.PingsAnswered.Inc()

	case wire.KindPong:
		// keepalive ack, nothing to do

	case wire.KindWelcome:
		e.welcomed = true
		e.subscribeLocked()

	case wire.KindConfirmSubscription:
		if e.identifier != "" && (f.Identifier == "" || f.Identifier == e.identifier) {
			e.confirmedSub = true
			e.state = StateConfirmed
			e.connErr = ""
			e.scheduleInitialLoadLocked(gen)
			changed = true
			e.log.Info("subscription confirmed", zap.String("attempt", e.attemptID))
		}

	case wire.KindRejectSubscription:
		e.rejected = true
		e.confirmedSub = false
		e.state = StateErrored
		e.connErr = "subscription rejected"
		if f.Reason != "" {
			e.connErr += ": " + f.Reason
		}
		changed = true
		e.log.Warn("subscription rejected", zap.String("reason", f.Reason))

	case wire.KindBulkMessages:
		msgs := e.norm.NormalizeBatch(f.Messages)
		e.confirmed = msgs
		e.loading = false
		for _, m := range msgs {
			e.retirePendingLocked(m)
		}
		e.remergeLocked()
		changed = true
		e.log.Debug("history loaded", zap.Int("count", len(msgs)))

	case wire.KindSingleMessage:
		if m, ok := e.norm.Normalize(f.Message); ok {
			e.confirmed = append(e.confirmed, m)
			e.retirePendingLocked(m)
			e.remergeLocked()
			changed = true
		}

	default:
		e.log.Debug("unknown frame ignored")
	}
	e.mu.Unlock()

	if changed {
		e.notifyChange()
	}
}

func (e *Engine) handleDisconnect(gen int, err error) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
	e.welcomed = false
	e.confirmedSub = false
	e.rejected = false
	e.identifier = ""
	e.loading = false
	e.loadedOnce = false // next confirmed connection reloads history

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		e.state = StateClosed
	} else {
		e.state = StateErrored
	}

	if isCleanClose(err) {
		e.log.Info("connection closed")
	} else {
		e.connErr = "connection lost: " + err.Error()
		e.scheduleReconnectLocked()
		e.log.Warn("connection lost", zap.Error(err))
	}
	e.mu.Unlock()
	e.notifyChange()
}

// subscribeLocked issues the subscribe command once per connection. Duplicate
// calls while a subscription is outstanding, and resubscribes after an
// explicit rejection, are no-ops.
func (e *Engine) subscribeLocked() {
	if e.conn == nil || e.identifier != "" || e.rejected {
		return
	}
	ident, _ := json.Marshal(map[string]string{
		"channel":     channelName,
		"outlet_type": e.opts.OutletType,
	})
	e.identifier = string(ident)
	e.state = StateSubscribing
	_ = e.writeLocked(map[string]any{
		"command":    "subscribe",
		"identifier": e.identifier,
	})
}

func (e *Engine) scheduleInitialLoadLocked(gen int) {
	time.AfterFunc(e.opts.SettleDelay, func() {
		e.mu.Lock()
		if gen == e.gen && !e.loadedOnce {
			e.loadedOnce = true
			e.loadLocked()
		}
		e.mu.Unlock()
		e.notifyChange()
	})
}

// loadLocked requests the user's message history. The confirmed-channel
// framing is preferred; the direct shape is the fallback while the channel is
// unconfirmed or the channel write fails.
func (e *Engine) loadLocked() {
	if e.conn == nil {
		return
	}
	e.loading = true
	metrics.LoadRequests.Inc()

	sent := false
	if e.confirmedSub {
		data, _ := json.Marshal(map[string]string{"action": "request_messages"})
		if e.writeLocked(map[string]any{
			"command":    "message",
			"identifier": e.identifier,
			"data":       string(data),
		}) == nil {
			sent = true
		}
	}
	if !sent {
		if e.writeLocked(map[string]string{
			"type":  "get_user_messages",
			"token": e.opts.Token,
		}) == nil {
			sent = true
		}
	}
	if !sent {
		e.loading = false
		return
	}

	// A load that never answers must not leave the UI stuck.
	session := e.session
	time.AfterFunc(e.opts.LoadTimeout, func() {
		e.mu.Lock()
		if session == e.session && e.loading {
			e.loading = false
			e.mu.Unlock()
			e.notifyChange()
			return
		}
		e.mu.Unlock()
	})
}

func (e *Engine) scheduleReconnectLocked() {
	if e.opts.Token == "" || e.opts.OutletType == "" {
		return
	}
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
	}
	metrics.Reconnects.Inc()
	session := e.session
	e.reconnectTimer = time.AfterFunc(e.opts.ReconnectDelay, func() {
		e.mu.Lock()
		stale := session != e.session
		e.mu.Unlock()
		if !stale {
			e.Connect()
		}
	})
}

func (e *Engine) writeLocked(v any) error {
	if e.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.conn.WriteMessage(data)
}

// retirePendingLocked drops optimistic records matched by a confirmed
// arrival: identical content with a timestamp inside the proximity window.
func (e *Engine) retirePendingLocked(m Message) {
	if m.Optimistic {
		return
	}
	kept := e.pending[:0:0]
	for _, p := range e.pending {
		if p.Content == m.Content && withinWindow(p.Timestamp, m.Timestamp) {
			metrics.DedupDropped.Inc()
			continue
		}
		kept = append(kept, p)
	}
	e.pending = kept
}

func (e *Engine) removePendingLocked(id string) {
	kept := e.pending[:0:0]
	for _, p := range e.pending {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	e.pending = kept
}

func (e *Engine) remergeLocked() {
	e.merged = Merge(e.confirmed, e.pending)
}

func (e *Engine) hasConfirmedMatchLocked(m Message) bool {
	for _, c := range e.confirmed {
		if c.Content == m.Content && withinWindow(c.Timestamp, m.Timestamp) {
			return true
		}
	}
	return false
}

func (e *Engine) notifyChange() {
	e.mu.Lock()
	cb := e.onChange
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (e *Engine) tempID(now time.Time) string {
	if e.flake != nil {
		if id, err := e.flake.NextID(); err == nil {
			return fmt.Sprintf("temp-%d-%d", now.UnixMilli(), id)
		}
	}
	return fmt.Sprintf("temp-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
