// Package channel owns one logical broadcast channel per session and gives
// the rest of the coordinator reliable, ordered delivery over an unreliable
// pub/sub backend: heartbeats, reconnect with exponential backoff, and a
// pending queue for envelopes accepted while disconnected.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
)

// Config tunes heartbeat, monitoring and reconnect behavior.
type Config struct {
	HeartbeatInterval    time.Duration
	MonitorInterval      time.Duration
	PublishTimeout       time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = c.HeartbeatInterval
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	return c
}

// PendingMessage is an envelope queued while its channel was not connected.
type PendingMessage struct {
	MessageID string
	Envelope  domain.Envelope
}

// Subscription is the handle returned by Subscribe. Cancel is safe to call
// more than once.
type Subscription struct {
	manager   *Manager
	sessionID string
	identity  string
	role      domain.Role
	fn        func(domain.Envelope)
	once      sync.Once
}

// Cancel removes the listener. Cancelling the session's last listener tears
// the channel down immediately.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.manager.removeSubscription(s)
	})
}

type sessionChannel struct {
	sessionID     string
	state         State
	sub           TransportSub
	lastHeartbeat time.Time
	pending       []PendingMessage
	subs          []*Subscription
}

// Manager multiplexes per-session channels over a single Transport. Construct
// with New, then Start; Stop cancels the background timers and tears every
// channel down.
type Manager struct {
	transport Transport
	cfg       Config
	log       *logrus.Entry
	clock     func() time.Time

	mu       sync.Mutex
	channels map[string]*sessionChannel

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

func NewManager(transport Transport, cfg Config, log *logrus.Entry) *Manager {
	return &Manager{
		transport: transport,
		cfg:       cfg.withDefaults(),
		log:       log,
		clock:     time.Now,
		channels:  make(map[string]*sessionChannel),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the heartbeat and stale-channel monitor timers.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.monitorLoop()
}

// Stop cancels the timers and tears down every channel without notification.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.teardown(id, "shutdown", false)
	}
}

func topicFor(sessionID string) string {
	return "session:" + sessionID + ":events"
}

// EnsureChannel creates and subscribes the session's channel if absent.
// Idempotent; a subscribe failure is absorbed into the reconnect cycle.
func (m *Manager) EnsureChannel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if _, ok := m.channels[sessionID]; ok {
		m.mu.Unlock()
		return nil
	}
	ch := &sessionChannel{
		sessionID:     sessionID,
		state:         StatePending,
		lastHeartbeat: m.clock(),
	}
	m.channels[sessionID] = ch
	m.mu.Unlock()

	sub, err := m.transport.Subscribe(ctx, topicFor(sessionID), func(data []byte) {
		m.dispatch(sessionID, data)
	})
	if err != nil {
		m.log.WithFields(logrus.Fields{"session_id": sessionID, "error": err}).Warn("initial subscribe failed")
		m.markDisconnected(sessionID)
		return nil
	}

	m.mu.Lock()
	if ch.state == StateTorndown {
		m.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	ch.sub = sub
	ch.state = StateSubscribed
	ch.lastHeartbeat = m.clock()
	m.mu.Unlock()

	// Envelopes published while the subscribe was in flight are waiting in
	// the pending queue.
	m.flushPending(sessionID)
	return nil
}

// Publish delivers the envelope to the session's channel. While the channel
// is connected the envelope goes straight to the transport; otherwise, or on
// a publish failure, it is queued under its messageId and the reconnect cycle
// takes over. Callers only see an error for a torn-down channel.
func (m *Manager) Publish(ctx context.Context, sessionID string, env domain.Envelope) error {
	if err := m.EnsureChannel(ctx, sessionID); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	if !ok || ch.state == StateTorndown {
		m.mu.Unlock()
		return fmt.Errorf("publish %s: channel torn down: %w", sessionID, domain.ErrTransportFailure)
	}
	if ch.state != StateSubscribed {
		ch.pending = append(ch.pending, PendingMessage{MessageID: env.MessageID, Envelope: env})
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	err = m.transport.Publish(pctx, topicFor(sessionID), data)
	cancel()
	if err == nil {
		return nil
	}

	m.log.WithFields(logrus.Fields{"session_id": sessionID, "message_id": env.MessageID, "error": err}).Warn("publish failed, queueing")
	m.mu.Lock()
	if ch.state != StateTorndown {
		ch.pending = append(ch.pending, PendingMessage{MessageID: env.MessageID, Envelope: env})
	}
	m.mu.Unlock()
	m.markDisconnected(sessionID)
	return nil
}

// Subscribe registers a callback for the session's envelopes. For targeted
// envelopes only the subscription whose identity matches is invoked.
func (m *Manager) Subscribe(ctx context.Context, sessionID, identity string, role domain.Role, fn func(domain.Envelope)) (*Subscription, error) {
	if err := m.EnsureChannel(ctx, sessionID); err != nil {
		return nil, err
	}

	sub := &Subscription{
		manager:   m,
		sessionID: sessionID,
		identity:  identity,
		role:      role,
		fn:        fn,
	}

	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	if !ok || ch.state == StateTorndown {
		m.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: channel torn down: %w", sessionID, domain.ErrTransportFailure)
	}
	ch.subs = append(ch.subs, sub)
	m.mu.Unlock()
	return sub, nil
}

func (m *Manager) removeSubscription(sub *Subscription) {
	m.mu.Lock()
	ch, ok := m.channels[sub.sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	for i, s := range ch.subs {
		if s == sub {
			ch.subs = append(ch.subs[:i], ch.subs[i+1:]...)
			break
		}
	}
	empty := len(ch.subs) == 0
	m.mu.Unlock()

	if empty {
		m.teardown(sub.sessionID, "no listeners", false)
	}
}

func (m *Manager) dispatch(sessionID string, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.log.WithFields(logrus.Fields{"session_id": sessionID, "error": err}).Warn("dropping malformed envelope")
		return
	}

	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(ch.subs))
	for _, s := range ch.subs {
		if env.Target == "" || env.Target == s.identity {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.fn(env)
	}
}

// markDisconnected records a failure event and hands the channel to a
// reconnect worker, unless one already owns it. The worker flips the state
// to Reconnecting once its first backoff elapses.
func (m *Manager) markDisconnected(sessionID string) {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	if !ok || ch.state == StateTorndown || ch.state == StateDisconnected || ch.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	if ch.sub != nil {
		_ = ch.sub.Close()
		ch.sub = nil
	}
	ch.state = StateDisconnected
	if m.stopped {
		// Shutdown owns the teardown; spawning a worker here would race
		// Stop's WaitGroup wait.
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.reconnect(sessionID)
	}()
}

// reconnect retries the transport subscription with exponential backoff.
// Exhausting the attempt budget tears the channel down for good.
func (m *Manager) reconnect(sessionID string) {
	delay := m.cfg.ReconnectBase
	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-m.stopCh:
			return
		case <-time.After(delay):
		}

		// A channel nobody observes any more is not worth reconnecting.
		m.mu.Lock()
		ch, ok := m.channels[sessionID]
		if !ok || ch.state == StateTorndown {
			m.mu.Unlock()
			return
		}
		if len(ch.subs) == 0 {
			m.mu.Unlock()
			m.teardown(sessionID, "no listeners", false)
			return
		}
		ch.state = StateReconnecting
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PublishTimeout)
		sub, err := m.transport.Subscribe(ctx, topicFor(sessionID), func(data []byte) {
			m.dispatch(sessionID, data)
		})
		cancel()
		if err == nil {
			m.mu.Lock()
			if ch.state == StateTorndown {
				m.mu.Unlock()
				_ = sub.Close()
				return
			}
			ch.sub = sub
			ch.state = StateSubscribed
			ch.lastHeartbeat = m.clock()
			m.mu.Unlock()
			m.log.WithFields(logrus.Fields{"session_id": sessionID, "attempt": attempt}).Info("channel resubscribed")
			m.flushPending(sessionID)
			return
		}

		m.log.WithFields(logrus.Fields{"session_id": sessionID, "attempt": attempt, "error": err}).Warn("resubscribe failed")
		delay *= 2
		if delay > m.cfg.ReconnectMax {
			delay = m.cfg.ReconnectMax
		}
	}
	m.teardown(sessionID, "reconnect attempts exhausted", true)
}

// flushPending retries queued envelopes in enqueue order. Each message is
// removed only after a confirmed send; a failure mid-flush re-enters the
// reconnect cycle with the remainder intact.
func (m *Manager) flushPending(sessionID string) {
	for {
		m.mu.Lock()
		ch, ok := m.channels[sessionID]
		if !ok || ch.state != StateSubscribed || len(ch.pending) == 0 {
			m.mu.Unlock()
			return
		}
		head := ch.pending[0]
		m.mu.Unlock()

		data, err := json.Marshal(head.Envelope)
		if err != nil {
			m.mu.Lock()
			ch.pending = ch.pending[1:]
			m.mu.Unlock()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PublishTimeout)
		err = m.transport.Publish(ctx, topicFor(sessionID), data)
		cancel()
		if err != nil {
			m.markDisconnected(sessionID)
			return
		}

		m.mu.Lock()
		if len(ch.pending) > 0 && ch.pending[0].MessageID == head.MessageID {
			ch.pending = ch.pending[1:]
		}
		m.mu.Unlock()
	}
}

// teardown finalizes a channel: closes the subscription, discards the
// pending queue and, when notify is set, delivers a CONNECTION_LOST envelope
// to every remaining listener.
func (m *Manager) teardown(sessionID, reason string, notify bool) {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	if !ok || ch.state == StateTorndown {
		m.mu.Unlock()
		return
	}
	ch.state = StateTorndown
	sub := ch.sub
	ch.sub = nil
	listeners := make([]*Subscription, len(ch.subs))
	copy(listeners, ch.subs)
	dropped := len(ch.pending)
	ch.pending = nil
	delete(m.channels, sessionID)
	m.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	m.log.WithFields(logrus.Fields{"session_id": sessionID, "reason": reason, "dropped_pending": dropped}).Info("channel torn down")

	if !notify {
		return
	}
	env, err := domain.NewEnvelope(domain.EventConnectionLost, sessionID, uuid.NewString(), m.clock(), domain.ConnectionLostData{Reason: reason})
	if err != nil {
		return
	}
	for _, s := range listeners {
		s.fn(env)
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pingAll()
		}
	}
}

// pingAll sends a liveness ping on every connected channel and stamps
// lastHeartbeat on success.
func (m *Manager) pingAll() {
	m.mu.Lock()
	type target struct {
		sessionID string
		sub       TransportSub
	}
	targets := make([]target, 0, len(m.channels))
	for id, ch := range m.channels {
		if ch.state == StateSubscribed && ch.sub != nil {
			targets = append(targets, target{sessionID: id, sub: ch.sub})
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PublishTimeout)
		err := t.sub.Ping(ctx)
		cancel()
		if err != nil {
			m.log.WithFields(logrus.Fields{"session_id": t.sessionID, "error": err}).Warn("heartbeat failed")
			m.markDisconnected(t.sessionID)
			continue
		}
		m.mu.Lock()
		if ch, ok := m.channels[t.sessionID]; ok && ch.state == StateSubscribed {
			ch.lastHeartbeat = m.clock()
		}
		m.mu.Unlock()
	}
}

func (m *Manager) monitorLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkStale()
		}
	}
}

// checkStale forces a reconnect on channels whose last heartbeat is older
// than twice the heartbeat interval.
func (m *Manager) checkStale() {
	cutoff := 2 * m.cfg.HeartbeatInterval
	now := m.clock()

	m.mu.Lock()
	stale := make([]string, 0)
	for id, ch := range m.channels {
		if ch.state == StateSubscribed && now.Sub(ch.lastHeartbeat) > cutoff {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.log.WithField("session_id", id).Warn("channel heartbeat stale, forcing reconnect")
		m.markDisconnected(id)
	}
}

// Snapshot is a point-in-time view for the ops surface.
type Snapshot struct {
	Channels     int
	ByState      map[string]int
	PendingTotal int
}

// Stats aggregates channel counts without side effects.
func (m *Manager) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Channels: len(m.channels), ByState: make(map[string]int)}
	for _, ch := range m.channels {
		snap.ByState[ch.state.String()]++
		snap.PendingTotal += len(ch.pending)
	}
	return snap
}

// PendingCount reports the queued-message count for one session.
func (m *Manager) PendingCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[sessionID]; ok {
		return len(ch.pending)
	}
	return 0
}

// ChannelState reports the session channel's current state; ok is false when
// no channel exists.
func (m *Manager) ChannelState(sessionID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[sessionID]; ok {
		return ch.state, true
	}
	return StateTorndown, false
}
