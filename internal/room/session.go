package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// BackoffConfig bounds the reconnect policy for transient failures.
type BackoffConfig struct {
	Initial     time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff is the standard reconnect policy: 1s doubling to a 30s cap.
var DefaultBackoff = BackoffConfig{
	Initial:     time.Second,
	Cap:         30 * time.Second,
	MaxAttempts: 6,
}

// SessionManager owns the room connection for one meeting. It establishes
// and repairs the link, classifies involuntary drops, and emits state-change
// events. It performs no persistence.
type SessionManager struct {
	svc     Service
	backoff BackoffConfig

	mu      sync.Mutex
	state   ConnectionState
	handler EventHandler
	stopped bool

	states chan StateChange
}

// NewSessionManager creates a manager around the given room service.
func NewSessionManager(svc Service, backoff BackoffConfig) *SessionManager {
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff
	}
	return &SessionManager{
		svc:     svc,
		backoff: backoff,
		state:   Disconnected,
		states:  make(chan StateChange, 16),
	}
}

// States returns the state-change event channel consumed by the agent and the
// status coordinator.
func (m *SessionManager) States() <-chan StateChange {
	return m.states
}

// State returns the current connection state.
func (m *SessionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the room link, retrying transient failures with
// exponential backoff. Non-transient failures are reported immediately.
// Connect may suspend for the duration of the backoff schedule.
func (m *SessionManager) Connect(ctx context.Context, handler EventHandler) error {
	m.mu.Lock()
	m.handler = handler
	m.stopped = false
	m.mu.Unlock()

	m.setState(Connecting, ReasonNone, nil)
	err := m.connectWithRetry(ctx)
	if err != nil {
		m.setState(Disconnected, ReasonNone, err)
		return err
	}
	m.setState(Connected, ReasonNone, nil)
	return nil
}

// Disconnect leaves the room deliberately. The resulting disconnect callback
// is classified as client-initiated and not retried.
func (m *SessionManager) Disconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.svc.Disconnect()
	m.setState(Disconnected, ReasonClientInitiated, nil)
}

// PublishData forwards to the owned room connection.
func (m *SessionManager) PublishData(payload []byte) error {
	return m.svc.PublishData(payload)
}

// RemoteParticipants forwards to the owned room connection.
func (m *SessionManager) RemoteParticipants() []string {
	return m.svc.RemoteParticipants()
}

// HandleDisconnect reacts to an involuntary drop reported by the room layer.
// Terminal reasons end the session; transient ones trigger the reconnect
// policy without surfacing meeting-termination events.
func (m *SessionManager) HandleDisconnect(ctx context.Context, reason DisconnectReason) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped || reason == ReasonClientInitiated {
		return
	}

	if reason.Terminal() {
		logging.Info(logging.CategoryRoom, "terminal disconnect reason=%s, ending session", reason)
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		m.setState(Disconnected, reason, nil)
		return
	}

	logging.Warning(logging.CategoryRoom, "transient disconnect reason=%s, reconnecting", reason)
	m.setState(Reconnecting, reason, nil)
	if err := m.connectWithRetry(ctx); err != nil {
		m.setState(Disconnected, ReasonNetworkTransient, err)
		return
	}
	m.setState(Connected, ReasonNone, nil)
}

// connectWithRetry attempts the connection with exponential backoff, retrying
// transient failures only.
func (m *SessionManager) connectWithRetry(ctx context.Context) error {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	delay := m.backoff.Initial
	var lastErr error
	for attempt := 0; attempt < m.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			logging.Info(logging.CategoryRoom, "retrying room connect attempt=%d delay=%v", attempt, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("room connect cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > m.backoff.Cap {
				delay = m.backoff.Cap
			}
		}

		err := m.svc.Connect(ctx, handler)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return fmt.Errorf("room connect failed permanently: %w", err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("room connect cancelled: %w", ctx.Err())
		}
	}
	return fmt.Errorf("room connect failed after %d attempts: %w", m.backoff.MaxAttempts, lastErr)
}

func (m *SessionManager) setState(state ConnectionState, reason DisconnectReason, err error) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	change := StateChange{State: state, Reason: reason, Err: err}
	select {
	case m.states <- change:
	default:
		logging.Warning(logging.CategoryRoom, "state event dropped, consumer behind state=%s", state)
	}
}

// NopHandler is an EventHandler with no behavior, embeddable by handlers that
// only care about a subset of events.
type NopHandler struct{}

func (NopHandler) OnParticipantConnected(string)                  {}
func (NopHandler) OnParticipantDisconnected(string)               {}
func (NopHandler) OnTrackSubscribed(string, *webrtc.TrackRemote)  {}
func (NopHandler) OnTrackUnsubscribed(string)                     {}
func (NopHandler) OnDataReceived(string, []byte)                  {}
func (NopHandler) OnDisconnected(DisconnectReason)                {}
