package speech

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// ConnectorState is the state of a provider stream connection.
type ConnectorState int

const (
	StateIdle ConnectorState = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
	StateError
)

func (s ConnectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

var (
	// ErrNotOpen is returned by Send when the stream is not in the Open state.
	ErrNotOpen = errors.New("speech: stream is not open")

	// ErrMissingToken is a configuration fault, reported at construction and
	// never retried.
	ErrMissingToken = errors.New("speech: provider token is required")
)

// openRetryBudget bounds reconnect attempts of the speech stream itself. A
// broken audio stream fails over to the fallback path rather than retrying
// indefinitely mid-meeting.
const openRetryBudget = 1

// ConnectorConfig configures the provider connection.
type ConnectorConfig struct {
	URL         string
	Token       string
	DialTimeout time.Duration
}

// Connector maintains a duplex streaming connection to the speech provider.
// PCM frames go out as binary messages; recognition events come back as JSON.
type Connector struct {
	cfg    ConnectorConfig
	params StreamParams

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu    sync.Mutex
	state ConnectorState
	err   error

	results   chan Result
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// providerEvent mirrors the JSON events the provider sends.
type providerEvent struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Speaker    string  `json:"speaker,omitempty"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// NewConnector creates a connector in the Idle state. A missing token is a
// configuration fault.
func NewConnector(cfg ConnectorConfig, params StreamParams) (*Connector, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Connector{
		cfg:     cfg,
		params:  params,
		state:   StateIdle,
		results: make(chan Result, 32),
	}, nil
}

// State returns the current connection state.
func (c *Connector) State() ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open dials the provider and starts the event reader. One reconnect attempt
// is made on failure, after which the connector enters Error and the owning
// channel must fall back.
func (c *Connector) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("speech: open from state %s", state)
	}
	c.state = StateOpening
	c.mu.Unlock()

	wsURL, err := c.buildStreamURL()
	if err != nil {
		c.fail(fmt.Errorf("build stream URL: %w", err))
		return c.Err()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.Token)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}

	var conn *websocket.Conn
	var lastErr error
	for attempt := 0; attempt <= openRetryBudget; attempt++ {
		if attempt > 0 {
			logging.Warning(logging.CategorySpeech, "retrying provider dial participant=%s attempt=%d: %v", c.params.Participant, attempt, lastErr)
		}
		conn, _, lastErr = dialer.DialContext(ctx, wsURL, headers)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		c.fail(fmt.Errorf("dial provider: %w", lastErr))
		return c.Err()
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	logging.Info(logging.CategorySpeech, "provider stream open meetingID=%s participant=%s", c.params.MeetingID, c.params.Participant)

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Send sends one PCM frame as little-endian 16-bit samples.
func (c *Connector) Send(frame []int16) error {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	c.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}

	buf := make([]byte, len(frame)*2)
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, buf)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Results returns the recognition event channel.
func (c *Connector) Results() <-chan Result {
	return c.results
}

// Err returns the terminal error, or nil for a clean close.
func (c *Connector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the stream down cleanly. Idempotent.
func (c *Connector) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateError:
		c.mu.Unlock()
		return nil
	case StateIdle:
		c.state = StateClosed
		c.mu.Unlock()
		c.closeOnce.Do(func() { close(c.results) })
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.results) })
	return nil
}

// readLoop reads provider events and forwards them, in arrival order, to the
// results channel.
func (c *Connector) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.state == StateClosing || c.state == StateClosed
			c.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.fail(fmt.Errorf("read provider event: %w", err))
			return
		}

		var ev providerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logging.Warning(logging.CategorySpeech, "dropping malformed provider event participant=%s: %v", c.params.Participant, err)
			continue
		}
		if ev.Transcript == "" {
			continue
		}

		speaker := ev.Speaker
		if speaker == "" {
			speaker = c.params.Participant
		}
		language := ev.Language
		if language == "" {
			language = c.params.Language
		}

		c.results <- Result{
			Text:       ev.Transcript,
			IsFinal:    ev.IsFinal,
			Speaker:    speaker,
			Language:   language,
			Confidence: ev.Confidence,
			Provenance: ProvenanceProvider,
			Timestamp:  time.Now(),
		}
	}
}

// fail transitions to Error and closes the results channel so the owning
// channel observes the failure instead of silently losing output.
func (c *Connector) fail(err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateError {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.err = err
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	logging.Error(logging.CategorySpeech, "provider stream failed meetingID=%s participant=%s: %v", c.params.MeetingID, c.params.Participant, err)
	c.closeOnce.Do(func() { close(c.results) })
}

func (c *Connector) buildStreamURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("language", c.params.Language)
	q.Set("sample_rate", fmt.Sprintf("%d", c.params.SampleRate))
	q.Set("encoding", "linear16")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
