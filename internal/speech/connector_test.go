package speech

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testParams() StreamParams {
	return StreamParams{
		MeetingID:   "m1",
		Participant: "alice",
		Language:    "en",
		SampleRate:  16000,
	}
}

// newProviderServer runs a scripted provider endpoint. The handler receives
// each upgraded connection.
func newProviderServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}
		q := r.URL.Query()
		if q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" || q.Get("language") != "en" {
			t.Errorf("unexpected stream query: %v", q)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handler(conn)
	}))
}

func TestNewConnector_MissingToken(t *testing.T) {
	_, err := NewConnector(ConnectorConfig{URL: "https://provider.test/stream"}, testParams())
	if err != ErrMissingToken {
		t.Fatalf("NewConnector() error = %v, want ErrMissingToken", err)
	}
}

func TestConnector_OpenSendAndReceive(t *testing.T) {
	got := make(chan []byte, 1)
	srv := newProviderServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		// Read the first audio frame, answer with an interim then a final.
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- data
		conn.WriteMessage(websocket.TextMessage, []byte(`{"transcript":"hello","is_final":false}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"transcript":"hello world","is_final":true,"speaker":"spk-1","confidence":0.93}`))
		// Hold until the client closes.
		conn.ReadMessage()
	})
	defer srv.Close()

	c, err := NewConnector(ConnectorConfig{URL: srv.URL, Token: "secret"}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want %s", got, StateIdle)
	}

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("state after open = %s, want %s", got, StateOpen)
	}

	frame := []int16{0, 1, -1, 32767}
	if err := c.Send(frame); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	select {
	case data := <-got:
		if len(data) != len(frame)*2 {
			t.Fatalf("frame payload = %d bytes, want %d", len(data), len(frame)*2)
		}
		if s := int16(binary.LittleEndian.Uint16(data[2:])); s != 1 {
			t.Errorf("sample[1] = %d, want 1", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("provider did not receive the frame")
	}

	// Events arrive in order with provider provenance; empty speaker falls
	// back to the participant identity.
	r1 := <-c.Results()
	if r1.Text != "hello" || r1.IsFinal || r1.Speaker != "alice" || r1.Provenance != ProvenanceProvider {
		t.Errorf("first result = %+v", r1)
	}
	r2 := <-c.Results()
	if r2.Text != "hello world" || !r2.IsFinal || r2.Speaker != "spk-1" || r2.Confidence != 0.93 {
		t.Errorf("second result = %+v", r2)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("state after close = %s, want %s", got, StateClosed)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() after clean close = %v, want nil", err)
	}
	// Results channel is closed.
	if _, ok := <-c.Results(); ok {
		t.Error("results channel still open after Close")
	}

	// Close is idempotent, and Send after close reports not-open.
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := c.Send(frame); err != ErrNotOpen {
		t.Errorf("Send after close = %v, want ErrNotOpen", err)
	}
}

func TestConnector_AbruptCloseEntersError(t *testing.T) {
	srv := newProviderServer(t, func(conn *websocket.Conn) {
		// Drop the connection without a close handshake.
		conn.UnderlyingConn().Close()
	})
	defer srv.Close()

	c, err := NewConnector(ConnectorConfig{URL: srv.URL, Token: "secret"}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() = %v", err)
	}

	// The reader observes the failure and closes results.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Results():
			if !ok {
				if c.State() != StateError {
					t.Errorf("state = %s, want %s", c.State(), StateError)
				}
				if c.Err() == nil {
					t.Error("Err() = nil, want failure")
				}
				return
			}
		case <-deadline:
			t.Fatal("results channel not closed after abrupt drop")
		}
	}
}

func TestConnector_DialFailureAfterRetry(t *testing.T) {
	// A server that refuses the upgrade makes every dial attempt fail.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewConnector(ConnectorConfig{URL: srv.URL, Token: "secret"}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background()); err == nil {
		t.Fatal("Open() = nil, want dial error")
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %s, want %s", got, StateError)
	}
	if _, ok := <-c.Results(); ok {
		t.Error("results channel still open after failed open")
	}
}

func TestConnector_CloseFromIdle(t *testing.T) {
	c, err := NewConnector(ConnectorConfig{URL: "https://provider.test/stream", Token: "secret"}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() from idle = %v", err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("state = %s, want %s", got, StateClosed)
	}
	if err := c.Open(context.Background()); err == nil {
		t.Error("Open() after close = nil, want error")
	}
}

func TestBuildStreamURL_SchemeMapping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://provider.test/stream", "wss"},
		{"http://provider.test/stream", "ws"},
		{"wss://provider.test/stream", "wss"},
	}
	for _, tt := range tests {
		c := &Connector{cfg: ConnectorConfig{URL: tt.in}, params: testParams()}
		u, err := c.buildStreamURL()
		if err != nil {
			t.Fatalf("buildStreamURL(%s) = %v", tt.in, err)
		}
		if u[:len(tt.want)+3] != tt.want+"://" {
			t.Errorf("buildStreamURL(%s) = %s, want scheme %s", tt.in, u, tt.want)
		}
	}
}
