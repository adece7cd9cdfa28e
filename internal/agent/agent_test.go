package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KetanKumavat/Ascend-sub000/internal/highlight"
	"github.com/KetanKumavat/Ascend-sub000/internal/meeting"
	"github.com/KetanKumavat/Ascend-sub000/internal/room"
	"github.com/KetanKumavat/Ascend-sub000/internal/speech"
	"github.com/KetanKumavat/Ascend-sub000/internal/store"
)

// fakeRoomService records room commands for agent tests.
type fakeRoomService struct {
	mu           sync.Mutex
	published    [][]byte
	participants []string
	connects     int
}

func (f *fakeRoomService) Connect(ctx context.Context, handler room.EventHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeRoomService) Disconnect() {}

func (f *fakeRoomService) RemoteParticipants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants
}

func (f *fakeRoomService) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeRoomService) PublishData(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, append([]byte(nil), payload...))
	return nil
}

func (f *fakeRoomService) messages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.published))
	for _, p := range f.published {
		var m map[string]interface{}
		if err := json.Unmarshal(p, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeRoomService) hasMessage(msgType string) bool {
	for _, m := range f.messages() {
		if m["type"] == msgType {
			return true
		}
	}
	return false
}

type agentFixture struct {
	agent       *Agent
	svc         *fakeRoomService
	db          *store.Store
	coordinator *meeting.StatusCoordinator
}

func newAgentFixture(t *testing.T, cfg Config) *agentFixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MeetingID == "" {
		cfg.MeetingID = "m1"
	}
	if cfg.StopGracePeriod == 0 {
		cfg.StopGracePeriod = 500 * time.Millisecond
	}

	svc := &fakeRoomService{}
	session := room.NewSessionManager(svc, room.BackoffConfig{
		Initial: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 2,
	})
	coordinator := meeting.NewStatusCoordinator(cfg.MeetingID, db)
	saver := store.NewAutoSaver(db, cfg.MeetingID, time.Hour, time.Hour)

	return &agentFixture{
		agent:       New(cfg, session, db, saver, coordinator, nil),
		svc:         svc,
		db:          db,
		coordinator: coordinator,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestAgent_StartStopLifecycle(t *testing.T) {
	fx := newAgentFixture(t, Config{})

	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	// Starting twice is a no-op.
	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatalf("second Start() = %v", err)
	}

	waitFor(t, "IN_PROGRESS", func() bool {
		return fx.coordinator.Status() == meeting.StatusInProgress
	})
	waitFor(t, "start control message", func() bool {
		return fx.svc.hasMessage("start_transcription")
	})

	fx.agent.Stop()
	fx.agent.Stop()

	if got := fx.coordinator.Status(); got != meeting.StatusCompleted {
		t.Errorf("status after stop = %s, want COMPLETED", got)
	}
	if !fx.svc.hasMessage("stop_transcription") {
		t.Error("stop control message not published")
	}

	// The final flush and highlight pass leave a complete, non-processing
	// transcript behind even for an empty meeting.
	tr, err := fx.db.GetTranscript("m1")
	if err != nil {
		t.Fatal(err)
	}
	if tr.IsPartial {
		t.Error("final transcript still marked partial")
	}
	if tr.Processing {
		t.Error("processing flag still set after highlight finalization")
	}
	if !strings.HasPrefix(tr.Summary, highlight.FallbackNotice) {
		t.Errorf("summary = %q, want heuristic fallback", tr.Summary)
	}

	sess, err := fx.db.GetMeetingSession("m1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != string(meeting.StatusCompleted) {
		t.Errorf("persisted status = %s, want COMPLETED", sess.Status)
	}
}

func TestAgent_FinalResultsPersistedInterimsBroadcastOnly(t *testing.T) {
	fx := newAgentFixture(t, Config{})
	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ts := time.Now()
	fx.agent.HandleResult("alice", speech.Result{
		Text: "hel", IsFinal: false, Speaker: "alice", Provenance: speech.ProvenanceProvider, Timestamp: ts,
	})
	fx.agent.HandleResult("alice", speech.Result{
		Text: "hello world", IsFinal: true, Speaker: "alice", Provenance: speech.ProvenanceProvider, Timestamp: ts.Add(time.Second),
	})

	// Both results were broadcast as captions.
	captions := 0
	for _, m := range fx.svc.messages() {
		if m["type"] == "caption" {
			captions++
		}
	}
	if captions != 2 {
		t.Errorf("captions broadcast = %d, want 2", captions)
	}

	// Only the final reached the store.
	rows, err := fx.db.SegmentsByMeeting("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("persisted segments = %d, want 1", len(rows))
	}
	if rows[0].Text != "hello world" || rows[0].Participant != "alice" {
		t.Errorf("persisted segment = %+v", rows[0])
	}

	fx.agent.Stop()

	tr, err := fx.db.GetTranscript("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.Content, "alice: hello world") {
		t.Errorf("transcript content = %q", tr.Content)
	}
	if strings.Contains(tr.Content, "hel\n") {
		t.Error("interim text leaked into the transcript")
	}
	if tr.Speakers != "alice" {
		t.Errorf("speakers = %q, want alice", tr.Speakers)
	}
}

func TestAgent_ChannelPerTrack(t *testing.T) {
	// No speech URL: channels run fallback-only, no media stack needed.
	fx := newAgentFixture(t, Config{})
	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer fx.agent.Stop()

	fx.agent.OnTrackSubscribed("alice", nil)
	fx.agent.channelsMu.Lock()
	ch, ok := fx.agent.channels["alice"]
	fx.agent.channelsMu.Unlock()
	if !ok {
		t.Fatal("no channel created on track subscribe")
	}
	if !ch.UsingFallback() {
		t.Error("channel without provider must run on fallback")
	}

	// A resubscribe replaces the channel, never leaves two.
	fx.agent.OnTrackSubscribed("alice", nil)
	fx.agent.channelsMu.Lock()
	replaced := fx.agent.channels["alice"] != ch
	count := len(fx.agent.channels)
	fx.agent.channelsMu.Unlock()
	if !replaced || count != 1 {
		t.Errorf("resubscribe: replaced=%v count=%d, want true/1", replaced, count)
	}

	fx.agent.OnTrackUnsubscribed("alice")
	fx.agent.channelsMu.Lock()
	count = len(fx.agent.channels)
	fx.agent.channelsMu.Unlock()
	if count != 0 {
		t.Errorf("channels after unsubscribe = %d, want 0", count)
	}
}

func TestAgent_RebindsChannelAfterReconnect(t *testing.T) {
	fx := newAgentFixture(t, Config{})
	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer fx.agent.Stop()

	fx.agent.OnTrackSubscribed("alice", nil)
	fx.agent.channelsMu.Lock()
	ch1 := fx.agent.channels["alice"]
	fx.agent.channelsMu.Unlock()
	if ch1 == nil {
		t.Fatal("no channel after subscribe")
	}

	// Transient drop; the session reconnects and the fresh room connection
	// re-announces the participant's track with a new handle.
	fx.agent.OnDisconnected(room.ReasonNetworkTransient)
	waitFor(t, "reconnect", func() bool { return fx.svc.connectCount() >= 2 })

	fx.agent.OnTrackSubscribed("alice", nil)
	fx.agent.channelsMu.Lock()
	ch2 := fx.agent.channels["alice"]
	count := len(fx.agent.channels)
	fx.agent.channelsMu.Unlock()

	if ch2 == ch1 {
		t.Fatal("channel still bound to the pre-reconnect track")
	}
	if count != 1 {
		t.Errorf("channels after rebind = %d, want 1", count)
	}
	if ch1.UsingFallback() {
		t.Error("stale channel still active after rebind")
	}
	if !ch2.UsingFallback() {
		t.Error("rebound channel not producing")
	}
}

func TestAgent_OpensChannelsForPresentParticipants(t *testing.T) {
	fx := newAgentFixture(t, Config{})
	fx.svc.participants = []string{"alice", "bob"}

	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer fx.agent.Stop()

	// Participants already in the room at connect time get a channel even
	// before their tracks subscribe.
	waitFor(t, "channels for present participants", func() bool {
		fx.agent.channelsMu.Lock()
		defer fx.agent.channelsMu.Unlock()
		return len(fx.agent.channels) == 2
	})

	fx.agent.channelsMu.Lock()
	ch := fx.agent.channels["alice"]
	fx.agent.channelsMu.Unlock()
	if ch == nil || !ch.UsingFallback() {
		t.Error("trackless channel must run on fallback until its track subscribes")
	}
}

func TestAgent_TerminalDisconnectEndsMeeting(t *testing.T) {
	fx := newAgentFixture(t, Config{})
	if err := fx.agent.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "IN_PROGRESS", func() bool {
		return fx.coordinator.Status() == meeting.StatusInProgress
	})

	fx.agent.OnDisconnected(room.ReasonRoomDeleted)

	waitFor(t, "COMPLETED after room deletion", func() bool {
		return fx.coordinator.Status() == meeting.StatusCompleted
	})
}
