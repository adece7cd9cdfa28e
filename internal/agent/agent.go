// Package agent orchestrates transcription for one meeting: it owns the room
// session, wires each participant's audio into a speech stream, and forwards
// finalized segments to persistence and the room's caption channel.
package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/KetanKumavat/Ascend-sub000/internal/audio"
	"github.com/KetanKumavat/Ascend-sub000/internal/highlight"
	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
	"github.com/KetanKumavat/Ascend-sub000/internal/meeting"
	"github.com/KetanKumavat/Ascend-sub000/internal/room"
	"github.com/KetanKumavat/Ascend-sub000/internal/speech"
	"github.com/KetanKumavat/Ascend-sub000/internal/store"
)

// Control message types sent over the room data channel.
const (
	msgStartTranscription = "start_transcription"
	msgStopTranscription  = "stop_transcription"
	msgCaption            = "caption"
)

// controlMessage signals agent start/stop to other room clients.
type controlMessage struct {
	Type      string `json:"type"`
	MeetingID string `json:"meeting_id"`
}

// captionMessage carries one live caption to other participants' clients.
// Interim captions replace the prior interim for the same participant.
type captionMessage struct {
	Type        string    `json:"type"`
	MeetingID   string    `json:"meeting_id"`
	Participant string    `json:"participant"`
	Text        string    `json:"text"`
	IsFinal     bool      `json:"is_final"`
	Provenance  string    `json:"provenance"`
	Timestamp   time.Time `json:"timestamp"`
}

// Config configures a transcription agent for one meeting.
type Config struct {
	MeetingID       string
	SpeechURL       string // empty runs fallback-only transcription
	SpeechToken     string
	SpeechLanguage  string
	StopGracePeriod time.Duration
}

// Agent is the per-meeting orchestrator. One agent owns one room connection;
// no two agents share one.
type Agent struct {
	cfg         Config
	session     *room.SessionManager
	saver       *store.AutoSaver
	db          *store.Store
	coordinator *meeting.StatusCoordinator
	generator   highlight.Generator

	channelsMu sync.Mutex
	channels   map[string]*Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New creates an agent. generator may be nil; the heuristic summary is used.
func New(cfg Config, session *room.SessionManager, db *store.Store, saver *store.AutoSaver, coordinator *meeting.StatusCoordinator, generator highlight.Generator) *Agent {
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		cfg:         cfg,
		session:     session,
		db:          db,
		saver:       saver,
		coordinator: coordinator,
		generator:   generator,
		channels:    make(map[string]*Channel),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start connects the room (suspending through the backoff schedule) and
// begins transcription. Starting an already started agent is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.startMu.Lock()
	if a.started {
		a.startMu.Unlock()
		return nil
	}
	a.started = true
	a.startMu.Unlock()

	logging.Info(logging.CategoryAgent, "starting transcription agent meetingID=%s", a.cfg.MeetingID)

	a.saver.Start()

	a.wg.Add(1)
	go a.watchStates()

	if err := a.session.Connect(ctx, a); err != nil {
		// Surfaced once; the failed meeting is completed, not errored per retry.
		logging.Error(logging.CategoryAgent, "room connect failed meetingID=%s: %v", a.cfg.MeetingID, err)
		a.Stop()
		return err
	}
	return nil
}

// Stop tears down every channel, flushes the transcript, generates
// highlights and completes the meeting. Idempotent, and completes even with
// streams mid-retry: in-flight work gets a bounded grace period, after which
// it is abandoned.
func (a *Agent) Stop() {
	a.stopOnce.Do(a.stop)
}

func (a *Agent) stop() {
	logging.Info(logging.CategoryAgent, "stopping transcription agent meetingID=%s", a.cfg.MeetingID)
	a.cancel()

	a.publishControl(msgStopTranscription)

	// Tear down channels with a bounded grace period.
	a.channelsMu.Lock()
	channels := make([]*Channel, 0, len(a.channels))
	for _, ch := range a.channels {
		channels = append(channels, ch)
	}
	a.channels = make(map[string]*Channel)
	a.channelsMu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, ch := range channels {
			ch.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.cfg.StopGracePeriod):
		logging.Warning(logging.CategoryAgent, "grace period exceeded, abandoning channel teardown meetingID=%s", a.cfg.MeetingID)
	}

	a.saver.Stop()
	record, err := a.saver.Flush()
	if err != nil {
		logging.Error(logging.CategoryAgent, "final flush failed meetingID=%s: %v", a.cfg.MeetingID, err)
	}

	a.finalizeHighlights(record)

	a.session.Disconnect()
	a.coordinator.OnAgentStopped()

	a.wg.Wait()
	logging.Info(logging.CategoryAgent, "transcription agent stopped meetingID=%s", a.cfg.MeetingID)
}

func (a *Agent) finalizeHighlights(record store.TranscriptRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StopGracePeriod*4)
	defer cancel()

	speakers := splitSpeakers(record.Speakers)
	h := highlight.GenerateWithFallback(ctx, a.generator, record.Content, time.Duration(record.DurationSecs*float64(time.Second)), speakers)

	highlightsJSON, _ := json.Marshal(h.Highlights)
	actionsJSON, _ := json.Marshal(h.ActionItems)
	if err := a.db.FinalizeHighlights(a.cfg.MeetingID, h.Summary, string(highlightsJSON), string(actionsJSON)); err != nil {
		logging.Error(logging.CategoryAgent, "failed to finalize highlights meetingID=%s: %v", a.cfg.MeetingID, err)
	}
}

// watchStates reacts to session state changes: connected drives the meeting
// to IN_PROGRESS, terminal disconnects end it.
func (a *Agent) watchStates() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case change := <-a.session.States():
			switch change.State {
			case room.Connected:
				a.coordinator.OnRoomConnected()
				a.publishControl(msgStartTranscription)
				for _, identity := range a.session.RemoteParticipants() {
					a.ensureChannel(identity)
				}
			case room.Disconnected:
				if change.Reason.Terminal() {
					logging.Info(logging.CategoryAgent, "terminal room disconnect meetingID=%s reason=%s", a.cfg.MeetingID, change.Reason)
					go a.Stop()
					return
				}
			}
		}
	}
}

// HandleResult implements ResultSink. Final results are persisted and
// broadcast; interim results are broadcast only, never persisted, so a stale
// interim can never outlive its final.
func (a *Agent) HandleResult(participant string, res speech.Result) {
	caption := captionMessage{
		Type:        msgCaption,
		MeetingID:   a.cfg.MeetingID,
		Participant: participant,
		Text:        res.Text,
		IsFinal:     res.IsFinal,
		Provenance:  res.Provenance,
		Timestamp:   res.Timestamp,
	}
	if payload, err := json.Marshal(caption); err == nil {
		if err := a.session.PublishData(payload); err != nil {
			logging.Debug(logging.CategoryAgent, "caption broadcast failed participant=%s: %v", participant, err)
		}
	}

	if !res.IsFinal {
		return
	}

	a.saver.Append(store.Segment{
		MeetingID:   a.cfg.MeetingID,
		Participant: res.Speaker,
		Text:        res.Text,
		Language:    res.Language,
		Provenance:  res.Provenance,
		Timestamp:   res.Timestamp,
	})
}

// OnParticipantConnected implements room.EventHandler. Channels are created
// when the participant's audio track subscribes.
func (a *Agent) OnParticipantConnected(identity string) {
	logging.Info(logging.CategoryAgent, "participant connected meetingID=%s identity=%s", a.cfg.MeetingID, identity)
}

// OnParticipantDisconnected implements room.EventHandler.
func (a *Agent) OnParticipantDisconnected(identity string) {
	logging.Info(logging.CategoryAgent, "participant disconnected meetingID=%s identity=%s", a.cfg.MeetingID, identity)
	a.closeChannel(identity)
}

// OnTrackSubscribed implements room.EventHandler: one channel per
// participant. A reconnected room re-announces every track with a fresh
// handle, so an existing channel is bound to a dead track and gets replaced
// rather than left starving on it.
func (a *Agent) OnTrackSubscribed(identity string, track *webrtc.TrackRemote) {
	a.channelsMu.Lock()
	stale := a.channels[identity]
	delete(a.channels, identity)
	a.channelsMu.Unlock()
	if stale != nil {
		logging.Info(logging.CategoryAgent, "rebinding channel to new track meetingID=%s participant=%s", a.cfg.MeetingID, identity)
		stale.Stop()
	}

	ch, err := a.openChannel(identity, track)
	if err != nil {
		logging.Error(logging.CategoryAgent, "failed to open channel participant=%s: %v", identity, err)
		return
	}

	a.channelsMu.Lock()
	a.channels[identity] = ch
	a.channelsMu.Unlock()
	ch.Start()
}

// ensureChannel opens a channel for a participant that has none, covering
// participants already present at connect time whose tracks have not
// subscribed. Track subscription rebinds the channel to the real track.
func (a *Agent) ensureChannel(identity string) {
	a.channelsMu.Lock()
	_, exists := a.channels[identity]
	a.channelsMu.Unlock()
	if exists {
		return
	}

	ch, err := a.openChannel(identity, nil)
	if err != nil {
		logging.Error(logging.CategoryAgent, "failed to open channel participant=%s: %v", identity, err)
		return
	}

	a.channelsMu.Lock()
	if _, exists := a.channels[identity]; exists {
		a.channelsMu.Unlock()
		ch.Stop()
		return
	}
	a.channels[identity] = ch
	a.channelsMu.Unlock()
	ch.Start()
}

// OnTrackUnsubscribed implements room.EventHandler.
func (a *Agent) OnTrackUnsubscribed(identity string) {
	a.closeChannel(identity)
}

// OnDataReceived implements room.EventHandler. Inbound data messages are not
// part of this subsystem's contract beyond logging.
func (a *Agent) OnDataReceived(identity string, payload []byte) {
	logging.Debug(logging.CategoryAgent, "data message received from=%s bytes=%d", identity, len(payload))
}

// OnDisconnected implements room.EventHandler: hand the classified drop to
// the session manager, which reconnects or ends the session.
func (a *Agent) OnDisconnected(reason room.DisconnectReason) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.session.HandleDisconnect(a.ctx, reason)
	}()
}

// openChannel builds the bridge + stream pair for one participant.
func (a *Agent) openChannel(identity string, track *webrtc.TrackRemote) (*Channel, error) {
	var bridge *audio.FrameBridge
	if track != nil {
		var err error
		bridge, err = audio.NewFrameBridge(identity)
		if err != nil {
			return nil, err
		}
		bridge.Attach(track)
	}

	var source speech.Stream
	if a.cfg.SpeechURL != "" {
		connector, err := speech.NewConnector(speech.ConnectorConfig{
			URL:   a.cfg.SpeechURL,
			Token: a.cfg.SpeechToken,
		}, speech.StreamParams{
			MeetingID:   a.cfg.MeetingID,
			Participant: identity,
			Language:    a.cfg.SpeechLanguage,
			SampleRate:  audio.FrameSampleRate,
		})
		if err != nil {
			return nil, err
		}
		if err := connector.Open(a.ctx); err != nil {
			// Retry budget exhausted; the channel runs on fallback.
			logging.Warning(logging.CategoryAgent, "provider open failed, channel will run on fallback participant=%s: %v", identity, err)
		}
		source = connector
	}

	logging.Info(logging.CategoryAgent, "opened participant channel meetingID=%s participant=%s", a.cfg.MeetingID, identity)
	return NewChannel(a.cfg.MeetingID, identity, source, bridge, a), nil
}

func (a *Agent) closeChannel(identity string) {
	a.channelsMu.Lock()
	ch, exists := a.channels[identity]
	if exists {
		delete(a.channels, identity)
	}
	a.channelsMu.Unlock()

	if exists {
		ch.Stop()
		logging.Info(logging.CategoryAgent, "closed participant channel meetingID=%s participant=%s", a.cfg.MeetingID, identity)
	}
}

func (a *Agent) publishControl(msgType string) {
	payload, err := json.Marshal(controlMessage{Type: msgType, MeetingID: a.cfg.MeetingID})
	if err != nil {
		return
	}
	if err := a.session.PublishData(payload); err != nil {
		logging.Debug(logging.CategoryAgent, "control message publish failed type=%s: %v", msgType, err)
	}
}

func splitSpeakers(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
