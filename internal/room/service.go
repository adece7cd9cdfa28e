package room

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// EventHandler receives room events. Callbacks arrive asynchronously from the
// media layer.
type EventHandler interface {
	OnParticipantConnected(identity string)
	OnParticipantDisconnected(identity string)
	OnTrackSubscribed(identity string, track *webrtc.TrackRemote)
	OnTrackUnsubscribed(identity string)
	OnDataReceived(identity string, payload []byte)
	OnDisconnected(reason DisconnectReason)
}

// Service is the narrow command surface over the real-time room layer.
// Reimplementing media transport is out of scope; this interface is all the
// subsystem sees of it.
type Service interface {
	// Connect joins the room and registers the handler for events. A
	// returned ConnectError carries a transient/permanent classification.
	Connect(ctx context.Context, handler EventHandler) error

	// Disconnect leaves the room. Safe to call when not connected.
	Disconnect()

	// PublishData sends a payload over the room's reliable data channel.
	PublishData(payload []byte) error

	// RemoteParticipants lists identities currently present in the room.
	RemoteParticipants() []string
}

// ConnectError wraps a connection failure with its retry classification.
type ConnectError struct {
	Err       error
	Transient bool
}

func (e *ConnectError) Error() string { return e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a connection failure worth retrying.
func IsTransient(err error) bool {
	if ce, ok := err.(*ConnectError); ok {
		return ce.Transient
	}
	return false
}

// LiveKitService implements Service over the LiveKit server SDK.
type LiveKitService struct {
	url       string
	apiKey    string
	apiSecret string
	roomName  string
	identity  string

	mu   sync.Mutex
	room *lksdk.Room

	// set while Disconnect is in progress so the SDK's disconnect callback
	// is reported as client-initiated
	leaving bool
}

// NewLiveKitService creates a room service for one meeting room.
func NewLiveKitService(url, apiKey, apiSecret, roomName, identity string) *LiveKitService {
	return &LiveKitService{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		roomName:  roomName,
		identity:  identity,
	}
}

// Connect mints a join token and connects to the room.
func (s *LiveKitService) Connect(ctx context.Context, handler EventHandler) error {
	token, err := s.buildJoinToken()
	if err != nil {
		// Bad credentials are a configuration fault, not retryable.
		return &ConnectError{Err: fmt.Errorf("build join token: %w", err), Transient: false}
	}

	callbacks := &lksdk.RoomCallback{
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			s.mu.Lock()
			leaving := s.leaving
			s.mu.Unlock()
			if leaving {
				handler.OnDisconnected(ReasonClientInitiated)
				return
			}
			handler.OnDisconnected(classifyDisconnection(reason))
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			handler.OnParticipantConnected(rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			handler.OnParticipantDisconnected(rp.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				handler.OnTrackSubscribed(rp.Identity(), track)
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				handler.OnTrackUnsubscribed(rp.Identity())
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				if user, ok := data.(*lksdk.UserDataPacket); ok {
					handler.OnDataReceived(params.SenderIdentity, user.Payload)
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(s.url, token, callbacks)
	if err != nil {
		return &ConnectError{Err: fmt.Errorf("connect to room: %w", err), Transient: classifyConnectFailure(err)}
	}

	s.mu.Lock()
	s.room = room
	s.leaving = false
	s.mu.Unlock()

	logging.Info(logging.CategoryRoom, "connected to room room=%s identity=%s", room.Name(), room.LocalParticipant.Identity())
	return nil
}

// Disconnect leaves the room.
func (s *LiveKitService) Disconnect() {
	s.mu.Lock()
	room := s.room
	s.leaving = true
	s.room = nil
	s.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}
}

// PublishData sends a payload over the reliable data channel.
func (s *LiveKitService) PublishData(payload []byte) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return fmt.Errorf("room: not connected")
	}
	return room.LocalParticipant.PublishDataPacket(lksdk.UserData(payload), lksdk.WithDataPublishReliable(true))
}

// RemoteParticipants lists identities currently in the room.
func (s *LiveKitService) RemoteParticipants() []string {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return nil
	}
	participants := room.GetRemoteParticipants()
	identities := make([]string, 0, len(participants))
	for _, p := range participants {
		identities = append(identities, p.Identity())
	}
	return identities
}

func (s *LiveKitService) buildJoinToken() (string, error) {
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         s.roomName,
		CanSubscribe: &canSubscribe,
	}
	at.AddGrant(grant)
	at.SetIdentity(s.identity)
	at.SetValidFor(24 * time.Hour)
	return at.ToJWT()
}

// classifyDisconnection maps SDK disconnect reasons onto the session policy.
func classifyDisconnection(reason lksdk.DisconnectionReason) DisconnectReason {
	switch reason {
	case lksdk.LeaveRequested:
		return ReasonClientInitiated
	case lksdk.RoomClosed:
		return ReasonRoomDeleted
	case lksdk.ParticipantRemoved, lksdk.DuplicateIdentity:
		return ReasonServerShutdown
	case lksdk.Failed:
		return ReasonNetworkTransient
	}
	return ReasonUnknown
}

// classifyConnectFailure reports whether an initial connect failure looks
// transient. Auth and permission failures are permanent.
func classifyConnectFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "permission") || strings.Contains(msg, "invalid token") || strings.Contains(msg, "forbidden") {
		return false
	}
	return true
}
