// Package room manages the connection lifecycle to the shared real-time room,
// independent of transcription concerns.
package room

// ConnectionState is the state of the room link.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// DisconnectReason classifies why the room link dropped. The classification
// decides whether the session resumes or the meeting is treated as ended.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonClientInitiated
	ReasonServerShutdown
	ReasonRoomDeleted
	ReasonNetworkTransient
	ReasonUnknown
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonClientInitiated:
		return "client_initiated"
	case ReasonServerShutdown:
		return "server_shutdown"
	case ReasonRoomDeleted:
		return "room_deleted"
	case ReasonNetworkTransient:
		return "network_transient"
	case ReasonUnknown:
		return "unknown"
	}
	return "invalid"
}

// Terminal reports whether the reason means the room no longer exists and the
// meeting must be treated as ended rather than resumed.
func (r DisconnectReason) Terminal() bool {
	switch r {
	case ReasonServerShutdown, ReasonRoomDeleted, ReasonUnknown:
		return true
	}
	return false
}

// StateChange is emitted on every connection state transition.
type StateChange struct {
	State  ConnectionState
	Reason DisconnectReason
	Err    error
}
