package core

import (
	"github.com/pion/webrtc/v3"
)

// ConnState mirrors the underlying peer connection state. It is carried
// for observability only, correctness never depends on it.
type ConnState string

const (
	ConnStateNew          ConnState = "new"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

func ConnStateOf(state webrtc.PeerConnectionState) ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return ConnStateNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnStateFailed
	default:
		return ConnStateClosed
	}
}

// Participant is one remote party of the room.
type Participant struct {
	ID         ParticipantID `json:"id"`
	Name       string        `json:"name"`
	IsAdmin    bool          `json:"is_admin"`
	IsMuted    bool          `json:"is_muted"`
	IsVideoOff bool          `json:"is_video_off"`
	State      ConnState     `json:"state"`

	// Tracks is the remote media handed over by the negotiator once the
	// pairwise connection produced it. Empty until then.
	Tracks []*webrtc.TrackRemote `json:"-"`
}

// ParticipantPatch is a partial update merged into a Participant.
// Nil fields leave the current value untouched.
type ParticipantPatch struct {
	Name       *string
	IsAdmin    *bool
	IsMuted    *bool
	IsVideoOff *bool
	State      *ConnState
	AddTrack   *webrtc.TrackRemote
}

func (p *Participant) Apply(patch ParticipantPatch) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.IsAdmin != nil {
		p.IsAdmin = *patch.IsAdmin
	}
	if patch.IsMuted != nil {
		p.IsMuted = *patch.IsMuted
	}
	if patch.IsVideoOff != nil {
		p.IsVideoOff = *patch.IsVideoOff
	}
	if patch.State != nil {
		p.State = *patch.State
	}
	if patch.AddTrack != nil {
		p.Tracks = append(p.Tracks, patch.AddTrack)
	}
}

func String(s string) *string      { return &s }
func Bool(b bool) *bool            { return &b }
func State(s ConnState) *ConnState { return &s }
