package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/rsmnv/meshlook/internal/config"
	"github.com/rsmnv/meshlook/internal/core"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second // compatible for ice-lite with firefox client
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

var ErrNoRemoteDescription = errors.New("remote description is not set")

// Negotiator owns the peer connection to exactly one remote
// participant: the ICE/SDP exchange for that single mesh edge.
type Negotiator struct {
	remoteID core.ParticipantID

	pc *webrtc.PeerConnection
	me *webrtc.MediaEngine

	closeOnce sync.Once
}

type NegotiatorParams struct {
	RemoteID      core.ParticipantID
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
}

func NewNegotiator(params NegotiatorParams) (*Negotiator, error) {
	pc, me, err := newPeerConnection(params)
	if err != nil {
		return nil, err
	}

	n := &Negotiator{
		remoteID: params.RemoteID,
		pc:       pc,
		me:       me,
	}

	n.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "negotiator").Str("remoteID", string(n.remoteID)).Msg("ICE gathering complete")
		}
	})

	return n, nil
}

func newPeerConnection(params NegotiatorParams) (*webrtc.PeerConnection, *webrtc.MediaEngine, error) {
	me, err := createMediaEngine(params.EnabledCodecs, params.Config.Direction)
	if err != nil {
		return nil, nil, err
	}

	se := params.Config.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(params.Config.Configuration)

	return pc, me, err
}

func (n *Negotiator) RemoteID() core.ParticipantID {
	return n.remoteID
}

// OnLocalCandidate fires for every locally discovered candidate, as it
// is discovered. The end-of-gathering nil marker is swallowed.
func (n *Negotiator) OnLocalCandidate(callback func(webrtc.ICECandidateInit)) {
	n.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		callback(candidate.ToJSON())
	})
}

func (n *Negotiator) OnRemoteTrack(callback func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	n.pc.OnTrack(callback)
}

func (n *Negotiator) OnStateChange(callback func(webrtc.PeerConnectionState)) {
	n.pc.OnConnectionStateChange(callback)
}

// AttachLocalTracks wires the local outgoing media. A nil track leaves
// a receive-only section in its place so an audio/video-less
// participant still negotiates both kinds.
func (n *Negotiator) AttachLocalTracks(media *LocalMedia) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		track := media.Track(kind)
		if track != nil {
			if _, err := n.pc.AddTrack(track); err != nil {
				return err
			}
			continue
		}

		if _, err := n.pc.AddTransceiverFromKind(
			kind,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
		); err != nil {
			return err
		}
	}

	return nil
}

func (n *Negotiator) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	if err := n.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}

	return n.pc.LocalDescription(), nil
}

// HandleOffer applies the remote offer and produces the local answer.
func (n *Negotiator) HandleOffer(sdp webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := n.pc.SetRemoteDescription(sdp); err != nil {
		return nil, err
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	if err := n.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	return n.pc.LocalDescription(), nil
}

func (n *Negotiator) ApplyAnswer(sdp webrtc.SessionDescription) error {
	return n.pc.SetRemoteDescription(sdp)
}

func (n *Negotiator) HasRemoteDescription() bool {
	return n.pc.RemoteDescription() != nil
}

// AddICECandidate applies one remote candidate. Application is causally
// gated on the remote description; callers buffer until then.
func (n *Negotiator) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if n.pc.RemoteDescription() == nil {
		return ErrNoRemoteDescription
	}

	return n.pc.AddICECandidate(candidate)
}

func (n *Negotiator) WriteRTCP(packets []rtcp.Packet) error {
	return n.pc.WriteRTCP(packets)
}

// Close is idempotent; stale async completions after it are no-ops.
func (n *Negotiator) Close() {
	n.closeOnce.Do(func() {
		if err := n.pc.Close(); err != nil {
			log.Error().Err(err).Str("service", "negotiator").Str("remoteID", string(n.remoteID)).Msg("close peer connection")
		}
	})
}
