package room

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/rsmnv/meshlook/internal/config"
	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
	"github.com/rsmnv/meshlook/internal/rtc"
	"github.com/rsmnv/meshlook/internal/telemetry"
)

var (
	ErrNotPrivileged  = errors.New("sender is not privileged to issue commands")
	ErrInvalidCommand = errors.New("unrecognized command action")
)

// Session is one client's membership in one room: the local identity,
// the roster of everyone else, and a negotiator per mesh edge. All
// signaling events are handled on the router's single goroutine;
// embedder calls (commands, media state, teardown) may come from
// anywhere, hence the lock around the negotiator map.
type Session struct {
	room      string
	localID   core.ParticipantID
	localName string
	isAdmin   bool

	cfg    *config.Config
	rtcCfg *config.WebRTCConfig

	bus    eventbus.Bus
	router *eventbus.Router
	roster *Roster
	media  *rtc.LocalMedia

	lock         sync.Mutex
	negotiators  map[core.ParticipantID]*rtc.Negotiator
	remoteTracks map[core.ParticipantID][]*rtc.RemoteTrack
	// departed ids never negotiate again; ids are never reused, so a
	// candidate from one is stale, not early.
	departed map[core.ParticipantID]struct{}

	candidates *rtc.CandidateBuffer

	// alive gates every handler and async completion; teardown flips it
	// first so stale callbacks become no-ops.
	alive atomic.Bool

	presenceStop chan struct{}
	kicked       chan struct{}
	kickOnce     sync.Once
	fatalErrs    chan error
	closeOnce    sync.Once
}

type SessionParams struct {
	Room        string
	DisplayName string
	IsAdmin     bool
	Bus         eventbus.Bus
	Media       *rtc.LocalMedia
	Config      *config.Config
}

func NewSession(params SessionParams) (*Session, error) {
	rtcCfg, err := config.NewWebRTCConfig(params.Config)
	if err != nil {
		return nil, err
	}

	media := params.Media
	if media == nil {
		media = rtc.NewLocalMedia(nil, nil)
	}

	s := &Session{
		room:         params.Room,
		localID:      core.NewParticipantID(),
		localName:    params.DisplayName,
		isAdmin:      params.IsAdmin,
		cfg:          params.Config,
		rtcCfg:       rtcCfg,
		bus:          params.Bus,
		roster:       NewRoster(),
		media:        media,
		negotiators:  make(map[core.ParticipantID]*rtc.Negotiator),
		remoteTracks: make(map[core.ParticipantID][]*rtc.RemoteTrack),
		departed:     make(map[core.ParticipantID]struct{}),
		candidates:   rtc.NewCandidateBuffer(),
		presenceStop: make(chan struct{}),
		kicked:       make(chan struct{}),
		fatalErrs:    make(chan error, 1),
	}

	router, err := eventbus.NewRouter(params.Bus, params.Room, s.localID)
	if err != nil {
		return nil, err
	}
	s.router = router

	router.OnJoin(s.handleJoin)
	router.OnParticipantInfo(s.handleParticipantInfo)
	router.OnOffer(s.handleOffer)
	router.OnAnswer(s.handleAnswer)
	router.OnAddICECandidate(s.handleICECandidate)
	router.OnLeave(s.handleLeave)
	router.OnCommand(s.handleCommand)
	router.OnSignalingError(func(err error) {
		select {
		case s.fatalErrs <- err:
		default:
		}
	})

	return s, nil
}

// Start announces presence and begins the periodic identity rebroadcast.
// The rebroadcast covers peers that missed the join: the channel gives
// no delivery guarantee and there is no other liveness mechanism.
func (s *Session) Start() error {
	s.alive.Store(true)

	<-s.router.Start()

	if err := s.publish(rpc.NewJoinRpc(s.identity())); err != nil {
		return err
	}

	go s.presenceLoop()

	return nil
}

func (s *Session) LocalID() core.ParticipantID { return s.localID }
func (s *Session) Roster() *Roster             { return s.roster }
func (s *Session) Media() *rtc.LocalMedia      { return s.media }

// SignalingErrors surfaces an unrecoverable transport failure. The
// session cannot self-heal from it; tear down and rejoin.
func (s *Session) SignalingErrors() <-chan error { return s.fatalErrs }

// Kicked fires once when a privileged participant forced us out.
func (s *Session) Kicked() <-chan struct{} { return s.kicked }

func (s *Session) identity() rpc.IdentityParams {
	return rpc.IdentityParams{
		ID:      s.localID,
		Name:    s.localName,
		IsAdmin: s.isAdmin,
	}
}

func (s *Session) presence() rpc.PresenceParams {
	return rpc.PresenceParams{
		IdentityParams: s.identity(),
		IsMuted:        s.media.Muted(),
		IsVideoOff:     s.media.VideoOff(),
	}
}

func (s *Session) publish(r rpc.Rpc) error {
	telemetry.SignalingMessageCounter.WithLabelValues(string(r.GetMethod()), "out").Add(1)
	return s.bus.Publish(s.room, s.localID, r)
}

func (s *Session) presenceLoop() {
	ticker := time.NewTicker(s.cfg.Signaling.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.alive.Load() {
				return
			}
			if err := s.publish(rpc.NewParticipantInfoRpc(s.presence())); err != nil {
				log.Error().Err(err).Str("service", "session").Msg("presence rebroadcast")
			}
		case <-s.presenceStop:
			return
		}
	}
}

// UpdateMediaState changes the local flags and rebroadcasts them so
// every roster in the room converges.
func (s *Session) UpdateMediaState(isMuted, isVideoOff bool) error {
	s.media.SetMuted(isMuted)
	s.media.SetVideoOff(isVideoOff)

	return s.publish(rpc.NewParticipantInfoRpc(s.presence()))
}

// SendCommand publishes a control command. The privilege check is
// client-side and advisory only: nothing stops a peer from publishing a
// crafted command straight to the channel. Known trust gap.
func (s *Session) SendCommand(target core.ParticipantID, action rpc.CommandAction) error {
	if !s.isAdmin {
		return ErrNotPrivileged
	}
	if !action.Valid() {
		return ErrInvalidCommand
	}

	return s.publish(rpc.NewCommandRpc(target, action))
}

func (s *Session) handleJoin(p rpc.IdentityParams) error {
	if !s.alive.Load() || p.ID == s.localID {
		return nil
	}
	// ids are never reused; anything from a departed id is a stale
	// redelivery and must leave no trace
	if s.isDeparted(p.ID) {
		return nil
	}

	telemetry.SignalingMessageCounter.WithLabelValues(string(rpc.JoinMethod), "in").Add(1)
	log.Debug().Str("service", "session").Str("ID", string(p.ID)).Str("name", p.Name).Msg("participant joined")

	s.roster.Upsert(p.ID, core.ParticipantPatch{
		Name:    core.String(p.Name),
		IsAdmin: core.Bool(p.IsAdmin),
	})

	// answer the announcement with our own identity; the joiner may have
	// missed everything before its join
	if err := s.publish(rpc.NewParticipantInfoRpc(s.presence())); err != nil {
		log.Error().Err(err).Str("service", "session").Msg("identity response")
	}

	return s.maybeNegotiate(p.ID)
}

func (s *Session) handleParticipantInfo(p rpc.PresenceParams) error {
	if !s.alive.Load() || p.ID == s.localID {
		return nil
	}
	if s.isDeparted(p.ID) {
		return nil
	}

	s.roster.Upsert(p.ID, core.ParticipantPatch{
		Name:       core.String(p.Name),
		IsAdmin:    core.Bool(p.IsAdmin),
		IsMuted:    core.Bool(p.IsMuted),
		IsVideoOff: core.Bool(p.IsVideoOff),
	})

	// presence refresh only, unless we have no negotiator yet: then this
	// is the late-joiner catch-up for a missed join
	return s.maybeNegotiate(p.ID)
}

// maybeNegotiate starts the pairwise negotiation toward remote if this
// side is the initiator and none is running yet. Calling it any number
// of times for the same id keeps a single negotiator.
func (s *Session) maybeNegotiate(remote core.ParticipantID) error {
	if !s.localID.Initiates(remote) {
		// the greater id offers; we wait for theirs
		return nil
	}

	s.lock.Lock()
	if _, ok := s.negotiators[remote]; ok {
		s.lock.Unlock()
		return nil
	}
	if _, gone := s.departed[remote]; gone {
		s.lock.Unlock()
		return nil
	}

	n, err := s.newNegotiator(remote)
	if err != nil {
		s.lock.Unlock()
		s.abandonPeer(remote, "create_negotiator", err)
		return nil
	}
	s.negotiators[remote] = n
	s.lock.Unlock()

	offer, err := n.CreateOffer()
	if err != nil {
		s.abandonPeer(remote, "create_offer", err)
		return nil
	}

	log.Debug().Str("service", "session").Str("ID", string(remote)).Msg("send offer")

	return s.publish(rpc.NewSDPOfferRpc(offer, remote, s.localID, s.localName, s.isAdmin))
}

func (s *Session) handleOffer(p rpc.SDPParams) error {
	if !s.alive.Load() || p.TargetID != s.localID {
		return nil
	}
	if s.isDeparted(p.SenderID) {
		return nil
	}

	log.Debug().Str("service", "session").Str("ID", string(p.SenderID)).Msg("handle offer")

	// the offer carries the sender's identity, no separate presence
	// message is needed to create the entry
	s.roster.Upsert(p.SenderID, core.ParticipantPatch{
		Name:    core.String(p.Name),
		IsAdmin: core.Bool(p.IsAdmin),
	})

	s.lock.Lock()
	n, ok := s.negotiators[p.SenderID]
	if !ok {
		var err error
		n, err = s.newNegotiator(p.SenderID)
		if err != nil {
			s.lock.Unlock()
			s.abandonPeer(p.SenderID, "create_negotiator", err)
			return nil
		}
		s.negotiators[p.SenderID] = n
	}
	s.lock.Unlock()

	answer, err := n.HandleOffer(p.SessionDescription)
	if err != nil {
		s.abandonPeer(p.SenderID, "create_answer", err)
		return nil
	}

	if err := s.publish(rpc.NewSDPAnswerRpc(answer, p.SenderID, s.localID)); err != nil {
		return err
	}

	s.flushCandidates(p.SenderID, n)

	return nil
}

func (s *Session) handleAnswer(p rpc.SDPParams) error {
	if !s.alive.Load() || p.TargetID != s.localID {
		return nil
	}

	s.lock.Lock()
	n, ok := s.negotiators[p.SenderID]
	s.lock.Unlock()
	if !ok {
		log.Debug().Str("service", "session").Str("ID", string(p.SenderID)).Msg("answer for unknown negotiation, drop")
		return nil
	}
	if n.HasRemoteDescription() {
		// redelivered answer; the first one already completed the exchange
		log.Debug().Str("service", "session").Str("ID", string(p.SenderID)).Msg("answer already applied, drop")
		return nil
	}

	if err := n.ApplyAnswer(p.SessionDescription); err != nil {
		s.abandonPeer(p.SenderID, "apply_answer", err)
		return nil
	}

	s.flushCandidates(p.SenderID, n)

	return nil
}

func (s *Session) handleICECandidate(p rpc.ICECandidateParams) error {
	if !s.alive.Load() || p.TargetID != s.localID {
		return nil
	}

	s.lock.Lock()
	_, gone := s.departed[p.SenderID]
	n, ok := s.negotiators[p.SenderID]
	s.lock.Unlock()

	if gone {
		return nil
	}

	if !ok || !n.HasRemoteDescription() {
		// too early to apply; kept until the remote description lands
		s.candidates.Put(p.SenderID, p.ICECandidateInit)
		return nil
	}

	return n.AddICECandidate(p.ICECandidateInit)
}

func (s *Session) handleLeave(p rpc.LeaveParams) error {
	if !s.alive.Load() || p.ID == s.localID {
		return nil
	}

	log.Debug().Str("service", "session").Str("ID", string(p.ID)).Msg("participant left")

	s.forgetPeer(p.ID)
	s.roster.Remove(p.ID)

	return nil
}

func (s *Session) handleCommand(p rpc.CommandParams) error {
	if !s.alive.Load() {
		return nil
	}
	// act only on commands addressed to us or to everyone
	if p.TargetID != s.localID && p.TargetID != core.AllParticipants {
		return nil
	}

	log.Debug().Str("service", "session").Str("action", string(p.Action)).Msg("apply control command")

	switch p.Action {
	case rpc.ActionMute:
		return s.UpdateMediaState(true, s.media.VideoOff())
	case rpc.ActionUnmute:
		return s.UpdateMediaState(false, s.media.VideoOff())
	case rpc.ActionStopVideo:
		return s.UpdateMediaState(s.media.Muted(), true)
	case rpc.ActionStartVideo:
		return s.UpdateMediaState(s.media.Muted(), false)
	case rpc.ActionKick:
		s.media.StopAll()
		// the channel redelivers; only the first kick ends the session
		s.kickOnce.Do(func() {
			close(s.kicked)
			go s.Close()
		})
		return nil
	default:
		return ErrInvalidCommand
	}
}

func (s *Session) newNegotiator(remote core.ParticipantID) (*rtc.Negotiator, error) {
	n, err := rtc.NewNegotiator(rtc.NegotiatorParams{
		RemoteID:      remote,
		EnabledCodecs: s.cfg.Peer.EnabledCodecs,
		Config:        s.rtcCfg,
	})
	if err != nil {
		return nil, err
	}

	if err := n.AttachLocalTracks(s.media); err != nil {
		n.Close()
		return nil, err
	}

	n.OnLocalCandidate(func(candidate webrtc.ICECandidateInit) {
		if !s.alive.Load() {
			return
		}

		err := s.publish(rpc.NewICECandidateRpc(rpc.ICECandidateParams{
			ICECandidateInit: candidate,
			TargetID:         remote,
			SenderID:         s.localID,
		}))
		if err != nil {
			log.Error().Err(err).Str("service", "session").Str("ID", string(remote)).Msg("send ICE candidate")
		}
	})

	n.OnStateChange(func(state webrtc.PeerConnectionState) {
		if !s.alive.Load() {
			return
		}

		log.Debug().Str("service", "session").Str("ID", string(remote)).Str("state", state.String()).Msg("connection state changed")

		if s.roster.Has(remote) {
			s.roster.Upsert(remote, core.ParticipantPatch{State: core.State(core.ConnStateOf(state))})
		}

		if state == webrtc.PeerConnectionStateConnected {
			telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "success", "").Add(1)
		} else if state == webrtc.PeerConnectionStateFailed {
			telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "error", "state_failed").Add(1)
		}
	})

	n.OnRemoteTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if !s.alive.Load() {
			return
		}

		log.Debug().Str("service", "session").Str("ID", string(remote)).Str("kind", track.Kind().String()).Msg("remote track")

		pump := rtc.StartRemoteTrack(rtc.RemoteTrackParams{
			Track:    track,
			RTCPSink: n.WriteRTCP,
		})

		s.lock.Lock()
		s.remoteTracks[remote] = append(s.remoteTracks[remote], pump)
		s.lock.Unlock()

		s.roster.Upsert(remote, core.ParticipantPatch{AddTrack: track})
	})

	return n, nil
}

func (s *Session) flushCandidates(remote core.ParticipantID, n *rtc.Negotiator) {
	for _, candidate := range s.candidates.Flush(remote) {
		if err := n.AddICECandidate(candidate); err != nil {
			log.Error().Err(err).Str("service", "session").Str("ID", string(remote)).Msg("apply buffered candidate")
		}
	}
}

// abandonPeer contains a pairwise failure: log it, mark the entry
// failed, release the negotiator. The rest of the session is untouched
// and there is no retry; recovery comes from a later join or presence
// rebroadcast by the peer.
func (s *Session) abandonPeer(remote core.ParticipantID, operation string, err error) {
	log.Error().Err(err).Str("service", "session").Str("ID", string(remote)).Str("operation", operation).Msg("abandon peer negotiation")
	telemetry.ServiceOperationCounter.WithLabelValues("negotiation", "error", operation).Add(1)

	s.lock.Lock()
	n, ok := s.negotiators[remote]
	delete(s.negotiators, remote)
	s.lock.Unlock()

	if ok {
		n.Close()
	}
	s.candidates.Drop(remote)

	if s.roster.Has(remote) {
		s.roster.Upsert(remote, core.ParticipantPatch{State: core.State(core.ConnStateFailed)})
	}
}

func (s *Session) isDeparted(remote core.ParticipantID) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, gone := s.departed[remote]
	return gone
}

// forgetPeer releases everything held for remote: negotiator, track
// pumps, buffered candidates. Later candidates from the id are dropped,
// not buffered, because ids are never reused.
func (s *Session) forgetPeer(remote core.ParticipantID) {
	s.lock.Lock()
	n, ok := s.negotiators[remote]
	delete(s.negotiators, remote)
	pumps := s.remoteTracks[remote]
	delete(s.remoteTracks, remote)
	s.departed[remote] = struct{}{}
	s.lock.Unlock()

	if ok {
		n.Close()
	}
	for _, pump := range pumps {
		pump.Close()
	}
	s.candidates.Drop(remote)
}

// Close leaves the room: broadcast the departure, stop the gossip
// ticker, drop the subscription and close every mesh edge. Safe to call
// more than once.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.alive.Store(false)
		close(s.presenceStop)

		if pubErr := s.publish(rpc.NewLeaveRpc(s.localID)); pubErr != nil {
			log.Error().Err(pubErr).Str("service", "session").Msg("leave broadcast")
			err = pubErr
		}

		<-s.router.Stop()

		s.lock.Lock()
		negotiators := s.negotiators
		s.negotiators = make(map[core.ParticipantID]*rtc.Negotiator)
		pumps := s.remoteTracks
		s.remoteTracks = make(map[core.ParticipantID][]*rtc.RemoteTrack)
		s.lock.Unlock()

		for id, n := range negotiators {
			n.Close()
			s.candidates.Drop(id)
		}
		for _, peerPumps := range pumps {
			for _, pump := range peerPumps {
				pump.Close()
			}
		}
	})

	return err
}
