package room

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsmnv/meshlook/internal/config"
	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
	"github.com/rsmnv/meshlook/internal/rtc"
)

// mockBus records everything published and hands out a controllable
// subscription, so tests drive the protocol without a broker.
type mockBus struct {
	mu        sync.Mutex
	published [][]byte
	sub       *eventbus.Subscription
}

func newMockBus() *mockBus {
	b := &mockBus{}
	b.sub = eventbus.NewSubscription(func() error {
		b.sub.Finish()
		return nil
	})
	return b
}

func (b *mockBus) Publish(room string, from core.ParticipantID, r rpc.Rpc) error {
	raw, err := r.ToJSON()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, raw)

	return nil
}

func (b *mockBus) Subscribe(room string, self core.ParticipantID) (*eventbus.Subscription, error) {
	return b.sub, nil
}

func (b *mockBus) Close() error { return nil }

func (b *mockBus) countOf(t *testing.T, method rpc.Method) int {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, raw := range b.published {
		r, err := rpc.RpcFromReader(bytes.NewReader(raw))
		require.NoError(t, err)
		if r.GetMethod() == method {
			count++
		}
	}
	return count
}

func (b *mockBus) lastOf(t *testing.T, method rpc.Method) rpc.Rpc {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.published) - 1; i >= 0; i-- {
		r, err := rpc.RpcFromReader(bytes.NewReader(b.published[i]))
		require.NoError(t, err)
		if r.GetMethod() == method {
			return r
		}
	}

	t.Fatalf("no published %q rpc", method)
	return nil
}

func newTestSession(t *testing.T, bus eventbus.Bus, name string, isAdmin bool) *Session {
	t.Helper()

	conf := config.NewConfig()
	conf.RTC.StunServers = nil // keep the tests off the network

	s, err := NewSession(SessionParams{
		Room:        "main",
		DisplayName: name,
		IsAdmin:     isAdmin,
		Bus:         bus,
		Config:      conf,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func remoteCandidate(target, sender core.ParticipantID, n int) rpc.ICECandidateParams {
	return rpc.ICECandidateParams{
		ICECandidateInit: webrtc.ICECandidateInit{
			Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.%d 54321 typ host", n, n),
		},
		TargetID: target,
		SenderID: sender,
	}
}

func (s *Session) negotiatorCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.negotiators)
}

func TestSessionStartAnnouncesJoin(t *testing.T) {
	bus := newMockBus()
	newTestSession(t, bus, "ann", false)

	assert.Equal(t, 1, bus.countOf(t, rpc.JoinMethod))
}

func TestSessionNegotiationStartIsIdempotent(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	// lexicographically below any uuid, so the local side initiates
	remote := core.ParticipantID("0-peer")
	join := rpc.IdentityParams{ID: remote, Name: "bob"}

	require.NoError(t, s.handleJoin(join))
	// the same peer seen again through a presence refresh and a
	// redelivered join must not spawn a second negotiation
	require.NoError(t, s.handleParticipantInfo(rpc.PresenceParams{IdentityParams: join}))
	require.NoError(t, s.handleJoin(join))

	assert.Equal(t, 1, s.negotiatorCount())
	assert.Equal(t, 1, bus.countOf(t, rpc.SDPOfferMethod))

	p, ok := s.roster.Get(remote)
	require.True(t, ok)
	assert.Equal(t, "bob", p.Name)
}

func TestSessionWaitsWhenPeerInitiates(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	// above any uuid, so the peer is the initiator
	remote := core.ParticipantID("zz-peer")
	require.NoError(t, s.handleJoin(rpc.IdentityParams{ID: remote, Name: "bob"}))

	assert.Zero(t, s.negotiatorCount())
	assert.Zero(t, bus.countOf(t, rpc.SDPOfferMethod))
	assert.True(t, s.roster.Has(remote))
	// the join is still answered with our identity
	assert.Equal(t, 1, bus.countOf(t, rpc.ParticipantInfoMethod))
}

func TestSessionAnswersOfferAndFlushesEarlyCandidates(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	remote := core.ParticipantID("zz-peer")

	// candidate outruns the offer on the unordered channel
	require.NoError(t, s.handleICECandidate(remoteCandidate(s.localID, remote, 1)))
	assert.Equal(t, 1, s.candidates.Len(remote))

	offer := offerFrom(t, s)
	require.NoError(t, s.handleOffer(rpc.SDPParams{
		SessionDescription: offer,
		TargetID:           s.localID,
		SenderID:           remote,
		Name:               "bob",
	}))

	assert.Equal(t, 1, bus.countOf(t, rpc.SDPAnswerMethod))
	answer := bus.lastOf(t, rpc.SDPAnswerMethod).(*rpc.SDPRpc)
	assert.Equal(t, remote, answer.Params.TargetID)
	assert.Equal(t, s.localID, answer.Params.SenderID)

	assert.Equal(t, 1, s.negotiatorCount())
	assert.Zero(t, s.candidates.Len(remote), "buffered candidate must be applied with the remote description")

	p, ok := s.roster.Get(remote)
	require.True(t, ok)
	assert.Equal(t, "bob", p.Name, "offer identity must create the roster entry")
}

// peerFor builds a standalone negotiator compatible with s's media
// engine, standing in for a remote client.
func peerFor(t *testing.T, s *Session) *rtc.Negotiator {
	t.Helper()

	peer, err := rtc.NewNegotiator(rtc.NegotiatorParams{
		RemoteID:      s.localID,
		EnabledCodecs: s.cfg.Peer.EnabledCodecs,
		Config:        s.rtcCfg,
	})
	require.NoError(t, err)
	t.Cleanup(peer.Close)
	require.NoError(t, peer.AttachLocalTracks(rtc.NewLocalMedia(nil, nil)))

	return peer
}

func offerFrom(t *testing.T, s *Session) webrtc.SessionDescription {
	t.Helper()

	offer, err := peerFor(t, s).CreateOffer()
	require.NoError(t, err)

	return *offer
}

func TestSessionDropsAnswerForUnknownNegotiation(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	err := s.handleAnswer(rpc.SDPParams{
		SessionDescription: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"},
		TargetID:           s.localID,
		SenderID:           "zz-peer",
	})

	assert.NoError(t, err)
	assert.Zero(t, s.negotiatorCount())
}

func TestSessionDropsRedeliveredAnswer(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	remote := core.ParticipantID("0-peer")
	require.NoError(t, s.handleJoin(rpc.IdentityParams{ID: remote, Name: "bob"}))
	require.Equal(t, 1, bus.countOf(t, rpc.SDPOfferMethod))

	offer := bus.lastOf(t, rpc.SDPOfferMethod).(*rpc.SDPRpc)
	answer, err := peerFor(t, s).HandleOffer(offer.Params.SessionDescription)
	require.NoError(t, err)

	ans := rpc.SDPParams{
		SessionDescription: *answer,
		TargetID:           s.localID,
		SenderID:           remote,
	}
	require.NoError(t, s.handleAnswer(ans))
	require.Equal(t, 1, s.negotiatorCount())

	// the same answer redelivered must not tear down the established
	// negotiation
	require.NoError(t, s.handleAnswer(ans))

	assert.Equal(t, 1, s.negotiatorCount())
	p, ok := s.roster.Get(remote)
	require.True(t, ok)
	assert.NotEqual(t, core.ConnStateFailed, p.State)
}

func TestSessionLeaveReleasesPeer(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	remote := core.ParticipantID("0-peer")
	require.NoError(t, s.handleJoin(rpc.IdentityParams{ID: remote, Name: "bob"}))
	require.Equal(t, 1, s.negotiatorCount())

	require.NoError(t, s.handleLeave(rpc.LeaveParams{ID: remote}))

	assert.False(t, s.roster.Has(remote))
	assert.Zero(t, s.negotiatorCount())

	// a candidate straggling in after the leave is dropped, not buffered:
	// the id is gone for good
	require.NoError(t, s.handleICECandidate(remoteCandidate(s.localID, remote, 2)))
	assert.Zero(t, s.candidates.Len(remote))

	// and a redelivered join for the departed id never renegotiates
	require.NoError(t, s.handleJoin(rpc.IdentityParams{ID: remote, Name: "bob"}))
	assert.Zero(t, s.negotiatorCount())
}

func TestSessionDepartedIDNeverReenters(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	remote := core.ParticipantID("0-peer")
	join := rpc.IdentityParams{ID: remote, Name: "bob"}
	require.NoError(t, s.handleJoin(join))
	require.NoError(t, s.handleLeave(rpc.LeaveParams{ID: remote}))
	require.False(t, s.roster.Has(remote))

	// stale redeliveries of every event kind that can create a roster
	// entry must leave no trace after the leave
	require.NoError(t, s.handleJoin(join))
	require.NoError(t, s.handleParticipantInfo(rpc.PresenceParams{IdentityParams: join}))
	require.NoError(t, s.handleOffer(rpc.SDPParams{
		SessionDescription: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
		TargetID:           s.localID,
		SenderID:           remote,
		Name:               "bob",
	}))

	assert.False(t, s.roster.Has(remote))
	assert.Zero(t, s.negotiatorCount())
	assert.Zero(t, bus.countOf(t, rpc.SDPAnswerMethod))
}

func TestSessionIgnoresTrafficForOthers(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	other := core.ParticipantID("someone-else")
	require.NoError(t, s.handleICECandidate(remoteCandidate(other, "zz-peer", 1)))
	require.NoError(t, s.handleOffer(rpc.SDPParams{
		SessionDescription: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
		TargetID:           other,
		SenderID:           "zz-peer",
	}))

	assert.Zero(t, s.negotiatorCount())
	assert.Zero(t, s.candidates.Len("zz-peer"))
	assert.Zero(t, bus.countOf(t, rpc.SDPAnswerMethod))
}

func TestSessionIgnoresOwnEcho(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	// a transport without self-suppression may echo our own messages back
	require.NoError(t, s.handleJoin(rpc.IdentityParams{ID: s.localID, Name: "ann"}))
	require.NoError(t, s.handleParticipantInfo(rpc.PresenceParams{
		IdentityParams: rpc.IdentityParams{ID: s.localID, Name: "ann"},
	}))
	require.NoError(t, s.handleLeave(rpc.LeaveParams{ID: s.localID}))

	assert.Zero(t, s.roster.Len(), "own identity never lands in the roster")
	assert.Zero(t, s.negotiatorCount())
}

func TestSessionCommandTargeting(t *testing.T) {
	a := newTestSession(t, newMockBus(), "admin", true)
	b := newTestSession(t, newMockBus(), "bob", false)
	c := newTestSession(t, newMockBus(), "carol", false)

	cmd := rpc.CommandParams{TargetID: b.localID, Action: rpc.ActionMute}
	for _, s := range []*Session{a, b, c} {
		require.NoError(t, s.handleCommand(cmd))
	}

	assert.False(t, a.media.Muted())
	assert.True(t, b.media.Muted())
	assert.False(t, c.media.Muted())

	broadcast := rpc.CommandParams{TargetID: core.AllParticipants, Action: rpc.ActionStopVideo}
	for _, s := range []*Session{a, b, c} {
		require.NoError(t, s.handleCommand(broadcast))
	}

	assert.True(t, a.media.VideoOff())
	assert.True(t, b.media.VideoOff())
	assert.True(t, c.media.VideoOff())
}

func TestSessionMediaStateRoundTrip(t *testing.T) {
	busA := newMockBus()
	a := newTestSession(t, busA, "ann", false)
	b := newTestSession(t, newMockBus(), "bob", false)

	require.NoError(t, a.UpdateMediaState(true, false))

	// replay a's published presence into b, as the relay would
	info := busA.lastOf(t, rpc.ParticipantInfoMethod).(*rpc.ParticipantInfoRpc)
	require.NoError(t, b.handleParticipantInfo(info.Params))

	p, ok := b.roster.Get(a.localID)
	require.True(t, ok)
	assert.True(t, p.IsMuted)
	assert.False(t, p.IsVideoOff)
	assert.Equal(t, "ann", p.Name)
}

func TestSessionSendCommandPrivilege(t *testing.T) {
	busAdmin := newMockBus()
	admin := newTestSession(t, busAdmin, "admin", true)
	busGuest := newMockBus()
	guest := newTestSession(t, busGuest, "guest", false)

	err := guest.SendCommand("anyone", rpc.ActionMute)
	assert.ErrorIs(t, err, ErrNotPrivileged)
	assert.Zero(t, busGuest.countOf(t, rpc.CommandMethod))

	err = admin.SendCommand("anyone", rpc.CommandAction("EXPLODE"))
	assert.ErrorIs(t, err, ErrInvalidCommand)

	require.NoError(t, admin.SendCommand("anyone", rpc.ActionKick))
	assert.Equal(t, 1, busAdmin.countOf(t, rpc.CommandMethod))
}

func TestSessionKickStopsMediaAndLeaves(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "bob", false)

	require.NoError(t, s.handleCommand(rpc.CommandParams{TargetID: s.localID, Action: rpc.ActionKick}))

	select {
	case <-s.Kicked():
	default:
		t.Fatal("kick must be observable")
	}
	assert.True(t, s.media.Stopped())

	// Close is already running; joining it must be safe and the
	// departure must have been broadcast by the time it returns
	require.NoError(t, s.Close())
	assert.Equal(t, 1, bus.countOf(t, rpc.LeaveMethod))
}

func TestSessionDuplicateKickIsHarmless(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "bob", false)

	kick := rpc.CommandParams{TargetID: s.localID, Action: rpc.ActionKick}
	require.NoError(t, s.handleCommand(kick))
	// the channel is at-least-once; the same kick arriving again must
	// not panic on the already-closed notification channel
	require.NoError(t, s.handleCommand(kick))

	<-s.Kicked()
	assert.True(t, s.media.Stopped())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, bus.countOf(t, rpc.LeaveMethod))
}

func TestSessionCloseSilencesHandlers(t *testing.T) {
	bus := newMockBus()
	s := newTestSession(t, bus, "ann", false)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, bus.countOf(t, rpc.LeaveMethod))

	require.NoError(t, s.handleJoin(rpc.IdentityParams{ID: "0-peer", Name: "late"}))
	assert.Zero(t, s.roster.Len())
	assert.Zero(t, s.negotiatorCount())
}
