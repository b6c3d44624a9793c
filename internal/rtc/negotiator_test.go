package rtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsmnv/meshlook/internal/config"
	"github.com/rsmnv/meshlook/internal/core"
)

func testNegotiator(t *testing.T, remote string) *Negotiator {
	t.Helper()

	conf := config.NewConfig()
	conf.RTC.StunServers = nil // keep the test off the network

	rtcConf, err := config.NewWebRTCConfig(conf)
	require.NoError(t, err)

	n, err := NewNegotiator(NegotiatorParams{
		RemoteID:      core.ParticipantID(remote),
		EnabledCodecs: conf.Peer.EnabledCodecs,
		Config:        rtcConf,
	})
	require.NoError(t, err)
	t.Cleanup(n.Close)

	require.NoError(t, n.AttachLocalTracks(NewLocalMedia(nil, nil)))

	return n
}

func TestNegotiatorOfferAnswerExchange(t *testing.T) {
	caller := testNegotiator(t, "callee")
	callee := testNegotiator(t, "caller")

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	answer, err := callee.HandleOffer(*offer)
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.True(t, callee.HasRemoteDescription())

	require.NoError(t, caller.ApplyAnswer(*answer))
	assert.True(t, caller.HasRemoteDescription())
}

func TestNegotiatorCandidateNeedsRemoteDescription(t *testing.T) {
	caller := testNegotiator(t, "callee")
	callee := testNegotiator(t, "caller")

	candidate := hostCandidate(1)

	err := callee.AddICECandidate(candidate)
	assert.ErrorIs(t, err, ErrNoRemoteDescription)

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	_, err = callee.HandleOffer(*offer)
	require.NoError(t, err)

	assert.NoError(t, callee.AddICECandidate(candidate))
}

func TestNegotiatorCloseIdempotent(t *testing.T) {
	n := testNegotiator(t, "peer")

	n.Close()
	n.Close()
}
