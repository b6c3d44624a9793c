package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	conf := NewConfig()

	assert.Equal(t, DefaultStunServers, conf.RTC.StunServers)
	assert.Equal(t, "room", conf.Signaling.ChannelPrefix)
	assert.Equal(t, 5*time.Second, conf.Signaling.PresenceInterval)
	assert.NotEmpty(t, conf.Peer.EnabledCodecs)
}

func TestLoadConfigWithoutFileKeepsDefaults(t *testing.T) {
	conf, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultStunServers, conf.RTC.StunServers)
	assert.Equal(t, 5*time.Second, conf.Signaling.PresenceInterval)
}

func TestNewWebRTCConfig(t *testing.T) {
	conf := NewConfig()

	rtcConf, err := NewWebRTCConfig(conf)
	require.NoError(t, err)
	require.Len(t, rtcConf.Configuration.ICEServers, 1)
	assert.Equal(t, conf.RTC.StunServers, rtcConf.Configuration.ICEServers[0].URLs)
	assert.NotEmpty(t, rtcConf.Direction.RTCPFeedback.Video)

	conf.RTC.StunServers = nil
	rtcConf, err = NewWebRTCConfig(conf)
	require.NoError(t, err)
	assert.Empty(t, rtcConf.Configuration.ICEServers)
}
