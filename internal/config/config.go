package config

import (
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	Peer      PeerConfig
	RTC       RTCConfig
	Signaling SignalingConfig
}

type RTCConfig struct {
	StunServers       []string
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
}

type SignalingConfig struct {
	// ChannelPrefix namespaces room channels on the shared broker.
	ChannelPrefix string
	// PresenceInterval is how often a client rebroadcasts its identity.
	// The rebroadcast is the sole liveness mechanism: clients that missed
	// the original join catch up from it.
	PresenceInterval time.Duration
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Direction     DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

func NewConfig() *Config {
	conf := &Config{
		RTC: RTCConfig{
			StunServers:       DefaultStunServers,
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Signaling: SignalingConfig{
			ChannelPrefix:    "room",
			PresenceInterval: 5 * time.Second,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
	}

	return conf
}

// LoadConfig reads an optional config file over the defaults. A missing
// file is not an error, the defaults stand.
func LoadConfig(path string) (*Config, error) {
	conf := NewConfig()

	viper.SetDefault("rtc.stun_servers", conf.RTC.StunServers)
	viper.SetDefault("rtc.ice_port_range_start", conf.RTC.ICEPortRangeStart)
	viper.SetDefault("rtc.ice_port_range_end", conf.RTC.ICEPortRangeEnd)
	viper.SetDefault("signaling.channel_prefix", conf.Signaling.ChannelPrefix)
	viper.SetDefault("signaling.presence_interval", conf.Signaling.PresenceInterval)

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	conf.RTC.StunServers = viper.GetStringSlice("rtc.stun_servers")
	conf.RTC.ICEPortRangeStart = viper.GetUint32("rtc.ice_port_range_start")
	conf.RTC.ICEPortRangeEnd = viper.GetUint32("rtc.ice_port_range_end")
	conf.Signaling.ChannelPrefix = viper.GetString("signaling.channel_prefix")
	conf.Signaling.PresenceInterval = viper.GetDuration("signaling.presence_interval")

	return conf, nil
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	if len(config.RTC.StunServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{
			{URLs: config.RTC.StunServers},
		}
	}

	s := webrtc.SettingEngine{}

	networkTypes := make([]webrtc.NetworkType, 0, 4)
	// Use only UDP
	networkTypes = append(networkTypes,
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	)
	if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
		return nil, err
	}
	s.SetNetworkTypes(networkTypes)

	direction := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Audio: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.AudioLevelURI,
			},
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		Direction:     direction,
	}, nil
}
