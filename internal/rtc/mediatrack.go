package rtc

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

const rtcpPLIInterval = 3 * time.Second

// RemoteTrack drains one inbound track. Pion requires the RTP stream to
// be read or the receive buffers fill; the embedding layer consumes the
// packets through OnPacket, or they are counted and dropped.
type RemoteTrack struct {
	track *webrtc.TrackRemote

	rtcpSink func([]rtcp.Packet) error
	onPacket func(*rtp.Packet)

	packets uint64
	bytes   uint64

	stop chan struct{}
}

type RemoteTrackParams struct {
	Track *webrtc.TrackRemote
	// RTCPSink sends feedback to the sending peer; for video tracks a
	// PLI goes out on an interval so the sender keeps pushing keyframes.
	RTCPSink func([]rtcp.Packet) error
	OnPacket func(*rtp.Packet)
}

func StartRemoteTrack(params RemoteTrackParams) *RemoteTrack {
	t := &RemoteTrack{
		track:    params.Track,
		rtcpSink: params.RTCPSink,
		onPacket: params.OnPacket,
		stop:     make(chan struct{}),
	}

	if t.track.Kind() == webrtc.RTPCodecTypeVideo && t.rtcpSink != nil {
		go t.keyframeLoop()
	}
	go t.readLoop()

	return t
}

func (t *RemoteTrack) keyframeLoop() {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := t.rtcpSink([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())},
			})
			if err != nil {
				log.Debug().Err(err).Str("service", "mediatrack").Msg("stop PLI loop")
				return
			}
		case <-t.stop:
			return
		}
	}
}

func (t *RemoteTrack) readLoop() {
	for {
		packet, _, err := t.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("service", "mediatrack").Str("trackID", t.track.ID()).Msg("read RTP")
			}
			return
		}

		atomic.AddUint64(&t.packets, 1)
		atomic.AddUint64(&t.bytes, uint64(packet.MarshalSize()))

		if t.onPacket != nil {
			t.onPacket(packet)
		}
	}
}

// Stats returns packets and bytes received so far.
func (t *RemoteTrack) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&t.packets), atomic.LoadUint64(&t.bytes)
}

func (t *RemoteTrack) Close() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}
