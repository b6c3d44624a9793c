package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// LocalMedia holds the optional local outgoing tracks plus the
// cooperative mute/video-off flags control commands act on. The flags
// are advisory: the sample producer consults them before writing, there
// is no server-side enforcement. Either track may be nil, a participant
// without media still negotiates.
type LocalMedia struct {
	mu       sync.Mutex
	audio    webrtc.TrackLocal
	video    webrtc.TrackLocal
	muted    bool
	videoOff bool
	stopped  bool
}

func NewLocalMedia(audio, video webrtc.TrackLocal) *LocalMedia {
	return &LocalMedia{
		audio: audio,
		video: video,
	}
}

func (m *LocalMedia) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == webrtc.RTPCodecTypeAudio {
		return m.audio
	}
	return m.video
}

func (m *LocalMedia) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.muted = muted
}

func (m *LocalMedia) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.muted
}

func (m *LocalMedia) SetVideoOff(off bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.videoOff = off
}

func (m *LocalMedia) VideoOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.videoOff
}

// StopAll drops both tracks for good. Used on forced removal; a stopped
// LocalMedia never produces again.
func (m *LocalMedia) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audio = nil
	m.video = nil
	m.muted = true
	m.videoOff = true
	m.stopped = true
}

func (m *LocalMedia) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopped
}
