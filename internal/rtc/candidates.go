package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/rsmnv/meshlook/internal/core"
)

// CandidateBuffer queues remote candidates that arrived before the
// corresponding negotiator had a remote description. One ordered queue
// per sender; flushed exactly once, then the entry is gone.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending map[core.ParticipantID][]webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{
		pending: make(map[core.ParticipantID][]webrtc.ICECandidateInit),
	}
}

func (b *CandidateBuffer) Put(id core.ParticipantID, candidate webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[id] = append(b.pending[id], candidate)
}

// Flush returns the queued candidates for id in arrival order and
// clears the entry.
func (b *CandidateBuffer) Flush(id core.ParticipantID) []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.pending[id]
	delete(b.pending, id)

	return candidates
}

func (b *CandidateBuffer) Drop(id core.ParticipantID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, id)
}

func (b *CandidateBuffer) Len(id core.ParticipantID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending[id])
}
