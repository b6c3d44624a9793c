package eventbus

import (
	"encoding/json"
	"sync"

	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
)

// Envelope is the unit carried on a room channel: who sent it and the
// raw RPC. The broker gives no ordering or delivery guarantee beyond
// best-effort at-least-once; the protocol is built to survive that.
type Envelope struct {
	From core.ParticipantID `json:"from"`
	Rpc  json.RawMessage    `json:"rpc"`
}

type Publisher interface {
	// Publish is fire-and-forget: a returned error means the local
	// broker call failed, never that a recipient missed the message.
	Publish(room string, from core.ParticipantID, r rpc.Rpc) error
}

type Subscriber interface {
	// Subscribe attaches to the room channel. Messages published by
	// self are suppressed before delivery.
	Subscribe(room string, self core.ParticipantID) (*Subscription, error)
}

// Bus is one room-scoped broadcast transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription is a live attachment to one room channel. The producer
// side (a Bus implementation) feeds it with Deliver and terminates it
// with Finish; Errors surfaces transport-fatal failures, after which
// the session cannot self-heal and must be torn down.
type Subscription struct {
	ch   chan Envelope
	errs chan error

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

func NewSubscription(closeFn func() error) *Subscription {
	return &Subscription{
		ch:      make(chan Envelope, 64),
		errs:    make(chan error, 1),
		closeFn: closeFn,
	}
}

func (s *Subscription) Channel() <-chan Envelope {
	return s.ch
}

func (s *Subscription) Errors() <-chan error {
	return s.errs
}

// Close stops the producer. The channel is closed by the producer once
// its source drains, never here, so in-flight Delivers stay safe.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

func (s *Subscription) Deliver(env Envelope) {
	s.ch <- env
}

func (s *Subscription) Fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Subscription) Finish() {
	close(s.ch)
}

func marshalEnvelope(from core.ParticipantID, r rpc.Rpc) ([]byte, error) {
	raw, err := r.ToJSON()
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{From: from, Rpc: raw})
}
