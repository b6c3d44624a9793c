package eventbus

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
)

// NatsBus carries room channels over NATS subjects. NoEcho takes care
// of self-delivery suppression at the connection level.
type NatsBus struct {
	nc     *nats.Conn
	prefix string

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NatsPubSub(natsAddr, subjectPrefix string) (*NatsBus, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho())
	if err != nil {
		return nil, err
	}

	b := &NatsBus{
		nc:     nc,
		prefix: strings.TrimSuffix(subjectPrefix, "."),
		subs:   make(map[*Subscription]struct{}),
	}

	// one handler for the whole connection; losing it kills every room
	// subscription riding on it
	nc.SetClosedHandler(func(*nats.Conn) {
		b.failAll(nats.ErrConnectionClosed)
	})

	return b, nil
}

func (b *NatsBus) failAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.Fail(err)
	}
}

func (b *NatsBus) subject(room string) string {
	return b.prefix + "." + room
}

func (b *NatsBus) Publish(room string, from core.ParticipantID, r rpc.Rpc) error {
	msg, err := marshalEnvelope(from, r)
	if err != nil {
		return err
	}

	return b.nc.Publish(b.subject(room), msg)
}

func (b *NatsBus) Subscribe(room string, self core.ParticipantID) (*Subscription, error) {
	msgs := make(chan *nats.Msg, 64)

	natsSub, err := b.nc.ChanSubscribe(b.subject(room), msgs)
	if err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = NewSubscription(func() error {
		err := natsSub.Unsubscribe()
		close(msgs)

		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()

		return err
	})

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer sub.Finish()

		for msg := range msgs {
			env := Envelope{}
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				log.Debug().Err(err).Str("service", "eventbus").Msg("drop undecodable envelope")
				continue
			}
			// NoEcho is per connection; a shared connection still needs this
			if env.From == self {
				continue
			}

			sub.Deliver(env)
		}
	}()

	return sub, nil
}

func (b *NatsBus) Close() error {
	return b.nc.Drain()
}
