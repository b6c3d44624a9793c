package eventbus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
)

// RedisBus carries room channels over redis pub/sub.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
}

func RedisPubSub(rdb *redis.Client, channelPrefix string) *RedisBus {
	return &RedisBus{
		rdb:    rdb,
		prefix: strings.TrimSuffix(channelPrefix, ":"),
	}
}

func (b *RedisBus) channel(room string) string {
	return b.prefix + ":" + room
}

func (b *RedisBus) Publish(room string, from core.ParticipantID, r rpc.Rpc) error {
	msg, err := marshalEnvelope(from, r)
	if err != nil {
		return err
	}

	return b.rdb.Publish(context.Background(), b.channel(room), msg).Err()
}

func (b *RedisBus) Subscribe(room string, self core.ParticipantID) (*Subscription, error) {
	ctx := context.Background()

	pubsub := b.rdb.Subscribe(ctx, b.channel(room))
	// Wait until subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	sub := NewSubscription(pubsub.Close)

	go func() {
		defer sub.Finish()

		for msg := range pubsub.Channel() {
			env := Envelope{}
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Debug().Err(err).Str("service", "eventbus").Msg("drop undecodable envelope")
				continue
			}
			// redis does not suppress self-delivery
			if env.From == self {
				continue
			}

			sub.Deliver(env)
		}
	}()

	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
