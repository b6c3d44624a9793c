package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"
)

const (
	wsRoomSessionKey         = "room"
	wsClientIDSessionKey     = "client_id"
	wsSubscriptionSessionKey = "sub"
)

var errNoSubscription = errors.New("no subscription for the given session")

// relayEnvelope is the only shape the gateway lets through: a sender id
// and an opaque RPC. Anything else is dropped on the floor.
type relayEnvelope struct {
	From string          `json:"from"`
	Rpc  json.RawMessage `json:"rpc"`
}

type clientSub struct {
	clientID string
	room     string
	pubsub   *redis.PubSub
}

func channelName(prefix, room string) string {
	return prefix + ":" + room
}

func WsHandler(websocket *melody.Melody, rdb *redis.Client, prefix string, rooms RoomsDBStorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		clientID := r.URL.Query().Get("id")
		if room == "" || clientID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ctx := context.Background()
		pubsub := rdb.Subscribe(ctx, channelName(prefix, room))
		// Wait until subscription is created
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("can't subscribe to the room channel")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if rooms != nil {
			if err := rooms.Touch(room); err != nil {
				log.Error().Err(err).Str("service", "gateway").Str("room", room).Msg("touch room record")
			}
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsRoomSessionKey] = room
		sessKeys[wsClientIDSessionKey] = clientID
		sessKeys[wsSubscriptionSessionKey] = &clientSub{clientID: clientID, room: room, pubsub: pubsub}

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("can't handle request")
		}
	}
}

func ConnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		sub, err := subFromSession(session)
		if err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("extract subscription")
			session.Close()
			return
		}

		go func() {
			for msg := range sub.pubsub.Channel() {
				if err := session.Write([]byte(msg.Payload)); err != nil {
					// there's only session closed error can be
					log.Debug().Err(err).Str("service", "gateway").Str("clientID", sub.clientID).Msg("")
					return
				}
			}
		}()

		log.Info().Str("service", "gateway").Str("room", sub.room).Str("clientID", sub.clientID).Msg("client connected")
	}
}

func MessageHandler(rdb *redis.Client, prefix string) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		sub, err := subFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("extract subscription")
			s.Close()
			return
		}

		env := relayEnvelope{}
		if err := json.Unmarshal(msg, &env); err != nil {
			log.Debug().Err(err).Str("service", "gateway").Msg("drop non-envelope frame")
			return
		}
		// a client only speaks for itself
		if env.From != sub.clientID {
			log.Debug().Str("service", "gateway").Str("clientID", sub.clientID).Str("from", env.From).Msg("drop spoofed envelope")
			return
		}

		if err := rdb.Publish(context.Background(), channelName(prefix, sub.room), msg).Err(); err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("relay to room channel")
		}
	}
}

func DisconnectHandler(rooms RoomsDBStorer) func(session *melody.Session) {
	return func(session *melody.Session) {
		sub, err := subFromSession(session)
		if err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("extract subscription")
			return
		}

		if err := sub.pubsub.Close(); err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("close subscription")
		}

		if rooms != nil {
			if err := rooms.Leave(sub.room); err != nil {
				log.Error().Err(err).Str("service", "gateway").Str("room", sub.room).Msg("update room record")
			}
		}

		log.Info().Str("service", "gateway").Str("room", sub.room).Str("clientID", sub.clientID).Msg("client disconnected")
	}
}

func RoomsHandler(rooms RoomsDBStorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rooms == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var page, perPage int
		if pageParam := r.URL.Query().Get("p"); pageParam != "" {
			page, _ = strconv.Atoi(pageParam)
		}
		if perPageParam := r.URL.Query().Get("limit"); perPageParam != "" {
			perPage, _ = strconv.Atoi(perPageParam)
		}

		active, err := rooms.GetAll(page, perPage)
		if err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("list rooms")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(active); err != nil {
			log.Error().Err(err).Str("service", "gateway").Msg("encode rooms")
		}
	}
}

func subFromSession(s *melody.Session) (*clientSub, error) {
	v, ok := s.Keys[wsSubscriptionSessionKey]
	if !ok {
		return nil, errNoSubscription
	}
	sub, ok := v.(*clientSub)
	if !ok {
		return nil, errNoSubscription
	}
	return sub, nil
}
