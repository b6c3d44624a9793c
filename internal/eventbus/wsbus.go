package eventbus

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
)

var (
	errWsNotConnected     = errors.New("websocket bus is not connected, subscribe first")
	errWsAlreadyConnected = errors.New("websocket bus supports a single room subscription")
)

// WsBus rides a room channel through the signaling gateway over one
// websocket. Unlike the broker buses it is bound to a single room: the
// room is fixed when the connection is dialed.
type WsBus struct {
	gatewayURL string

	mu   sync.Mutex
	conn *websocket.Conn
	room string
}

func WsGateway(gatewayURL string) *WsBus {
	return &WsBus{gatewayURL: gatewayURL}
}

func (b *WsBus) Publish(room string, from core.ParticipantID, r rpc.Rpc) error {
	msg, err := marshalEnvelope(from, r)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.room != room {
		return errWsNotConnected
	}

	return b.conn.WriteMessage(websocket.TextMessage, msg)
}

func (b *WsBus) Subscribe(room string, self core.ParticipantID) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil, errWsAlreadyConnected
	}

	u, err := url.Parse(b.gatewayURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("room", room)
	q.Set("id", string(self))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	b.conn = conn
	b.room = room

	sub := NewSubscription(conn.Close)

	go func() {
		defer sub.Finish()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				// the session cannot self-heal from a dead gateway link
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					sub.Fail(err)
				}
				return
			}

			env := Envelope{}
			if err := json.Unmarshal(data, &env); err != nil {
				log.Debug().Err(err).Str("service", "eventbus").Msg("drop undecodable envelope")
				continue
			}
			if env.From == self {
				continue
			}

			sub.Deliver(env)
		}
	}()

	return sub, nil
}

func (b *WsBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}

	err := b.conn.Close()
	b.conn = nil

	return err
}
