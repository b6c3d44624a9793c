package eventbus

import (
	"bytes"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/eventbus/rpc"
)

var (
	errConvertIceCandidate = errors.New("can't convert to ice candidate")
	errConvertSDP          = errors.New("can't convert to session description")
	errConvertJoin         = errors.New("can't convert to join")
	errConvertPresence     = errors.New("can't convert to participant info")
	errConvertLeave        = errors.New("can't convert to leave")
	errConvertCommand      = errors.New("can't convert to command")
)

// Router subscribes to one room channel and dispatches every inbound
// RPC to the registered callback. Unknown methods and messages missing
// their addressing fields are dropped; a callback error is logged and
// never stops the loop.
type Router struct {
	EventsSubscriber Subscriber
	subscription     *Subscription
	done             chan struct{}

	onJoin            func(rpc.IdentityParams) error
	onParticipantInfo func(rpc.PresenceParams) error
	onOffer           func(rpc.SDPParams) error
	onAnswer          func(rpc.SDPParams) error
	onAddICECandidate func(rpc.ICECandidateParams) error
	onLeave           func(rpc.LeaveParams) error
	onCommand         func(rpc.CommandParams) error
	onSignalingError  func(error)
}

func NewRouter(sub Subscriber, room string, self core.ParticipantID) (*Router, error) {
	router := &Router{
		EventsSubscriber: sub,
		done:             make(chan struct{}),
	}

	subscription, err := router.EventsSubscriber.Subscribe(room, self)
	if err != nil {
		return nil, err
	}
	router.subscription = subscription

	return router, nil
}

func (router *Router) Start() <-chan struct{} {
	log.Debug().Str("service", "router").Msg("start")

	ready := make(chan struct{})

	go func() {
		close(ready)

		for {
			select {
			case env, ok := <-router.subscription.Channel():
				if !ok {
					close(router.done)
					return
				}
				router.dispatch(env)
			case err := <-router.subscription.Errors():
				if router.onSignalingError != nil {
					router.onSignalingError(err)
				}
			}
		}
	}()

	return ready
}

func (router *Router) Stop() <-chan struct{} {
	if err := router.subscription.Close(); err != nil {
		log.Error().Err(err).Str("service", "router").Msg("close subscription")
	}
	return router.done
}

func (router *Router) dispatch(env Envelope) {
	r, err := rpc.RpcFromReader(bytes.NewReader(env.Rpc))
	if err != nil {
		log.Debug().Err(err).Str("service", "router").Msg("drop undecodable rpc")
		return
	}

	switch r.GetMethod() {
	case rpc.JoinMethod:
		msg, ok := r.(*rpc.JoinRpc)
		if !ok {
			log.Error().Err(errConvertJoin).Str("service", "router").Msg("")
			return
		}
		if msg.Params.ID == "" {
			return
		}

		if router.onJoin != nil {
			if err := router.onJoin(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error occured in onJoin")
			}
		}
	case rpc.ParticipantInfoMethod:
		msg, ok := r.(*rpc.ParticipantInfoRpc)
		if !ok {
			log.Error().Err(errConvertPresence).Str("service", "router").Msg("")
			return
		}
		if msg.Params.ID == "" {
			return
		}

		if router.onParticipantInfo != nil {
			if err := router.onParticipantInfo(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error occured in onParticipantInfo")
			}
		}
	case rpc.SDPOfferMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok {
			log.Error().Err(errConvertSDP).Str("service", "router").Msg("")
			return
		}
		if !msg.Params.Addressed() {
			return
		}

		if router.onOffer != nil {
			if err := router.onOffer(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error occured in onOffer")
			}
		}
	case rpc.SDPAnswerMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok {
			log.Error().Err(errConvertSDP).Str("service", "router").Msg("")
			return
		}
		if !msg.Params.Addressed() {
			return
		}

		if router.onAnswer != nil {
			if err := router.onAnswer(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error occured in onAnswer")
			}
		}
	case rpc.ICECandidateMethod:
		msg, ok := r.(*rpc.ICECandidateRpc)
		if !ok {
			log.Error().Err(errConvertIceCandidate).Str("service", "router").Msg("")
			return
		}
		if !msg.Params.Addressed() {
			return
		}

		if router.onAddICECandidate != nil {
			if err := router.onAddICECandidate(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error add ice candidate")
			}
		}
	case rpc.LeaveMethod:
		msg, ok := r.(*rpc.LeaveRpc)
		if !ok {
			log.Error().Err(errConvertLeave).Str("service", "router").Msg("")
			return
		}
		if msg.Params.ID == "" {
			return
		}

		if router.onLeave != nil {
			if err := router.onLeave(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error occured in onLeave")
			}
		}
	case rpc.CommandMethod:
		msg, ok := r.(*rpc.CommandRpc)
		if !ok {
			log.Error().Err(errConvertCommand).Str("service", "router").Msg("")
			return
		}
		if msg.Params.TargetID == "" || !msg.Params.Action.Valid() {
			return
		}

		if router.onCommand != nil {
			if err := router.onCommand(msg.Params); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("error occured in onCommand")
			}
		}
	default:
		log.Error().Str("rpcMethod", string(r.GetMethod())).Str("service", "router").Msg("undefined method")
	}
}

func (router *Router) OnJoin(callback func(rpc.IdentityParams) error) {
	router.onJoin = callback
}

func (router *Router) OnParticipantInfo(callback func(rpc.PresenceParams) error) {
	router.onParticipantInfo = callback
}

func (router *Router) OnOffer(callback func(rpc.SDPParams) error) {
	router.onOffer = callback
}

func (router *Router) OnAnswer(callback func(rpc.SDPParams) error) {
	router.onAnswer = callback
}

func (router *Router) OnAddICECandidate(callback func(rpc.ICECandidateParams) error) {
	router.onAddICECandidate = callback
}

func (router *Router) OnLeave(callback func(rpc.LeaveParams) error) {
	router.onLeave = callback
}

func (router *Router) OnCommand(callback func(rpc.CommandParams) error) {
	router.onCommand = callback
}

func (router *Router) OnSignalingError(callback func(error)) {
	router.onSignalingError = callback
}
