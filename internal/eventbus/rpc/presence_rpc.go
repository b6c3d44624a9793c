package rpc

import "encoding/json"

// PresenceParams is the periodic identity/state refresh. It doubles as
// the late-joiner catch-up: a client that missed the join broadcast
// learns the sender from here.
type PresenceParams struct {
	IdentityParams
	IsMuted    bool `json:"is_muted"`
	IsVideoOff bool `json:"is_video_off"`
}

type ParticipantInfoRpc struct {
	jsonRpcHead
	Params PresenceParams `json:"params"`
}

func NewParticipantInfoRpc(params PresenceParams) *ParticipantInfoRpc {
	return &ParticipantInfoRpc{
		jsonRpcHead: head(ParticipantInfoMethod),
		Params:      params,
	}
}

func (r ParticipantInfoRpc) GetMethod() Method {
	return r.Method
}

func (r ParticipantInfoRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
