package rpc

import (
	"encoding/json"

	"github.com/rsmnv/meshlook/internal/core"
)

// IdentityParams announces who a participant is. Carried by join and,
// extended with media flags, by participant_info.
type IdentityParams struct {
	ID      core.ParticipantID `json:"id"`
	Name    string             `json:"name"`
	IsAdmin bool               `json:"is_admin"`
}

type JoinRpc struct {
	jsonRpcHead
	Params IdentityParams `json:"params"`
}

func NewJoinRpc(params IdentityParams) *JoinRpc {
	return &JoinRpc{
		jsonRpcHead: head(JoinMethod),
		Params:      params,
	}
}

func (r JoinRpc) GetMethod() Method {
	return r.Method
}

func (r JoinRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
