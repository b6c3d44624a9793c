package rpc

import (
	"encoding/json"

	"github.com/rsmnv/meshlook/internal/core"
)

type LeaveParams struct {
	ID core.ParticipantID `json:"id"`
}

type LeaveRpc struct {
	jsonRpcHead
	Params LeaveParams `json:"params"`
}

func NewLeaveRpc(id core.ParticipantID) *LeaveRpc {
	return &LeaveRpc{
		jsonRpcHead: head(LeaveMethod),
		Params:      LeaveParams{ID: id},
	}
}

func (r LeaveRpc) GetMethod() Method {
	return r.Method
}

func (r LeaveRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
