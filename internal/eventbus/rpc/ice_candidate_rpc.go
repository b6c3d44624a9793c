package rpc

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/rsmnv/meshlook/internal/core"
)

type ICECandidateParams struct {
	webrtc.ICECandidateInit
	TargetID core.ParticipantID `json:"target_id"`
	SenderID core.ParticipantID `json:"sender_id"`
}

func (p ICECandidateParams) Addressed() bool {
	return p.TargetID != "" && p.SenderID != ""
}

// ICE candidate RPC
type ICECandidateRpc struct {
	jsonRpcHead
	Params ICECandidateParams `json:"params"`
}

func NewICECandidateRpc(params ICECandidateParams) *ICECandidateRpc {
	return &ICECandidateRpc{
		jsonRpcHead: head(ICECandidateMethod),
		Params:      params,
	}
}

func (r ICECandidateRpc) GetMethod() Method {
	return r.Method
}

func (r ICECandidateRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
