package rpc

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"github.com/rsmnv/meshlook/internal/core"
)

// SDPParams addresses one session description to one recipient. Offers
// also carry the sender's identity so the receiver can create the
// participant entry without waiting for a separate presence message.
type SDPParams struct {
	webrtc.SessionDescription
	TargetID core.ParticipantID `json:"target_id"`
	SenderID core.ParticipantID `json:"sender_id"`
	Name     string             `json:"name,omitempty"`
	IsAdmin  bool               `json:"is_admin,omitempty"`
}

// Addressed reports whether both routing ids are present.
func (p SDPParams) Addressed() bool {
	return p.TargetID != "" && p.SenderID != ""
}

type SDPRpc struct {
	jsonRpcHead
	Params SDPParams `json:"params"`
}

func NewSDPOfferRpc(sdp *webrtc.SessionDescription, target, sender core.ParticipantID, name string, isAdmin bool) *SDPRpc {
	return &SDPRpc{
		jsonRpcHead: head(SDPOfferMethod),
		Params: SDPParams{
			SessionDescription: *sdp,
			TargetID:           target,
			SenderID:           sender,
			Name:               name,
			IsAdmin:            isAdmin,
		},
	}
}

func NewSDPAnswerRpc(sdp *webrtc.SessionDescription, target, sender core.ParticipantID) *SDPRpc {
	return &SDPRpc{
		jsonRpcHead: head(SDPAnswerMethod),
		Params: SDPParams{
			SessionDescription: *sdp,
			TargetID:           target,
			SenderID:           sender,
		},
	}
}

func (r SDPRpc) GetMethod() Method {
	return r.Method
}

func (r SDPRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
