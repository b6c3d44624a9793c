package rpc

import (
	"encoding/json"
	"errors"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	JoinMethod            Method = "join"
	ParticipantInfoMethod Method = "participant_info"
	SDPOfferMethod        Method = "offer"
	SDPAnswerMethod       Method = "answer"
	ICECandidateMethod    Method = "ice_candidate"
	LeaveMethod           Method = "leave"
	CommandMethod         Method = "command"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// RpcFromReader decodes one wire message into its typed RPC. The set of
// methods is closed: anything else is rejected with ErrUnknownRpcType.
func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(rpc); err != nil {
		return nil, err
	}

	switch rpc.Method {
	case JoinMethod:
		p := IdentityParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewJoinRpc(p), nil
	case ParticipantInfoMethod:
		p := PresenceParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewParticipantInfoRpc(p), nil
	case SDPOfferMethod:
		p := SDPParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return &SDPRpc{jsonRpcHead: head(SDPOfferMethod), Params: p}, nil
	case SDPAnswerMethod:
		p := SDPParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return &SDPRpc{jsonRpcHead: head(SDPAnswerMethod), Params: p}, nil
	case ICECandidateMethod:
		p := ICECandidateParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewICECandidateRpc(p), nil
	case LeaveMethod:
		p := LeaveParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewLeaveRpc(p.ID), nil
	case CommandMethod:
		p := CommandParams{}
		if err := json.Unmarshal(rpc.Params, &p); err != nil {
			return nil, err
		}

		return NewCommandRpc(p.TargetID, p.Action), nil
	default:
		return nil, ErrUnknownRpcType
	}
}

func head(m Method) jsonRpcHead {
	return jsonRpcHead{Version: jsonRpcVersion, Method: m}
}
