package rpc

import (
	"encoding/json"

	"github.com/rsmnv/meshlook/internal/core"
)

// CommandAction is a privileged control verb. MUTE/UNMUTE and
// STOP_VIDEO/START_VIDEO are cooperative: the target toggles its own
// outgoing tracks. KICK stops the target's media and ends its session.
type CommandAction string

const (
	ActionMute       CommandAction = "MUTE"
	ActionUnmute     CommandAction = "UNMUTE"
	ActionStopVideo  CommandAction = "STOP_VIDEO"
	ActionStartVideo CommandAction = "START_VIDEO"
	ActionKick       CommandAction = "KICK"
)

func (a CommandAction) Valid() bool {
	switch a {
	case ActionMute, ActionUnmute, ActionStopVideo, ActionStartVideo, ActionKick:
		return true
	}
	return false
}

type CommandParams struct {
	// TargetID is a participant id or core.AllParticipants.
	TargetID core.ParticipantID `json:"target_id"`
	Action   CommandAction      `json:"action"`
}

type CommandRpc struct {
	jsonRpcHead
	Params CommandParams `json:"params"`
}

func NewCommandRpc(target core.ParticipantID, action CommandAction) *CommandRpc {
	return &CommandRpc{
		jsonRpcHead: head(CommandMethod),
		Params: CommandParams{
			TargetID: target,
			Action:   action,
		},
	}
}

func (r CommandRpc) GetMethod() Method {
	return r.Method
}

func (r CommandRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
