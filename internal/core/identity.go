package core

import "github.com/google/uuid"

// ParticipantID is the room-wide addressing key of one participant.
// Every client mints its own on join; ids are never reused.
type ParticipantID string

// AllParticipants is the broadcast target sentinel for control commands.
const AllParticipants ParticipantID = "all"

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Initiates reports whether this side starts the pairwise negotiation
// with other. Plain string ordering, the strictly greater id offers.
// Exactly one side of any pair initiates, which rules out glare.
func (id ParticipantID) Initiates(other ParticipantID) bool {
	return string(id) > string(other)
}

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
