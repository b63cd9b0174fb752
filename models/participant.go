package models

import "time"

type ParticipantStatus string

const (
	ParticipantRegistered ParticipantStatus = "registered"
	ParticipantWithdrawn  ParticipantStatus = "withdrawn"
)

// Participant is a registration record. EntrantID references whoever enrolled
// (user, team) in the external roster; the engine never dereferences it.
// Seed is assigned when the registry freezes and is immutable afterwards.
type Participant struct {
	ID           int               `json:"id" db:"id"`
	TournamentID int               `json:"tournament_id" db:"tournament_id"`
	EntrantID    int               `json:"entrant_id" db:"entrant_id"`
	Seed         *int              `json:"seed,omitempty" db:"seed"`
	Status       ParticipantStatus `json:"status" db:"status"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}
