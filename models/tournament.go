package models

import "time"

// TournamentStatus represents the tournament lifecycle states, mirroring the ENUM in the DB.
type TournamentStatus string

const (
	StatusDraft            TournamentStatus = "draft"
	StatusRegistrationOpen TournamentStatus = "registration_open"
	StatusInProgress       TournamentStatus = "in_progress"
	StatusCompleted        TournamentStatus = "completed"
	StatusCancelled        TournamentStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s TournamentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type TournamentFormat string

const (
	FormatSingleElimination TournamentFormat = "single_elimination"
	FormatDoubleElimination TournamentFormat = "double_elimination"
	FormatRoundRobin        TournamentFormat = "round_robin"
)

func (f TournamentFormat) Valid() bool {
	switch f {
	case FormatSingleElimination, FormatDoubleElimination, FormatRoundRobin:
		return true
	}
	return false
}

// SeedingStrategy selects how seed numbers are assigned when the registry freezes.
type SeedingStrategy string

const (
	SeedingByRank         SeedingStrategy = "rank"
	SeedingByRegistration SeedingStrategy = "registration"
	SeedingRandom         SeedingStrategy = "random"
)

func (s SeedingStrategy) Valid() bool {
	switch s {
	case SeedingByRank, SeedingByRegistration, SeedingRandom:
		return true
	}
	return false
}

type Tournament struct {
	ID                  int              `json:"id" db:"id"`
	Name                string           `json:"name" db:"name"`
	Description         *string          `json:"description,omitempty" db:"description"`
	OrganizerID         int              `json:"organizer_id" db:"organizer_id"`
	Format              TournamentFormat `json:"format" db:"format"`
	SeedingStrategy     SeedingStrategy  `json:"seeding_strategy" db:"seeding_strategy"`
	AutoConfirm         bool             `json:"auto_confirm" db:"auto_confirm"`
	MinParticipants     int              `json:"min_participants" db:"min_participants"`
	MaxParticipants     int              `json:"max_participants" db:"max_participants"`
	Status              TournamentStatus `json:"status" db:"status"`
	RoundCursor         int              `json:"round_cursor" db:"round_cursor"`
	TotalRounds         int              `json:"total_rounds" db:"total_rounds"`
	WinnerParticipantID *int             `json:"winner_participant_id,omitempty" db:"winner_participant_id"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`

	// Optional linked entities, populated by services, not mapped directly.
	Participants []Participant        `json:"participants,omitempty" db:"-"`
	Matches      []Match              `json:"matches,omitempty" db:"-"`
	Standings    []TournamentStanding `json:"standings,omitempty" db:"-"`
}
