package models

import "time"

// TournamentStanding is one row of the round-robin table, recomputed after
// every settled match.
type TournamentStanding struct {
	ID            int       `json:"id" db:"id"`
	TournamentID  int       `json:"tournament_id" db:"tournament_id"`
	ParticipantID int       `json:"participant_id" db:"participant_id"`
	GamesPlayed   int       `json:"games_played" db:"games_played"`
	Wins          int       `json:"wins" db:"wins"`
	Losses        int       `json:"losses" db:"losses"`
	Points        int       `json:"points" db:"points"`
	Rank          int       `json:"rank" db:"rank"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
