package models

import "time"

// ResultKind is a tagged variant: consumers switch on it exhaustively
// instead of probing optional fields.
type ResultKind string

const (
	ResultWin      ResultKind = "win"
	ResultWalkover ResultKind = "walkover"
	ResultVoid     ResultKind = "void"
)

// MatchResult is an append-only audit record. Once confirmed it is never
// updated in place; organizer dispute overrides append a new row.
type MatchResult struct {
	ID          int        `json:"id" db:"id"`
	MatchID     int        `json:"match_id" db:"match_id"`
	Kind        ResultKind `json:"kind" db:"kind"`
	WinnerSlot  *int       `json:"winner_slot,omitempty" db:"winner_slot"`
	Score       *string    `json:"score,omitempty" db:"score"`
	ReportedBy  *int       `json:"reported_by,omitempty" db:"reported_by"`
	ReportedAt  time.Time  `json:"reported_at" db:"reported_at"`
	Confirmed   bool       `json:"confirmed" db:"confirmed"`
	ConfirmedBy *int       `json:"confirmed_by,omitempty" db:"confirmed_by"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	Reason      *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
