package models

import "time"

type MatchStatus string

const (
	MatchPendingSlots         MatchStatus = "pending_slots"
	MatchScheduled            MatchStatus = "scheduled"
	MatchAwaitingConfirmation MatchStatus = "awaiting_confirmation"
	MatchConfirmed            MatchStatus = "confirmed"
	MatchVoided               MatchStatus = "voided"
)

// IsTerminal reports whether the match can never change state again.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchConfirmed || s == MatchVoided
}

type BracketSide string

const (
	SideWinners    BracketSide = "winners"
	SideLosers     BracketSide = "losers"
	SideGrandFinal BracketSide = "grand_final"
)

// Match is one node of the bracket arena. Slots hold participant IDs once
// resolved; a slot whose bye flag is set never receives a participant.
// Forward routing uses row IDs (WinnerNextMatchID et al.), never pointers,
// and every mutation goes through a versioned repository update.
type Match struct {
	ID                  int         `json:"id" db:"id"`
	TournamentID        int         `json:"tournament_id" db:"tournament_id"`
	Side                BracketSide `json:"side,omitempty" db:"side"`
	Round               int         `json:"round" db:"round"`
	OrderInRound        int         `json:"order_in_round" db:"order_in_round"`
	Slot1ParticipantID  *int        `json:"slot1_participant_id,omitempty" db:"slot1_participant_id"`
	Slot2ParticipantID  *int        `json:"slot2_participant_id,omitempty" db:"slot2_participant_id"`
	Slot1Bye            bool        `json:"slot1_bye" db:"slot1_bye"`
	Slot2Bye            bool        `json:"slot2_bye" db:"slot2_bye"`
	Status              MatchStatus `json:"status" db:"status"`
	Version             int         `json:"version" db:"version"`
	WinnerParticipantID *int        `json:"winner_participant_id,omitempty" db:"winner_participant_id"`
	Score               *string     `json:"score,omitempty" db:"score"`
	WinnerNextMatchID   *int        `json:"winner_next_match_id,omitempty" db:"winner_next_match_id"`
	WinnerNextSlot      *int        `json:"winner_next_slot,omitempty" db:"winner_next_slot"`
	LoserNextMatchID    *int        `json:"loser_next_match_id,omitempty" db:"loser_next_match_id"`
	LoserNextSlot       *int        `json:"loser_next_slot,omitempty" db:"loser_next_slot"`
	SessionRef          *string     `json:"session_ref,omitempty" db:"session_ref"`
	SessionBoundAt      *time.Time  `json:"session_bound_at,omitempty" db:"session_bound_at"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
}

// IsBye reports whether the match has at most one real entrant path and
// therefore resolves as a walkover instead of being played.
func (m *Match) IsBye() bool {
	return m.Slot1Bye || m.Slot2Bye
}

// SlotOf returns 1 or 2 when the participant occupies a slot, 0 otherwise.
func (m *Match) SlotOf(participantID int) int {
	if m.Slot1ParticipantID != nil && *m.Slot1ParticipantID == participantID {
		return 1
	}
	if m.Slot2ParticipantID != nil && *m.Slot2ParticipantID == participantID {
		return 2
	}
	return 0
}

// ParticipantInSlot returns the participant ID in the given slot, nil if unresolved.
func (m *Match) ParticipantInSlot(slot int) *int {
	switch slot {
	case 1:
		return m.Slot1ParticipantID
	case 2:
		return m.Slot2ParticipantID
	}
	return nil
}

// OpponentOf returns the other slot's participant, nil when it is unresolved or a bye.
func (m *Match) OpponentOf(participantID int) *int {
	switch m.SlotOf(participantID) {
	case 1:
		return m.Slot2ParticipantID
	case 2:
		return m.Slot1ParticipantID
	}
	return nil
}

// LoserParticipantID derives the loser from the recorded winner. Byes and
// walkovers have no loser.
func (m *Match) LoserParticipantID() *int {
	if m.WinnerParticipantID == nil || m.IsBye() {
		return nil
	}
	if m.Slot1ParticipantID == nil || m.Slot2ParticipantID == nil {
		return nil
	}
	if *m.WinnerParticipantID == *m.Slot1ParticipantID {
		return m.Slot2ParticipantID
	}
	if *m.WinnerParticipantID == *m.Slot2ParticipantID {
		return m.Slot1ParticipantID
	}
	return nil
}

// ParticipantIDs returns the resolved slot participants, slot 1 first.
func (m *Match) ParticipantIDs() []int {
	ids := make([]int, 0, 2)
	if m.Slot1ParticipantID != nil {
		ids = append(ids, *m.Slot1ParticipantID)
	}
	if m.Slot2ParticipantID != nil {
		ids = append(ids, *m.Slot2ParticipantID)
	}
	return ids
}
