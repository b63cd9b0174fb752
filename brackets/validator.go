package brackets

import (
	"errors"
	"fmt"

	"github.com/bracketforge/tournament-engine/models"
)

var ErrInvalidBlueprint = errors.New("generated bracket failed structural validation")

// ValidateBlueprint checks the structural guarantees every generator must
// uphold before a blueprint leaves the package: every playable slot is
// explained by a participant, an earlier playable match, or a bye; rounds
// are consecutive starting at 1; no participant occupies two slots of one
// match; bye resolution left no match behind.
func ValidateBlueprint(bp *Blueprint, participants []*models.Participant) error {
	known := make(map[int]bool, len(participants))
	for _, p := range participants {
		known[p.ID] = true
	}

	playable := bp.Playable()
	if len(playable) == 0 {
		return fmt.Errorf("%w: no playable matches", ErrInvalidBlueprint)
	}

	roundsSeen := map[int]bool{}
	for _, m := range playable {
		if m.Round < 1 || m.Round > bp.TotalRounds {
			return fmt.Errorf("%w: match %d has round %d outside 1..%d", ErrInvalidBlueprint, m.Index, m.Round, bp.TotalRounds)
		}
		roundsSeen[m.Round] = true

		for slotNo, slot := range []SlotRef{m.Slot1, m.Slot2} {
			if err := validateSlot(bp, m, slot, known); err != nil {
				return fmt.Errorf("%w (match %d slot %d)", err, m.Index, slotNo+1)
			}
		}

		if m.Slot1.ParticipantID != nil && m.Slot2.ParticipantID != nil &&
			*m.Slot1.ParticipantID == *m.Slot2.ParticipantID {
			return fmt.Errorf("%w: match %d pairs participant %d with itself", ErrInvalidBlueprint, m.Index, *m.Slot1.ParticipantID)
		}

		switch {
		case m.Slot1.Bye && m.Slot2.Bye:
			return fmt.Errorf("%w: match %d survived bye resolution with two byes", ErrInvalidBlueprint, m.Index)
		case m.AutoWinnerSlot != 0 && m.AutoWinnerParticipant() == nil:
			return fmt.Errorf("%w: match %d auto-resolves without a participant", ErrInvalidBlueprint, m.Index)
		case m.AutoWinnerSlot == 0 && (m.Slot1.Bye || m.Slot2.Bye):
			// A lingering bye slot is only legal while the other slot is
			// still fed by an unsettled match.
			other := m.Slot2
			if m.Slot2.Bye {
				other = m.Slot1
			}
			if other.SourceIndex == nil {
				return fmt.Errorf("%w: match %d has an unresolvable bye slot", ErrInvalidBlueprint, m.Index)
			}
		}
	}

	for r := 1; r <= bp.TotalRounds; r++ {
		if !roundsSeen[r] {
			return fmt.Errorf("%w: round %d is empty", ErrInvalidBlueprint, r)
		}
	}
	return nil
}

func validateSlot(bp *Blueprint, m *BracketMatch, slot SlotRef, known map[int]bool) error {
	set := 0
	if slot.ParticipantID != nil {
		set++
		if !known[*slot.ParticipantID] {
			return fmt.Errorf("%w: unknown participant %d", ErrInvalidBlueprint, *slot.ParticipantID)
		}
	}
	if slot.SourceIndex != nil {
		set++
		idx := *slot.SourceIndex
		if idx < 0 || idx >= len(bp.Matches) {
			return fmt.Errorf("%w: source index %d out of range", ErrInvalidBlueprint, idx)
		}
		if idx >= m.Index {
			return fmt.Errorf("%w: source index %d does not precede the match", ErrInvalidBlueprint, idx)
		}
		src := bp.Matches[idx]
		if src.Skip {
			return fmt.Errorf("%w: slot fed by skipped match %d", ErrInvalidBlueprint, idx)
		}
		if src.Round >= m.Round {
			return fmt.Errorf("%w: source match %d (round %d) not in an earlier round", ErrInvalidBlueprint, idx, src.Round)
		}
	}
	if slot.Bye {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: slot has %d of participant/source/bye set", ErrInvalidBlueprint, set)
	}
	return nil
}
