package brackets

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bracketforge/tournament-engine/models"
)

var (
	ErrInsufficientParticipants = errors.New("not enough participants to generate a bracket (minimum 2)")
	ErrUnsupportedFormat        = errors.New("unsupported tournament format")
)

// SlotRef describes where a blueprint slot gets its participant from.
// Exactly one of the three shapes is set: a concrete participant, a source
// match (winner or loser of another blueprint index), or a bye.
type SlotRef struct {
	ParticipantID *int
	SourceIndex   *int
	SourceLoser   bool
	Bye           bool
}

func (s SlotRef) resolved() bool { return s.ParticipantID != nil }

func participantSlot(id int) SlotRef { return SlotRef{ParticipantID: &id} }

func winnerOf(index int) SlotRef { return SlotRef{SourceIndex: &index} }

func loserOf(index int) SlotRef { return SlotRef{SourceIndex: &index, SourceLoser: true} }

func byeSlot() SlotRef { return SlotRef{Bye: true} }

// BracketMatch is one arena node of a generated blueprint. Matches are
// addressed by Index; slots reference feeding matches by index, never by
// pointer, so the structure can be persisted as-is.
type BracketMatch struct {
	Index        int
	Side         models.BracketSide
	Round        int
	OrderInRound int
	Slot1        SlotRef
	Slot2        SlotRef

	// AutoWinnerSlot is 1 or 2 when the match resolved as a bye during
	// generation; such matches are persisted already confirmed.
	AutoWinnerSlot int

	// Skip marks a match whose both feeds vanished into byes. It is kept in
	// the arena so indices stay stable, but it is never persisted.
	Skip bool
}

// AutoWinnerParticipant returns the participant that advanced on a bye, nil
// for matches that are actually played.
func (m *BracketMatch) AutoWinnerParticipant() *int {
	switch m.AutoWinnerSlot {
	case 1:
		return m.Slot1.ParticipantID
	case 2:
		return m.Slot2.ParticipantID
	}
	return nil
}

// Blueprint is the fully wired output of a generator. Rounds are numbered
// 1..TotalRounds with no gaps; every slot of every playable match is
// explained by a participant, an earlier match, or a bye.
type Blueprint struct {
	Format      models.TournamentFormat
	TotalRounds int
	Matches     []*BracketMatch
}

// Playable returns the matches that get persisted, in round order.
func (b *Blueprint) Playable() []*BracketMatch {
	out := make([]*BracketMatch, 0, len(b.Matches))
	for _, m := range b.Matches {
		if !m.Skip {
			out = append(out, m)
		}
	}
	return out
}

type GenerateBracketParams struct {
	Tournament   *models.Tournament
	Participants []*models.Participant
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error)

	GetName() string
}

// ForFormat selects the generator for a tournament format.
func ForFormat(format models.TournamentFormat) (BracketGenerator, error) {
	switch format {
	case models.FormatSingleElimination:
		return NewSingleEliminationGenerator(), nil
	case models.FormatDoubleElimination:
		return NewDoubleEliminationGenerator(), nil
	case models.FormatRoundRobin:
		return NewRoundRobinGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// bySeed returns the participants ordered by ascending seed. Seeds are
// assigned at freeze time; a missing seed sorts last by ID to stay
// deterministic.
func bySeed(participants []*models.Participant) []*models.Participant {
	sorted := make([]*models.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Seed, sorted[j].Seed
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si < *sj
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// resolveByes collapses generation-time byes. Matches must already be in
// dependency order (every source index smaller than the dependent's).
// A slot fed by a skipped match or by the loser of a bye becomes a bye
// itself; the winner of a bye is propagated as a concrete participant.
func resolveByes(matches []*BracketMatch) {
	for _, bm := range matches {
		resolveSlotRef(matches, &bm.Slot1)
		resolveSlotRef(matches, &bm.Slot2)

		switch {
		case bm.Slot1.Bye && bm.Slot2.Bye:
			bm.Skip = true
		case bm.Slot2.Bye && bm.Slot1.resolved():
			bm.AutoWinnerSlot = 1
		case bm.Slot1.Bye && bm.Slot2.resolved():
			bm.AutoWinnerSlot = 2
		}
	}
}

func resolveSlotRef(matches []*BracketMatch, slot *SlotRef) {
	if slot.SourceIndex == nil {
		return
	}
	src := matches[*slot.SourceIndex]
	switch {
	case src.Skip:
		*slot = byeSlot()
	case src.AutoWinnerSlot != 0 && slot.SourceLoser:
		// A bye has no loser.
		*slot = byeSlot()
	case src.AutoWinnerSlot != 0:
		*slot = SlotRef{ParticipantID: src.AutoWinnerParticipant()}
	}
}

// compactRounds renumbers rounds to consecutive integers after bye
// resolution may have emptied whole stages, and returns the round count.
func compactRounds(matches []*BracketMatch) int {
	used := map[int]bool{}
	for _, m := range matches {
		if !m.Skip {
			used[m.Round] = true
		}
	}
	rounds := make([]int, 0, len(used))
	for r := range used {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	remap := make(map[int]int, len(rounds))
	for i, r := range rounds {
		remap[r] = i + 1
	}
	for _, m := range matches {
		if mapped, ok := remap[m.Round]; ok {
			m.Round = mapped
		}
	}
	return len(rounds)
}
