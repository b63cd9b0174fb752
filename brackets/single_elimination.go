package brackets

import (
	"context"
	"fmt"

	"github.com/bracketforge/tournament-engine/models"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket builds a seeded single-elimination tree. Participants are
// placed by standard bracket seeding; when the entrant count is not a power
// of two the top seeds receive round-1 byes, so round 2 is always full.
// Bye matches resolve during generation and carry their winner forward.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	participants := bySeed(params.Participants)
	n := len(participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrInsufficientParticipants, n)
	}

	size := nextPowerOfTwo(n)
	numRounds := log2(size)
	positions := seedPositions(size)

	matches := make([]*BracketMatch, 0, size-1)
	var prevRound []int

	for r := 1; r <= numRounds; r++ {
		count := size >> uint(r)
		currentRound := make([]int, 0, count)
		for i := 0; i < count; i++ {
			bm := &BracketMatch{
				Index:        len(matches),
				Side:         models.SideWinners,
				Round:        r,
				OrderInRound: i + 1,
			}
			if r == 1 {
				bm.Slot1 = seedSlot(positions[2*i], participants)
				bm.Slot2 = seedSlot(positions[2*i+1], participants)
			} else {
				bm.Slot1 = winnerOf(prevRound[2*i])
				bm.Slot2 = winnerOf(prevRound[2*i+1])
			}
			matches = append(matches, bm)
			currentRound = append(currentRound, bm.Index)
		}
		prevRound = currentRound
	}

	resolveByes(matches)
	bp := &Blueprint{
		Format:      models.FormatSingleElimination,
		TotalRounds: compactRounds(matches),
		Matches:     matches,
	}
	if err := ValidateBlueprint(bp, participants); err != nil {
		return nil, err
	}
	return bp, nil
}

func seedSlot(position int, participants []*models.Participant) SlotRef {
	if position >= len(participants) {
		return byeSlot()
	}
	return participantSlot(participants[position].ID)
}
