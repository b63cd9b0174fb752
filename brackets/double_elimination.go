package brackets

import (
	"context"
	"fmt"

	"github.com/bracketforge/tournament-engine/models"
)

type DoubleEliminationGenerator struct{}

func NewDoubleEliminationGenerator() BracketGenerator {
	return &DoubleEliminationGenerator{}
}

func (g *DoubleEliminationGenerator) GetName() string {
	return "DoubleElimination"
}

// lbStage maps a losers-bracket round to the global stage number. Stages
// interleave the two trees so that every feed settles in an earlier stage:
// winners round w plays at stage 2w-1, losers round 1 at stage 2, losers
// round l>=2 at stage l+2, grand final at stage 2n+1.
func lbStage(l int) int {
	if l == 1 {
		return 2
	}
	return l + 2
}

// GenerateBracket builds a winners tree, a losers tree fed by winners-side
// losers, and a single grand final (no bracket reset). Odd losers rounds
// pair losers-bracket survivors; even ("minor") rounds merge them with the
// next wave of winners-side losers, reversing order on alternate waves to
// delay rematches. Byes cascade: the loser of a bye does not exist, so the
// losers-bracket slot it would fill is itself a bye.
func (g *DoubleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	participants := bySeed(params.Participants)
	n := len(participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrInsufficientParticipants, n)
	}

	size := nextPowerOfTwo(n)
	depth := log2(size)
	positions := seedPositions(size)

	matches := make([]*BracketMatch, 0, 2*size)

	// Winners bracket, identical shape to single elimination.
	wb := make([][]int, depth+1)
	for w := 1; w <= depth; w++ {
		count := size >> uint(w)
		wb[w] = make([]int, 0, count)
		for i := 0; i < count; i++ {
			bm := &BracketMatch{
				Index:        len(matches),
				Side:         models.SideWinners,
				Round:        2*w - 1,
				OrderInRound: i + 1,
			}
			if w == 1 {
				bm.Slot1 = seedSlot(positions[2*i], participants)
				bm.Slot2 = seedSlot(positions[2*i+1], participants)
			} else {
				bm.Slot1 = winnerOf(wb[w-1][2*i])
				bm.Slot2 = winnerOf(wb[w-1][2*i+1])
			}
			matches = append(matches, bm)
			wb[w] = append(wb[w], bm.Index)
		}
	}

	// Losers bracket (absent for a 2-slot bracket).
	lb := make([][]int, 2*depth-1)
	if depth >= 2 {
		count := size >> 2
		lb[1] = make([]int, 0, count)
		for i := 0; i < count; i++ {
			bm := &BracketMatch{
				Index:        len(matches),
				Side:         models.SideLosers,
				Round:        lbStage(1),
				OrderInRound: i + 1,
				Slot1:        loserOf(wb[1][2*i]),
				Slot2:        loserOf(wb[1][2*i+1]),
			}
			matches = append(matches, bm)
			lb[1] = append(lb[1], bm.Index)
		}

		for k := 1; k <= depth-1; k++ {
			// Minor round 2k: survivors meet the losers of winners round k+1.
			count = size >> uint(k+1)
			minor := 2 * k
			lb[minor] = make([]int, 0, count)
			for i := 0; i < count; i++ {
				drop := i
				if k%2 == 1 {
					drop = count - 1 - i
				}
				bm := &BracketMatch{
					Index:        len(matches),
					Side:         models.SideLosers,
					Round:        lbStage(minor),
					OrderInRound: i + 1,
					Slot1:        winnerOf(lb[minor-1][i]),
					Slot2:        loserOf(wb[k+1][drop]),
				}
				matches = append(matches, bm)
				lb[minor] = append(lb[minor], bm.Index)
			}

			// Major round 2k+1 halves the survivors, except after the last wave.
			if k <= depth-2 {
				count = size >> uint(k+2)
				major := 2*k + 1
				lb[major] = make([]int, 0, count)
				for i := 0; i < count; i++ {
					bm := &BracketMatch{
						Index:        len(matches),
						Side:         models.SideLosers,
						Round:        lbStage(major),
						OrderInRound: i + 1,
						Slot1:        winnerOf(lb[major-1][2*i]),
						Slot2:        winnerOf(lb[major-1][2*i+1]),
					}
					matches = append(matches, bm)
					lb[major] = append(lb[major], bm.Index)
				}
			}
		}
	}

	final := &BracketMatch{
		Index:        len(matches),
		Side:         models.SideGrandFinal,
		Round:        2*depth + 1,
		OrderInRound: 1,
		Slot1:        winnerOf(wb[depth][0]),
	}
	if depth >= 2 {
		final.Slot2 = winnerOf(lb[2*(depth-1)][0])
	} else {
		// Two entrants: the loser of the only winners match gets the
		// second chance directly.
		final.Slot2 = loserOf(wb[1][0])
	}
	matches = append(matches, final)

	resolveByes(matches)
	bp := &Blueprint{
		Format:      models.FormatDoubleElimination,
		TotalRounds: compactRounds(matches),
		Matches:     matches,
	}
	if err := ValidateBlueprint(bp, participants); err != nil {
		return nil, err
	}
	return bp, nil
}
