package brackets

import (
	"context"
	"fmt"

	"github.com/bracketforge/tournament-engine/models"
)

type RoundRobinGenerator struct{}

func NewRoundRobinGenerator() BracketGenerator {
	return &RoundRobinGenerator{}
}

func (g *RoundRobinGenerator) GetName() string {
	return "RoundRobin"
}

// GenerateBracket schedules every pairing exactly once using the circle
// method: one seat is fixed, the rest rotate each round. An even field
// yields N-1 rounds; an odd field gets a phantom seat, N rounds, and one
// participant sitting out per round (no match row is created for sitting
// out). Round-robin matches carry no forward pointers; progression is a
// standings recomputation instead of slot propagation.
func (g *RoundRobinGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	participants := bySeed(params.Participants)
	n := len(participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrInsufficientParticipants, n)
	}

	const sitOut = -1
	seats := make([]int, 0, n+1)
	for _, p := range participants {
		seats = append(seats, p.ID)
	}
	if n%2 != 0 {
		seats = append(seats, sitOut)
	}
	total := len(seats)
	rounds := total - 1

	matches := make([]*BracketMatch, 0, n*(n-1)/2)
	for r := 1; r <= rounds; r++ {
		order := 1
		for i := 0; i < total/2; i++ {
			a, b := seats[i], seats[total-1-i]
			if a == sitOut || b == sitOut {
				continue
			}
			matches = append(matches, &BracketMatch{
				Index:        len(matches),
				Round:        r,
				OrderInRound: order,
				Slot1:        participantSlot(a),
				Slot2:        participantSlot(b),
			})
			order++
		}

		// Rotate everything but the first seat one step clockwise.
		last := seats[total-1]
		copy(seats[2:], seats[1:total-1])
		seats[1] = last
	}

	bp := &Blueprint{
		Format:      models.FormatRoundRobin,
		TotalRounds: rounds,
		Matches:     matches,
	}
	if err := ValidateBlueprint(bp, participants); err != nil {
		return nil, err
	}
	return bp, nil
}
