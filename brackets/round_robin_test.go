package brackets

import (
	"context"
	"fmt"
	"testing"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinEvenField(t *testing.T) {
	gen := NewRoundRobinGenerator()

	bp, err := gen.GenerateBracket(context.Background(), genParams(4, models.FormatRoundRobin))
	require.NoError(t, err)

	assert.Equal(t, 3, bp.TotalRounds)
	require.Len(t, bp.Playable(), 6)

	assertRoundRobinSchedule(t, bp, 4)

	// Even field: everyone plays every round.
	for r := 1; r <= bp.TotalRounds; r++ {
		assert.Equal(t, 2, matchesInRound(bp, r))
	}
}

func TestRoundRobinOddFieldSitsOneOut(t *testing.T) {
	gen := NewRoundRobinGenerator()

	bp, err := gen.GenerateBracket(context.Background(), genParams(5, models.FormatRoundRobin))
	require.NoError(t, err)

	assert.Equal(t, 5, bp.TotalRounds)
	require.Len(t, bp.Playable(), 10)

	assertRoundRobinSchedule(t, bp, 5)

	// Odd field: two matches per round, one participant idle.
	for r := 1; r <= bp.TotalRounds; r++ {
		assert.Equal(t, 2, matchesInRound(bp, r))
	}
}

func TestRoundRobinCarriesNoForwardStructure(t *testing.T) {
	gen := NewRoundRobinGenerator()

	bp, err := gen.GenerateBracket(context.Background(), genParams(6, models.FormatRoundRobin))
	require.NoError(t, err)

	for _, m := range bp.Playable() {
		assert.Nil(t, m.Slot1.SourceIndex)
		assert.Nil(t, m.Slot2.SourceIndex)
		assert.False(t, m.Slot1.Bye)
		assert.False(t, m.Slot2.Bye)
		assert.Zero(t, m.AutoWinnerSlot)
	}
}

// assertRoundRobinSchedule checks every pair meets exactly once and nobody
// plays twice in the same round.
func assertRoundRobinSchedule(t *testing.T, bp *Blueprint, n int) {
	t.Helper()

	pairSeen := map[string]int{}
	perRound := map[int]map[int]bool{}
	for _, m := range bp.Playable() {
		require.NotNil(t, m.Slot1.ParticipantID)
		require.NotNil(t, m.Slot2.ParticipantID)
		a, b := *m.Slot1.ParticipantID, *m.Slot2.ParticipantID
		if a > b {
			a, b = b, a
		}
		pairSeen[fmt.Sprintf("%d-%d", a, b)]++

		if perRound[m.Round] == nil {
			perRound[m.Round] = map[int]bool{}
		}
		for _, id := range []int{a, b} {
			assert.False(t, perRound[m.Round][id], "participant %d plays twice in round %d", id, m.Round)
			perRound[m.Round][id] = true
		}
	}

	assert.Len(t, pairSeen, n*(n-1)/2)
	for pair, count := range pairSeen {
		assert.Equal(t, 1, count, "pair %s scheduled %d times", pair, count)
	}
}

func matchesInRound(bp *Blueprint, round int) int {
	count := 0
	for _, m := range bp.Playable() {
		if m.Round == round {
			count++
		}
	}
	return count
}
