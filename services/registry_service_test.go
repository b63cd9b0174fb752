package services

import (
	"context"
	"testing"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequiresOpenWindow(t *testing.T) {
	f := newFixture()
	tournament := f.seedTournament(models.FormatSingleElimination, models.StatusDraft, false)

	_, err := f.registry.Register(context.Background(), RegisterParams{
		TournamentID: tournament.ID,
		EntrantID:    101,
	})
	assert.ErrorIs(t, err, ErrRegistrationNotOpen)
}

func TestRegisterRejectsDuplicateEntrant(t *testing.T) {
	f := newFixture()
	tournament := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)

	_, err := f.registry.Register(context.Background(), RegisterParams{
		TournamentID: tournament.ID,
		EntrantID:    101,
	})
	require.NoError(t, err)

	_, err = f.registry.Register(context.Background(), RegisterParams{
		TournamentID: tournament.ID,
		EntrantID:    101,
	})
	assert.ErrorIs(t, err, ErrRegistrationConflict)
}

func TestRegisterEnforcesCapacity(t *testing.T) {
	f := newFixture()
	tournament := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)
	f.store.mu.Lock()
	f.store.tournaments[tournament.ID].MaxParticipants = 2
	f.store.mu.Unlock()

	for entrant := 101; entrant <= 102; entrant++ {
		_, err := f.registry.Register(context.Background(), RegisterParams{
			TournamentID: tournament.ID,
			EntrantID:    entrant,
		})
		require.NoError(t, err)
	}

	_, err := f.registry.Register(context.Background(), RegisterParams{
		TournamentID: tournament.ID,
		EntrantID:    103,
	})
	assert.ErrorIs(t, err, ErrTournamentFull)
}

func TestWithdrawDuringRegistrationIsRosterEdit(t *testing.T) {
	f := newFixture()
	tournament := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)
	p, err := f.registry.Register(context.Background(), RegisterParams{
		TournamentID: tournament.ID,
		EntrantID:    101,
	})
	require.NoError(t, err)

	require.NoError(t, f.registry.Withdraw(context.Background(), tournament.ID, p.ID))

	withdrawn, err := f.registry.GetParticipant(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantWithdrawn, withdrawn.Status)

	// Withdrawing twice is rejected.
	err = f.registry.Withdraw(context.Background(), tournament.ID, p.ID)
	assert.ErrorIs(t, err, ErrWithdrawNotAllowed)
}

func TestWithdrawRejectsForeignParticipant(t *testing.T) {
	f := newFixture()
	a := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)
	b := f.seedTournament(models.FormatRoundRobin, models.StatusRegistrationOpen, false)
	p, err := f.registry.Register(context.Background(), RegisterParams{
		TournamentID: a.ID,
		EntrantID:    101,
	})
	require.NoError(t, err)

	err = f.registry.Withdraw(context.Background(), b.ID, p.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestWithdrawInProgressWalksOverOpponent(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 2, false)
	require.NoError(t, err)

	require.NoError(t, f.registry.Withdraw(context.Background(), tournament.ID, ps[0].ID))

	match := f.matchBetween(tournament.ID, ps[0].ID, ps[1].ID)
	require.NotNil(t, match)
	assert.Equal(t, models.MatchConfirmed, match.Status)
	assert.Equal(t, ps[1].ID, *match.WinnerParticipantID)

	results, err := f.matchService.ListResults(context.Background(), match.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ResultWalkover, results[0].Kind)
	assert.Equal(t, "opponent withdrew", *results[0].Reason)

	// The walkover completed the two-entrant bracket.
	done, err := f.tournaments.GetTournament(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, ps[1].ID, *done.WinnerParticipantID)
}

func TestWithdrawWithUnresolvedOpponentLeavesBye(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 4, false)
	require.NoError(t, err)

	// Seed 1 wins the semifinal and then withdraws while the other
	// semifinal is still open: the final's slot becomes a bye.
	semiA := f.matchBetween(tournament.ID, ps[0].ID, ps[3].ID)
	settleByOrganizer(t, f, semiA.ID, 1)

	require.NoError(t, f.registry.Withdraw(context.Background(), tournament.ID, ps[0].ID))

	finalID := *semiA.WinnerNextMatchID
	final, err := f.matchRepo.GetByID(context.Background(), nil, finalID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchPendingSlots, final.Status)
	assert.Nil(t, final.Slot1ParticipantID)
	assert.True(t, final.Slot1Bye)

	// The other finalist arrives and wins by walkover.
	semiB := f.matchBetween(tournament.ID, ps[1].ID, ps[2].ID)
	settleByOrganizer(t, f, semiB.ID, 1)

	done, err := f.tournaments.GetTournament(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, ps[1].ID, *done.WinnerParticipantID)
}

func TestVoidCascadeCompletesWithoutChampion(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 4, false)
	require.NoError(t, err)

	// One finalist withdraws after advancing, the other semifinal voids:
	// the final ends up with two byes, voids itself, and the tournament
	// completes without a champion.
	require.NoError(t, f.registry.Withdraw(context.Background(), tournament.ID, ps[0].ID))
	require.NoError(t, f.registry.Withdraw(context.Background(), tournament.ID, ps[3].ID))

	semiB := f.matchBetween(tournament.ID, ps[1].ID, ps[2].ID)
	_, err = f.matchService.VoidMatch(context.Background(), VoidMatchParams{
		MatchID: semiB.ID, OrganizerID: organizerUser, Reason: "both disqualified",
	})
	require.NoError(t, err)

	done, err := f.tournaments.GetTournament(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Nil(t, done.WinnerParticipantID)

	matches, err := f.matchService.ListByTournament(context.Background(), tournament.ID, repositories.ListMatchesFilter{})
	require.NoError(t, err)
	for _, m := range matches {
		assert.True(t, m.Status.IsTerminal(), "match %d left open", m.ID)
	}
}

// A withdrawal that died between the withdrawn mark and the walkover sweep
// must be resumable: retrying finishes the sweep instead of erroring out.
func TestWithdrawResumesAfterPartialFailure(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 2, false)
	require.NoError(t, err)

	// Mark without sweeping, as if the first attempt crashed mid-way.
	f.store.mu.Lock()
	f.store.participants[ps[0].ID].Status = models.ParticipantWithdrawn
	f.store.mu.Unlock()

	require.NoError(t, f.registry.Withdraw(context.Background(), tournament.ID, ps[0].ID))

	match := f.matchBetween(tournament.ID, ps[0].ID, ps[1].ID)
	require.NotNil(t, match)
	assert.Equal(t, models.MatchConfirmed, match.Status)
	assert.Equal(t, ps[1].ID, *match.WinnerParticipantID)

	// With the sweep done, another retry has nothing left to resume.
	err = f.registry.Withdraw(context.Background(), tournament.ID, ps[0].ID)
	assert.ErrorIs(t, err, ErrWithdrawNotAllowed)
}

func TestWithdrawAfterCompletionRejected(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 2, false)
	require.NoError(t, err)

	match := f.matchBetween(tournament.ID, ps[0].ID, ps[1].ID)
	settleByOrganizer(t, f, match.ID, 1)

	err = f.registry.Withdraw(context.Background(), tournament.ID, ps[1].ID)
	assert.ErrorIs(t, err, ErrWithdrawNotAllowed)
}
