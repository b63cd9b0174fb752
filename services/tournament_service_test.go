package services

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
	"github.com/bracketforge/tournament-engine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTournamentValidation(t *testing.T) {
	f := newFixture()
	create := func(params CreateTournamentParams) error {
		_, err := f.tournaments.CreateTournament(context.Background(), params)
		return err
	}

	assert.ErrorIs(t, create(CreateTournamentParams{
		Name: "   ", Format: models.FormatSingleElimination, OrganizerID: organizerUser,
	}), ErrTournamentNameRequired)

	assert.ErrorIs(t, create(CreateTournamentParams{
		Name: "Cup", Format: models.TournamentFormat("ladder"), OrganizerID: organizerUser,
	}), ErrInvalidFormat)

	assert.ErrorIs(t, create(CreateTournamentParams{
		Name: "Cup", Format: models.FormatSingleElimination, OrganizerID: organizerUser,
		SeedingStrategy: models.SeedingStrategy("coin-flip"),
	}), ErrInvalidSeedingStrategy)

	assert.ErrorIs(t, create(CreateTournamentParams{
		Name: "Cup", Format: models.FormatSingleElimination, OrganizerID: organizerUser,
		MinParticipants: 8, MaxParticipants: 4,
	}), ErrInvalidCapacity)
}

func TestCreateTournamentDefaults(t *testing.T) {
	f := newFixture()
	tournament, err := f.tournaments.CreateTournament(context.Background(), CreateTournamentParams{
		Name:        "  Spring Open  ",
		Format:      models.FormatRoundRobin,
		OrganizerID: organizerUser,
	})
	require.NoError(t, err)

	assert.Equal(t, "Spring Open", tournament.Name)
	assert.Equal(t, models.StatusDraft, tournament.Status)
	assert.Equal(t, models.SeedingByRegistration, tournament.SeedingStrategy)
	assert.Equal(t, 2, tournament.MinParticipants)
	assert.Zero(t, tournament.RoundCursor)
	assert.Zero(t, tournament.TotalRounds)
}

func TestCreateTournamentNameConflict(t *testing.T) {
	f := newFixture()
	params := CreateTournamentParams{
		Name: "Winter Cup", Format: models.FormatSingleElimination, OrganizerID: organizerUser,
	}
	_, err := f.tournaments.CreateTournament(context.Background(), params)
	require.NoError(t, err)

	_, err = f.tournaments.CreateTournament(context.Background(), params)
	assert.ErrorIs(t, err, ErrTournamentNameConflict)

	// Another organizer can reuse the name.
	params.OrganizerID = organizerUser + 1
	_, err = f.tournaments.CreateTournament(context.Background(), params)
	assert.NoError(t, err)
}

func TestOpenRegistration(t *testing.T) {
	f := newFixture()
	tournament := f.seedTournament(models.FormatSingleElimination, models.StatusDraft, false)

	_, err := f.tournaments.OpenRegistration(context.Background(), tournament.ID, 9999)
	assert.ErrorIs(t, err, ErrForbiddenOperation)

	opened, err := f.tournaments.OpenRegistration(context.Background(), tournament.ID, organizerUser)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistrationOpen, opened.Status)

	_, err = f.tournaments.OpenRegistration(context.Background(), tournament.ID, organizerUser)
	assert.ErrorIs(t, err, ErrInvalidLifecycleState)
}

func TestStartGuards(t *testing.T) {
	f := newFixture()

	draft := f.seedTournament(models.FormatSingleElimination, models.StatusDraft, false)
	_, err := f.tournaments.Start(context.Background(), draft.ID, organizerUser)
	assert.ErrorIs(t, err, ErrInvalidLifecycleState)

	open := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)
	f.enroll(open, 1)
	_, err = f.tournaments.Start(context.Background(), open.ID, organizerUser)
	assert.ErrorIs(t, err, ErrInsufficientParticipants)

	strict := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)
	f.store.mu.Lock()
	f.store.tournaments[strict.ID].MinParticipants = 4
	f.store.mu.Unlock()
	f.enroll(strict, 3)
	_, err = f.tournaments.Start(context.Background(), strict.ID, organizerUser)
	assert.ErrorIs(t, err, ErrBelowMinimumParticipants)

	ready := f.seedTournament(models.FormatSingleElimination, models.StatusRegistrationOpen, false)
	f.enroll(ready, 2)
	_, err = f.tournaments.Start(context.Background(), ready.ID, 9999)
	assert.ErrorIs(t, err, ErrForbiddenOperation)
}

func TestStartPersistsBracket(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 5, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, tournament.Status)
	assert.Equal(t, 1, tournament.RoundCursor)
	assert.Equal(t, 3, tournament.TotalRounds)

	matches, err := f.matchRepo.ListByTournament(context.Background(), nil, tournament.ID, repositories.ListMatchesFilter{})
	require.NoError(t, err)
	require.Len(t, matches, 7)

	byStatus := map[models.MatchStatus]int{}
	for _, m := range matches {
		byStatus[m.Status]++
	}
	assert.Equal(t, 3, byStatus[models.MatchConfirmed]) // generation byes
	assert.Equal(t, 2, byStatus[models.MatchScheduled]) // 4v5 and the pre-placed 2v3 semifinal
	assert.Equal(t, 2, byStatus[models.MatchPendingSlots])

	// Every bye carries a confirmed walkover audit row.
	for _, m := range matches {
		if m.Status != models.MatchConfirmed {
			continue
		}
		results, err := f.resultRepo.ListByMatch(context.Background(), nil, m.ID)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, models.ResultWalkover, results[0].Kind)
		assert.True(t, results[0].Confirmed)
		assert.Equal(t, "bye", *results[0].Reason)
	}

	// Bye rows are born settled with their winner already placed downstream,
	// so they carry no forward pointer. Every playable match points somewhere
	// except the final.
	finals := 0
	for _, m := range matches {
		if m.Status == models.MatchConfirmed {
			assert.Nil(t, m.WinnerNextMatchID)
			continue
		}
		if m.WinnerNextMatchID == nil {
			finals++
			assert.Equal(t, tournament.TotalRounds, m.Round)
		}
	}
	assert.Equal(t, 1, finals)

	// The roster got frozen with seeds 1..5.
	frozen, err := f.participantRepo.ListByTournament(context.Background(), nil, tournament.ID, nil)
	require.NoError(t, err)
	require.Len(t, frozen, len(ps))
	for i, p := range frozen {
		require.NotNil(t, p.Seed)
		assert.Equal(t, i+1, *p.Seed)
	}
}

func TestStartCannotRunTwice(t *testing.T) {
	f := newFixture()
	tournament, _, err := f.startTournament(models.FormatSingleElimination, 2, false)
	require.NoError(t, err)

	_, err = f.tournaments.Start(context.Background(), tournament.ID, organizerUser)
	assert.ErrorIs(t, err, ErrInvalidLifecycleState)
}

func TestCancelVoidsOpenMatches(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatSingleElimination, 4, false)
	require.NoError(t, err)

	semiA := f.matchBetween(tournament.ID, ps[0].ID, ps[3].ID)
	settleByOrganizer(t, f, semiA.ID, 1)

	cancelled, err := f.tournaments.Cancel(context.Background(), tournament.ID, organizerUser, "venue flooded")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	matches, err := f.matchRepo.ListByTournament(context.Background(), nil, tournament.ID, repositories.ListMatchesFilter{})
	require.NoError(t, err)
	for _, m := range matches {
		assert.True(t, m.Status.IsTerminal(), "match %d left open", m.ID)
	}

	// The played semifinal keeps its outcome.
	settledSemi, err := f.matchRepo.GetByID(context.Background(), nil, semiA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchConfirmed, settledSemi.Status)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, []int{tournament.ID}, f.notifier.cancelled)
}

func TestCancelTerminalTournamentRejected(t *testing.T) {
	f := newFixture()
	tournament, _, err := f.startTournament(models.FormatSingleElimination, 2, false)
	require.NoError(t, err)

	_, err = f.tournaments.Cancel(context.Background(), tournament.ID, organizerUser, "")
	require.NoError(t, err)

	_, err = f.tournaments.Cancel(context.Background(), tournament.ID, organizerUser, "")
	assert.ErrorIs(t, err, ErrInvalidLifecycleState)
}

func TestGetBracketLinksEverything(t *testing.T) {
	f := newFixture()
	tournament, ps, err := f.startTournament(models.FormatRoundRobin, 3, false)
	require.NoError(t, err)

	first := f.matchBetween(tournament.ID, ps[0].ID, ps[1].ID)
	settleByOrganizer(t, f, first.ID, 1)

	bracket, err := f.tournaments.GetBracket(context.Background(), tournament.ID)
	require.NoError(t, err)

	assert.Len(t, bracket.Participants, 3)
	assert.Len(t, bracket.Matches, 3)
	assert.Len(t, bracket.Standings, 3)
}

func TestGetStandingsRequiresTournament(t *testing.T) {
	f := newFixture()
	_, err := f.tournaments.GetStandings(context.Background(), 4242)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

type memUploader struct {
	keys []string
}

func (u *memUploader) Upload(ctx context.Context, key, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	if _, err := io.ReadAll(reader); err != nil {
		return nil, err
	}
	u.keys = append(u.keys, key)
	return &storage.UploadResult{Key: key, Location: "https://cdn.example/" + key}, nil
}

func (u *memUploader) Delete(ctx context.Context, key string) error { return nil }

func (u *memUploader) GetPublicURL(key string) string { return "https://cdn.example/" + key }

func TestArchiveBracket(t *testing.T) {
	f := newFixture()
	tournament, _, err := f.startTournament(models.FormatSingleElimination, 2, false)
	require.NoError(t, err)

	// No uploader wired: archiving is unavailable.
	_, err = f.tournaments.ArchiveBracket(context.Background(), tournament.ID)
	assert.ErrorIs(t, err, ErrArchiveFailed)

	uploader := &memUploader{}
	f.tournaments.uploader = uploader

	location, err := f.tournaments.ArchiveBracket(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("https://cdn.example/tournaments/%d/bracket.json", tournament.ID), location)
	assert.Equal(t, []string{fmt.Sprintf("tournaments/%d/bracket.json", tournament.ID)}, uploader.keys)
}
