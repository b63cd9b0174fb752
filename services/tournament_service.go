package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bracketforge/tournament-engine/brackets"
	"github.com/bracketforge/tournament-engine/events"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
	"github.com/bracketforge/tournament-engine/storage"
	"golang.org/x/sync/errgroup"
)

// TournamentService drives the tournament lifecycle:
//
//	draft -> registration_open -> in_progress -> completed
//	   \___________|__________________|
//	               v
//	           cancelled
//
// Start is the pivotal transition: it freezes the roster, assigns seeds,
// generates the bracket, and persists everything in one transaction, so a
// tournament is either fully started or untouched.
type TournamentService struct {
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	matchRepo       repositories.MatchRepository
	resultRepo      repositories.ResultRepository
	standingRepo    repositories.StandingRepository
	txManager       repositories.TxManager
	registry        *RegistryService
	publisher       events.Publisher
	notifier        Notifier
	uploader        storage.FileUploader // optional
	logger          *slog.Logger
}

func NewTournamentService(
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	matchRepo repositories.MatchRepository,
	resultRepo repositories.ResultRepository,
	standingRepo repositories.StandingRepository,
	txManager repositories.TxManager,
	registry *RegistryService,
	publisher events.Publisher,
	notifier Notifier,
	uploader storage.FileUploader,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		matchRepo:       matchRepo,
		resultRepo:      resultRepo,
		standingRepo:    standingRepo,
		txManager:       txManager,
		registry:        registry,
		publisher:       publisher,
		notifier:        notifier,
		uploader:        uploader,
		logger:          logger,
	}
}

type CreateTournamentParams struct {
	Name            string
	Description     *string
	OrganizerID     int
	Format          models.TournamentFormat
	SeedingStrategy models.SeedingStrategy
	AutoConfirm     bool
	MinParticipants int
	MaxParticipants int
}

func (s *TournamentService) CreateTournament(ctx context.Context, params CreateTournamentParams) (*models.Tournament, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, ErrTournamentNameRequired
	}
	if !params.Format.Valid() {
		return nil, ErrInvalidFormat
	}
	if params.SeedingStrategy == "" {
		params.SeedingStrategy = models.SeedingByRegistration
	}
	if !params.SeedingStrategy.Valid() {
		return nil, ErrInvalidSeedingStrategy
	}
	if params.MinParticipants < 2 {
		params.MinParticipants = 2
	}
	if params.MaxParticipants > 0 && params.MaxParticipants < params.MinParticipants {
		return nil, ErrInvalidCapacity
	}

	tournament := &models.Tournament{
		Name:            strings.TrimSpace(params.Name),
		Description:     params.Description,
		OrganizerID:     params.OrganizerID,
		Format:          params.Format,
		SeedingStrategy: params.SeedingStrategy,
		AutoConfirm:     params.AutoConfirm,
		MinParticipants: params.MinParticipants,
		MaxParticipants: params.MaxParticipants,
		Status:          models.StatusDraft,
	}
	if err := s.tournamentRepo.Create(ctx, tournament); err != nil {
		if errors.Is(err, repositories.ErrTournamentNameConflict) {
			return nil, ErrTournamentNameConflict
		}
		return nil, err
	}
	return tournament, nil
}

func (s *TournamentService) GetTournament(ctx context.Context, id int) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	return tournament, nil
}

func (s *TournamentService) ListTournaments(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	return s.tournamentRepo.List(ctx, filter)
}

// GetBracket returns the tournament with participants, matches, and
// standings attached, fetched in parallel.
func (s *TournamentService) GetBracket(ctx context.Context, id int) (*models.Tournament, error) {
	tournament, err := s.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		participants, err := s.participantRepo.ListByTournament(gctx, nil, id, nil)
		if err != nil {
			return err
		}
		tournament.Participants = make([]models.Participant, 0, len(participants))
		for _, p := range participants {
			tournament.Participants = append(tournament.Participants, *p)
		}
		return nil
	})
	g.Go(func() error {
		matches, err := s.matchRepo.ListByTournament(gctx, nil, id, repositories.ListMatchesFilter{})
		if err != nil {
			return err
		}
		tournament.Matches = make([]models.Match, 0, len(matches))
		for _, m := range matches {
			tournament.Matches = append(tournament.Matches, *m)
		}
		return nil
	})
	g.Go(func() error {
		standings, err := s.standingRepo.ListByTournament(gctx, nil, id)
		if err != nil {
			return err
		}
		tournament.Standings = make([]models.TournamentStanding, 0, len(standings))
		for _, st := range standings {
			tournament.Standings = append(tournament.Standings, *st)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tournament, nil
}

// OpenRegistration moves a draft tournament into the registration window.
func (s *TournamentService) OpenRegistration(ctx context.Context, id, organizerID int) (*models.Tournament, error) {
	tournament, err := s.requireOrganizer(ctx, id, organizerID)
	if err != nil {
		return nil, err
	}
	if tournament.Status != models.StatusDraft {
		return nil, ErrInvalidLifecycleState
	}
	if err := s.tournamentRepo.UpdateStatus(ctx, nil, id, models.StatusDraft, models.StatusRegistrationOpen); err != nil {
		return nil, mapTournamentRepoError(err)
	}
	return s.GetTournament(ctx, id)
}

// Start freezes the roster, seeds it, generates the bracket, and opens round
// one. All validation happens before the first write; the writes share one
// transaction, so failure leaves the tournament in registration_open with no
// bracket rows behind.
func (s *TournamentService) Start(ctx context.Context, id, organizerID int) (*models.Tournament, error) {
	tournament, err := s.requireOrganizer(ctx, id, organizerID)
	if err != nil {
		return nil, err
	}
	if tournament.Status != models.StatusRegistrationOpen {
		return nil, ErrInvalidLifecycleState
	}

	registered := models.ParticipantRegistered
	participants, err := s.participantRepo.ListByTournament(ctx, nil, id, &registered)
	if err != nil {
		return nil, err
	}
	if len(participants) < 2 {
		return nil, ErrInsufficientParticipants
	}
	if len(participants) < tournament.MinParticipants {
		return nil, ErrBelowMinimumParticipants
	}

	var settled []events.MatchSettled

	err = s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.registry.assignSeeds(ctx, exec, tournament, participants); err != nil {
			return err
		}

		generator, err := brackets.ForFormat(tournament.Format)
		if err != nil {
			return ErrInvalidFormat
		}
		blueprint, err := generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
			Tournament:   tournament,
			Participants: participants,
		})
		if err != nil {
			if errors.Is(err, brackets.ErrInsufficientParticipants) {
				return ErrInsufficientParticipants
			}
			return fmt.Errorf("bracket generation failed for tournament %d: %w", id, err)
		}

		settled, err = s.persistBlueprint(ctx, exec, tournament, blueprint)
		if err != nil {
			return err
		}

		if err := s.tournamentRepo.SetTotalRounds(ctx, exec, id, blueprint.TotalRounds); err != nil {
			return err
		}
		if err := s.tournamentRepo.AdvanceRoundCursor(ctx, exec, id, 0, 1); err != nil {
			return err
		}
		return s.tournamentRepo.UpdateStatus(ctx, exec, id, models.StatusRegistrationOpen, models.StatusInProgress)
	})
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}

	// Generation-time byes are born settled; their events drive the cursor
	// past rounds that have nothing left to play.
	for _, event := range settled {
		if pubErr := s.publisher.PublishMatchSettled(ctx, event); pubErr != nil {
			s.logger.Error("failed to publish generated bye settlement",
				slog.Int("tournament_id", id),
				slog.Int("match_id", event.MatchID),
				slog.Any("error", pubErr))
		}
	}

	// Matches born with both slots filled are playable right away.
	scheduled := models.MatchScheduled
	ready, err := s.matchRepo.ListByTournament(ctx, nil, id, repositories.ListMatchesFilter{Status: &scheduled})
	if err != nil {
		s.logger.Error("failed to list playable matches", slog.Int("tournament_id", id), slog.Any("error", err))
	}
	for _, m := range ready {
		s.notifier.MatchReady(id, m)
	}

	s.logger.Info("tournament started",
		slog.Int("tournament_id", id),
		slog.String("format", string(tournament.Format)),
		slog.Int("participants", len(participants)))

	return s.GetTournament(ctx, id)
}

// persistBlueprint writes the generated bracket in two passes: first every
// playable match row, then the forward pointers, which need the row IDs.
func (s *TournamentService) persistBlueprint(ctx context.Context, exec repositories.SQLExecutor, tournament *models.Tournament, blueprint *brackets.Blueprint) ([]events.MatchSettled, error) {
	playable := blueprint.Playable()
	indexToRow := make(map[int]*models.Match, len(playable))
	now := time.Now()
	var settled []events.MatchSettled

	for _, bm := range playable {
		row := &models.Match{
			TournamentID: tournament.ID,
			Side:         bm.Side,
			Round:        bm.Round,
			OrderInRound: bm.OrderInRound,
			Status:       models.MatchPendingSlots,
		}
		if bm.Side == "" {
			row.Side = models.SideWinners
		}
		row.Slot1ParticipantID = bm.Slot1.ParticipantID
		row.Slot2ParticipantID = bm.Slot2.ParticipantID
		row.Slot1Bye = bm.Slot1.Bye
		row.Slot2Bye = bm.Slot2.Bye

		switch {
		case bm.AutoWinnerSlot != 0:
			row.Status = models.MatchConfirmed
			row.WinnerParticipantID = bm.AutoWinnerParticipant()
		case row.Slot1ParticipantID != nil && row.Slot2ParticipantID != nil:
			row.Status = models.MatchScheduled
		}

		if err := s.matchRepo.Create(ctx, exec, row); err != nil {
			return nil, err
		}
		indexToRow[bm.Index] = row

		if row.Status == models.MatchConfirmed {
			reason := "bye"
			winnerSlot := bm.AutoWinnerSlot
			result := &models.MatchResult{
				MatchID:     row.ID,
				Kind:        models.ResultWalkover,
				WinnerSlot:  &winnerSlot,
				ReportedAt:  now,
				Confirmed:   true,
				ConfirmedAt: &now,
				Reason:      &reason,
			}
			if err := s.resultRepo.Create(ctx, exec, result); err != nil {
				return nil, err
			}
			settled = append(settled, events.MatchSettled{
				TournamentID:        tournament.ID,
				MatchID:             row.ID,
				Status:              string(models.MatchConfirmed),
				WinnerParticipantID: row.WinnerParticipantID,
				OccurredAt:          now,
			})
		}
	}

	type pointers struct {
		winnerNextID, winnerNextSlot *int
		loserNextID, loserNextSlot   *int
	}
	bySource := make(map[int]*pointers)

	for _, bm := range playable {
		target := indexToRow[bm.Index]
		for slotNo, slot := range []brackets.SlotRef{bm.Slot1, bm.Slot2} {
			if slot.SourceIndex == nil {
				continue
			}
			source, ok := indexToRow[*slot.SourceIndex]
			if !ok {
				return nil, fmt.Errorf("blueprint slot references unpersisted match index %d", *slot.SourceIndex)
			}
			ptrs := bySource[source.ID]
			if ptrs == nil {
				ptrs = &pointers{}
				bySource[source.ID] = ptrs
			}
			targetID := target.ID
			targetSlot := slotNo + 1
			if slot.SourceLoser {
				ptrs.loserNextID, ptrs.loserNextSlot = &targetID, &targetSlot
			} else {
				ptrs.winnerNextID, ptrs.winnerNextSlot = &targetID, &targetSlot
			}
		}
	}

	for sourceID, ptrs := range bySource {
		if err := s.matchRepo.UpdateNextMatchInfo(ctx, exec, sourceID,
			ptrs.winnerNextID, ptrs.winnerNextSlot, ptrs.loserNextID, ptrs.loserNextSlot); err != nil {
			return nil, err
		}
	}
	return settled, nil
}

// Cancel terminates a tournament early. Every non-terminal match voids, so
// the audit trail records why play stopped.
func (s *TournamentService) Cancel(ctx context.Context, id, organizerID int, reason string) (*models.Tournament, error) {
	tournament, err := s.requireOrganizer(ctx, id, organizerID)
	if err != nil {
		return nil, err
	}
	if tournament.Status.IsTerminal() {
		return nil, ErrInvalidLifecycleState
	}
	if reason == "" {
		reason = "tournament cancelled"
	}

	matches, err := s.matchRepo.ListByTournament(ctx, nil, id, repositories.ListMatchesFilter{})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		for _, m := range matches {
			if m.Status.IsTerminal() {
				continue
			}
			result := &models.MatchResult{
				MatchID:     m.ID,
				Kind:        models.ResultVoid,
				ReportedBy:  &organizerID,
				ReportedAt:  now,
				Confirmed:   true,
				ConfirmedBy: &organizerID,
				ConfirmedAt: &now,
				Reason:      &reason,
			}
			if err := s.resultRepo.Create(ctx, exec, result); err != nil {
				return err
			}
			if err := s.matchRepo.UpdateState(ctx, exec, m.ID, m.Version, models.MatchVoided, nil, nil); err != nil {
				return err
			}
		}
		return s.tournamentRepo.UpdateStatus(ctx, exec, id, tournament.Status, models.StatusCancelled)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentStateConflict) {
			return nil, ErrStaleState
		}
		return nil, mapMatchRepoError(err)
	}

	s.notifier.TournamentCancelled(id)
	s.logger.Info("tournament cancelled",
		slog.Int("tournament_id", id),
		slog.String("reason", reason))
	return s.GetTournament(ctx, id)
}

func (s *TournamentService) GetStandings(ctx context.Context, id int) ([]*models.TournamentStanding, error) {
	if _, err := s.GetTournament(ctx, id); err != nil {
		return nil, err
	}
	return s.standingRepo.ListByTournament(ctx, nil, id)
}

// ArchiveBracket uploads a JSON snapshot of the full bracket to object
// storage and returns its public URL.
func (s *TournamentService) ArchiveBracket(ctx context.Context, tournamentID int) (string, error) {
	if s.uploader == nil {
		return "", ErrArchiveFailed
	}
	bracket, err := s.GetBracket(ctx, tournamentID)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(bracket)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}

	key := fmt.Sprintf("tournaments/%d/bracket.json", tournamentID)
	result, err := s.uploader.Upload(ctx, key, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}

	s.logger.Info("bracket archived",
		slog.Int("tournament_id", tournamentID),
		slog.String("key", result.Key))
	return result.Location, nil
}

func (s *TournamentService) requireOrganizer(ctx context.Context, tournamentID, organizerID int) (*models.Tournament, error) {
	tournament, err := s.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.OrganizerID != organizerID {
		return nil, ErrForbiddenOperation
	}
	return tournament, nil
}
