package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bracketforge/tournament-engine/events"
	"github.com/bracketforge/tournament-engine/metrics"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
)

// MatchService owns the match state machine:
//
//	pending_slots -> scheduled -> awaiting_confirmation -> confirmed
//	                      \________________|__________________/
//	                                       v
//	                                    voided
//
// Every transition is a guarded, versioned update; results are recorded as
// append-only audit rows before the match row moves.
type MatchService struct {
	matchRepo       repositories.MatchRepository
	resultRepo      repositories.ResultRepository
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	txManager       repositories.TxManager
	publisher       events.Publisher
	logger          *slog.Logger
}

func NewMatchService(
	matchRepo repositories.MatchRepository,
	resultRepo repositories.ResultRepository,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	txManager repositories.TxManager,
	publisher events.Publisher,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		matchRepo:       matchRepo,
		resultRepo:      resultRepo,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		txManager:       txManager,
		publisher:       publisher,
		logger:          logger,
	}
}

func (s *MatchService) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

func (s *MatchService) ListByTournament(ctx context.Context, tournamentID int, filter repositories.ListMatchesFilter) ([]*models.Match, error) {
	return s.matchRepo.ListByTournament(ctx, nil, tournamentID, filter)
}

func (s *MatchService) ListResults(ctx context.Context, matchID int) ([]*models.MatchResult, error) {
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return s.resultRepo.ListByMatch(ctx, nil, matchID)
}

type ReportResultParams struct {
	MatchID    int
	ReporterID int // user performing the report
	WinnerSlot int // 1 or 2
	Score      *string
}

// ReportResult records a claimed outcome. A participant's report parks the
// match in awaiting_confirmation until the opponent (or the organizer, or
// the confirmation sweeper) confirms it; an organizer report, or a report in
// an auto-confirm tournament, settles immediately.
func (s *MatchService) ReportResult(ctx context.Context, params ReportResultParams) (*models.Match, error) {
	match, err := s.GetMatch(ctx, params.MatchID)
	if err != nil {
		return nil, err
	}
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}

	if tournament.Status != models.StatusInProgress {
		return nil, ErrInvalidLifecycleState
	}
	switch match.Status {
	case models.MatchScheduled:
	case models.MatchAwaitingConfirmation:
		return nil, ErrResultAlreadyReported
	case models.MatchPendingSlots:
		return nil, ErrMatchNotPlayable
	default:
		return nil, ErrMatchStateConflict
	}

	if params.WinnerSlot != 1 && params.WinnerSlot != 2 {
		return nil, ErrInvalidWinnerSlot
	}
	winnerID := match.ParticipantInSlot(params.WinnerSlot)
	if winnerID == nil {
		return nil, ErrInvalidWinnerSlot
	}

	isOrganizer := tournament.OrganizerID == params.ReporterID
	if !isOrganizer {
		if _, err := s.participantForUser(ctx, match, params.ReporterID); err != nil {
			return nil, err
		}
	}

	settleNow := isOrganizer || tournament.AutoConfirm
	now := time.Now()

	err = s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		winnerSlot := params.WinnerSlot
		result := &models.MatchResult{
			MatchID:    match.ID,
			Kind:       models.ResultWin,
			WinnerSlot: &winnerSlot,
			Score:      params.Score,
			ReportedBy: &params.ReporterID,
			ReportedAt: now,
			Confirmed:  settleNow,
		}
		if settleNow {
			result.ConfirmedBy = &params.ReporterID
			result.ConfirmedAt = &now
		}
		if err := s.resultRepo.Create(ctx, exec, result); err != nil {
			return err
		}

		status := models.MatchAwaitingConfirmation
		var recordedWinner *int
		if settleNow {
			status = models.MatchConfirmed
			recordedWinner = winnerID
		}
		return s.matchRepo.UpdateState(ctx, exec, match.ID, match.Version, status, recordedWinner, params.Score)
	})
	if err != nil {
		return nil, mapMatchRepoError(err)
	}

	if settleNow {
		s.afterSettlement(ctx, tournament.ID, match.ID, models.MatchConfirmed, winnerID, string(models.ResultWin))
	}
	return s.GetMatch(ctx, params.MatchID)
}

type ConfirmResultParams struct {
	MatchID     int
	ConfirmerID int
}

// ConfirmResult settles a reported outcome. Only the non-reporting
// participant or the organizer may confirm.
func (s *MatchService) ConfirmResult(ctx context.Context, params ConfirmResultParams) (*models.Match, error) {
	match, err := s.GetMatch(ctx, params.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchAwaitingConfirmation {
		return nil, ErrMatchStateConflict
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}

	result, err := s.resultRepo.GetLatestByMatch(ctx, nil, match.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrResultNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	// Only an unconfirmed win report is confirmable; anything else means the
	// match moved under the caller.
	if result.Kind != models.ResultWin || result.Confirmed {
		return nil, ErrMatchStateConflict
	}

	if tournament.OrganizerID != params.ConfirmerID {
		confirmer, err := s.participantForUser(ctx, match, params.ConfirmerID)
		if err != nil {
			return nil, ErrNotEligibleConfirmer
		}
		if result.ReportedBy != nil {
			reporter, rErr := s.participantForUser(ctx, match, *result.ReportedBy)
			if rErr == nil && reporter.ID == confirmer.ID {
				return nil, ErrNotEligibleConfirmer
			}
		}
	}

	return s.settleReported(ctx, tournament, match, result, &params.ConfirmerID)
}

// settleReported confirms the pending result row and moves the match to
// confirmed. Shared by opponent confirmation and the timeout sweeper.
func (s *MatchService) settleReported(ctx context.Context, tournament *models.Tournament, match *models.Match, result *models.MatchResult, confirmedBy *int) (*models.Match, error) {
	if result.WinnerSlot == nil {
		return nil, ErrInvalidWinnerSlot
	}
	winnerID := match.ParticipantInSlot(*result.WinnerSlot)
	if winnerID == nil {
		return nil, ErrInvalidWinnerSlot
	}

	now := time.Now()
	err := s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.resultRepo.Confirm(ctx, exec, result.ID, confirmedBy, now); err != nil {
			return err
		}
		return s.matchRepo.UpdateState(ctx, exec, match.ID, match.Version, models.MatchConfirmed, winnerID, result.Score)
	})
	if err != nil {
		// The result row disappearing from under us is the same lost race as
		// a version conflict on the match.
		if errors.Is(err, repositories.ErrResultNotFound) {
			return nil, ErrStaleState
		}
		return nil, mapMatchRepoError(err)
	}

	s.afterSettlement(ctx, tournament.ID, match.ID, models.MatchConfirmed, winnerID, string(result.Kind))
	return s.GetMatch(ctx, match.ID)
}

// ConfirmExpired is the sweeper entry point: it confirms the pending result
// of a match whose confirmation window elapsed.
func (s *MatchService) ConfirmExpired(ctx context.Context, matchID int) error {
	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.Status != models.MatchAwaitingConfirmation {
		return nil // settled while queued
	}
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return mapTournamentRepoError(err)
	}
	result, err := s.resultRepo.GetLatestByMatch(ctx, nil, match.ID)
	if err != nil {
		return err
	}
	if _, err := s.settleReported(ctx, tournament, match, result, nil); err != nil {
		return err
	}
	metrics.ConfirmationsSwept.Inc()
	return nil
}

type VoidMatchParams struct {
	MatchID     int
	OrganizerID int
	Reason      string
}

// VoidMatch is the organizer override: it terminates a non-terminal match
// with no winner. Downstream slots fed by a voided match become byes.
func (s *MatchService) VoidMatch(ctx context.Context, params VoidMatchParams) (*models.Match, error) {
	if params.Reason == "" {
		return nil, ErrVoidReasonRequired
	}
	match, err := s.GetMatch(ctx, params.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status.IsTerminal() {
		return nil, ErrMatchStateConflict
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	if tournament.OrganizerID != params.OrganizerID {
		return nil, ErrForbiddenOperation
	}

	now := time.Now()
	err = s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		result := &models.MatchResult{
			MatchID:     match.ID,
			Kind:        models.ResultVoid,
			ReportedBy:  &params.OrganizerID,
			ReportedAt:  now,
			Confirmed:   true,
			ConfirmedBy: &params.OrganizerID,
			ConfirmedAt: &now,
			Reason:      &params.Reason,
		}
		if err := s.resultRepo.Create(ctx, exec, result); err != nil {
			return err
		}
		return s.matchRepo.UpdateState(ctx, exec, match.ID, match.Version, models.MatchVoided, nil, nil)
	})
	if err != nil {
		return nil, mapMatchRepoError(err)
	}

	s.afterSettlement(ctx, tournament.ID, match.ID, models.MatchVoided, nil, string(models.ResultVoid))
	return s.GetMatch(ctx, params.MatchID)
}

// SettleWalkover terminates a match without play: the given participant wins
// because the opponent withdrew, was a bye, or lost upstream by void. A nil
// winner voids the match instead (both feeds vanished).
func (s *MatchService) SettleWalkover(ctx context.Context, matchID int, winnerParticipantID *int, reason string) error {
	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.Status.IsTerminal() {
		return nil
	}

	status := models.MatchConfirmed
	kind := models.ResultWalkover
	if winnerParticipantID == nil {
		status = models.MatchVoided
		kind = models.ResultVoid
	}

	now := time.Now()
	err = s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		var winnerSlot *int
		if winnerParticipantID != nil {
			slot := match.SlotOf(*winnerParticipantID)
			if slot == 0 {
				return ErrInvalidWinnerSlot
			}
			winnerSlot = &slot
		}
		result := &models.MatchResult{
			MatchID:     match.ID,
			Kind:        kind,
			WinnerSlot:  winnerSlot,
			ReportedAt:  now,
			Confirmed:   true,
			ConfirmedAt: &now,
			Reason:      &reason,
		}
		if err := s.resultRepo.Create(ctx, exec, result); err != nil {
			return err
		}
		return s.matchRepo.UpdateState(ctx, exec, match.ID, match.Version, status, winnerParticipantID, nil)
	})
	if err != nil {
		return mapMatchRepoError(err)
	}

	s.afterSettlement(ctx, match.TournamentID, match.ID, status, winnerParticipantID, string(kind))
	return nil
}

// afterSettlement publishes the settled event and bumps counters. Publish
// failures are logged, not returned: the database is the source of truth and
// the advancer re-derives pending work from it.
func (s *MatchService) afterSettlement(ctx context.Context, tournamentID, matchID int, status models.MatchStatus, winnerID *int, kind string) {
	metrics.MatchesSettled.WithLabelValues(kind).Inc()
	event := events.MatchSettled{
		TournamentID:        tournamentID,
		MatchID:             matchID,
		Status:              string(status),
		WinnerParticipantID: winnerID,
		OccurredAt:          time.Now(),
	}
	if err := s.publisher.PublishMatchSettled(ctx, event); err != nil {
		s.logger.Error("failed to publish match settled event",
			slog.Int("tournament_id", tournamentID),
			slog.Int("match_id", matchID),
			slog.Any("error", err))
	}
}

// participantForUser resolves which match slot, if any, belongs to the user.
func (s *MatchService) participantForUser(ctx context.Context, match *models.Match, userID int) (*models.Participant, error) {
	for _, pid := range match.ParticipantIDs() {
		p, err := s.participantRepo.GetByID(ctx, nil, pid)
		if err != nil {
			if errors.Is(err, repositories.ErrParticipantNotFound) {
				continue
			}
			return nil, err
		}
		if p.EntrantID == userID {
			return p, nil
		}
	}
	return nil, ErrNotEligibleReporter
}

func mapMatchRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMatchVersionConflict):
		return ErrStaleState
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	default:
		return err
	}
}

func mapTournamentRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrTournamentStateConflict):
		return ErrStaleState
	default:
		return err
	}
}
