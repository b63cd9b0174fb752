package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bracketforge/tournament-engine/events"
	"github.com/bracketforge/tournament-engine/metrics"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
)

// slot assignments retry a few times before giving up; conflicts are only
// caused by sibling settlements racing into the same target match.
const propagateMaxAttempts = 5

// BracketArchiver snapshots a finished bracket into object storage.
type BracketArchiver interface {
	ArchiveBracket(ctx context.Context, tournamentID int) (string, error)
}

// AdvancerService consumes settled-match events and moves the tournament
// forward: it routes winners and losers into their next slots, settles
// walkovers that became decidable, recomputes round-robin standings, moves
// the round cursor when a round drains, and completes the tournament when
// the last match settles. Every step is idempotent, so replayed or
// concurrent events converge on the same state.
type AdvancerService struct {
	matchRepo       repositories.MatchRepository
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	standingRepo    repositories.StandingRepository
	txManager       repositories.TxManager
	matchService    *MatchService
	notifier        Notifier
	archiver        BracketArchiver // optional
	logger          *slog.Logger
}

func NewAdvancerService(
	matchRepo repositories.MatchRepository,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	standingRepo repositories.StandingRepository,
	txManager repositories.TxManager,
	matchService *MatchService,
	notifier Notifier,
	archiver BracketArchiver,
	logger *slog.Logger,
) *AdvancerService {
	return &AdvancerService{
		matchRepo:       matchRepo,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		standingRepo:    standingRepo,
		txManager:       txManager,
		matchService:    matchService,
		notifier:        notifier,
		archiver:        archiver,
		logger:          logger,
	}
}

// HandleMatchSettled is the event-bus entry point.
func (s *AdvancerService) HandleMatchSettled(ctx context.Context, event events.MatchSettled) error {
	match, err := s.matchRepo.GetByID(ctx, nil, event.MatchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil
		}
		return err
	}
	if !match.Status.IsTerminal() {
		return nil // stale event, the match moved on
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return mapTournamentRepoError(err)
	}
	if tournament.Status.IsTerminal() {
		return nil
	}

	if tournament.Format == models.FormatRoundRobin {
		if err := s.recomputeStandings(ctx, tournament); err != nil {
			return err
		}
	} else {
		if err := s.propagate(ctx, match); err != nil {
			return err
		}
	}

	s.notifier.MatchUpdated(tournament.ID, match)

	return s.advance(ctx, tournament.ID)
}

// TryAdvance is the explicit trigger behind the organizer's advance endpoint,
// for tournaments whose settled-match events were lost. It re-drives the
// propagation for every terminal match in the current round, then moves the
// cursor (or completes the tournament) if the round has fully settled. It
// reports whether the tournament moved. An unsettled round, or losing a
// cursor race to a concurrent settlement, counts as not moving, never as an
// error.
func (s *AdvancerService) TryAdvance(ctx context.Context, tournamentID int) (bool, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return false, mapTournamentRepoError(err)
	}
	if tournament.Status.IsTerminal() {
		return false, nil
	}

	round := tournament.RoundCursor
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID, repositories.ListMatchesFilter{Round: &round})
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if !m.Status.IsTerminal() {
			return false, nil
		}
	}

	if tournament.Format == models.FormatRoundRobin {
		if err := s.recomputeStandings(ctx, tournament); err != nil {
			return false, err
		}
	} else {
		for _, m := range matches {
			if err := s.propagate(ctx, m); err != nil {
				return false, err
			}
		}
	}

	if err := s.advance(ctx, tournamentID); err != nil {
		return false, err
	}

	after, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return false, mapTournamentRepoError(err)
	}
	return after.Status == models.StatusCompleted || after.RoundCursor > tournament.RoundCursor, nil
}

// propagate pushes the settled match's winner and loser into the slots its
// forward pointers name. A missing winner (voided match) or missing loser
// (bye, walkover) propagates as a bye.
func (s *AdvancerService) propagate(ctx context.Context, match *models.Match) error {
	if match.WinnerNextMatchID != nil && match.WinnerNextSlot != nil {
		if err := s.assignSlot(ctx, *match.WinnerNextMatchID, *match.WinnerNextSlot, match.WinnerParticipantID); err != nil {
			return fmt.Errorf("failed to route winner of match %d: %w", match.ID, err)
		}
	}
	if match.LoserNextMatchID != nil && match.LoserNextSlot != nil {
		if err := s.assignSlot(ctx, *match.LoserNextMatchID, *match.LoserNextSlot, match.LoserParticipantID()); err != nil {
			return fmt.Errorf("failed to route loser of match %d: %w", match.ID, err)
		}
	}
	return nil
}

// assignSlot fills one slot of the target match and recomputes its status.
// A nil participant marks the slot as a bye. When the fill makes the match
// decidable without play it settles as a walkover (or voids, if both feeds
// vanished), which re-enters the pipeline through the settled event.
func (s *AdvancerService) assignSlot(ctx context.Context, targetID, slot int, participantID *int) error {
	for attempt := 0; attempt < propagateMaxAttempts; attempt++ {
		target, err := s.matchRepo.GetByID(ctx, nil, targetID)
		if err != nil {
			return err
		}
		// Only a match still waiting on a feed accepts slot writes. Past
		// pending_slots both slots are resolved, so a re-delivered event must
		// not rewind a scheduled, reported, or settled match.
		if target.Status != models.MatchPendingSlots {
			return nil
		}

		switch slot {
		case 1:
			target.Slot1ParticipantID = participantID
			target.Slot1Bye = participantID == nil
		case 2:
			target.Slot2ParticipantID = participantID
			target.Slot2Bye = participantID == nil
		default:
			return fmt.Errorf("invalid target slot %d for match %d", slot, targetID)
		}

		slot1Ready := target.Slot1ParticipantID != nil || target.Slot1Bye
		slot2Ready := target.Slot2ParticipantID != nil || target.Slot2Bye

		target.Status = models.MatchPendingSlots
		if target.Slot1ParticipantID != nil && target.Slot2ParticipantID != nil {
			target.Status = models.MatchScheduled
		}

		err = s.matchRepo.UpdateSlots(ctx, nil, target)
		if errors.Is(err, repositories.ErrMatchVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if slot1Ready && slot2Ready && target.Status != models.MatchScheduled {
			// One real participant against a bye, or two byes.
			var walkoverWinner *int
			if target.Slot1ParticipantID != nil {
				walkoverWinner = target.Slot1ParticipantID
			} else if target.Slot2ParticipantID != nil {
				walkoverWinner = target.Slot2ParticipantID
			}
			return s.matchService.SettleWalkover(ctx, target.ID, walkoverWinner, "bye")
		}
		if target.Status == models.MatchScheduled {
			s.notifier.MatchReady(target.TournamentID, target)
		}
		return nil
	}
	return fmt.Errorf("gave up assigning slot %d of match %d: %w", slot, targetID, ErrStaleState)
}

// advance moves the round cursor over every fully settled round, then checks
// for completion. Exactly one racer wins each cursor move.
func (s *AdvancerService) advance(ctx context.Context, tournamentID int) error {
	for {
		tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		if tournament.Status.IsTerminal() {
			return nil
		}

		cursor := tournament.RoundCursor
		if cursor < 1 || cursor > tournament.TotalRounds {
			return nil
		}

		settled, err := s.roundSettled(ctx, tournamentID, cursor)
		if err != nil || !settled {
			return err
		}

		if cursor == tournament.TotalRounds {
			return s.complete(ctx, tournament)
		}

		err = s.tournamentRepo.AdvanceRoundCursor(ctx, nil, tournamentID, cursor, cursor+1)
		if errors.Is(err, repositories.ErrRoundCursorConflict) {
			metrics.AdvanceConflicts.Inc()
			return nil // a concurrent settlement advanced for us
		}
		if err != nil {
			return err
		}
		metrics.RoundsAdvanced.Inc()
		s.notifier.RoundAdvanced(tournamentID, cursor+1)
		s.logger.Info("round advanced",
			slog.Int("tournament_id", tournamentID),
			slog.Int("round", cursor+1))
		// The next round may consist entirely of byes settled at
		// generation; keep advancing until a round still has play left.
	}
}

func (s *AdvancerService) roundSettled(ctx context.Context, tournamentID, round int) (bool, error) {
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID, repositories.ListMatchesFilter{Round: &round})
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}
	for _, m := range matches {
		if !m.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

// complete finishes the tournament once every match is terminal. The status
// transition is guarded, so concurrent completions collapse to one.
func (s *AdvancerService) complete(ctx context.Context, tournament *models.Tournament) error {
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournament.ID, repositories.ListMatchesFilter{})
	if err != nil {
		return err
	}
	for _, m := range matches {
		if !m.Status.IsTerminal() {
			return nil
		}
	}

	winner, err := s.champion(ctx, tournament, matches)
	if err != nil {
		return err
	}

	err = s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.tournamentRepo.UpdateStatus(ctx, exec, tournament.ID, models.StatusInProgress, models.StatusCompleted); err != nil {
			return err
		}
		return s.tournamentRepo.SetWinner(ctx, exec, tournament.ID, winner)
	})
	if errors.Is(err, repositories.ErrTournamentStateConflict) {
		return nil // a concurrent settlement completed for us
	}
	if err != nil {
		return err
	}

	metrics.TournamentsCompleted.Inc()
	s.notifier.TournamentCompleted(tournament.ID, winner)
	s.logger.Info("tournament completed",
		slog.Int("tournament_id", tournament.ID),
		slog.Any("winner_participant_id", winner))

	if s.archiver != nil {
		if _, err := s.archiver.ArchiveBracket(ctx, tournament.ID); err != nil {
			s.logger.Error("failed to archive final bracket",
				slog.Int("tournament_id", tournament.ID), slog.Any("error", err))
		}
	}
	return nil
}

// champion derives the overall winner. Elimination formats take the final's
// winner (nil when the final was voided); round robin takes the top of the
// standings table.
func (s *AdvancerService) champion(ctx context.Context, tournament *models.Tournament, matches []*models.Match) (*int, error) {
	if tournament.Format == models.FormatRoundRobin {
		standings, err := s.standingRepo.ListByTournament(ctx, nil, tournament.ID)
		if err != nil {
			return nil, err
		}
		if len(standings) == 0 {
			return nil, nil
		}
		winner := standings[0].ParticipantID
		return &winner, nil
	}

	for _, m := range matches {
		if m.WinnerNextMatchID == nil && m.LoserNextMatchID == nil && m.Side != models.SideLosers {
			if m.Status == models.MatchConfirmed {
				return m.WinnerParticipantID, nil
			}
		}
	}
	return nil, nil
}

func (s *AdvancerService) recomputeStandings(ctx context.Context, tournament *models.Tournament) error {
	participants, err := s.participantRepo.ListByTournament(ctx, nil, tournament.ID, nil)
	if err != nil {
		return err
	}
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournament.ID, repositories.ListMatchesFilter{})
	if err != nil {
		return err
	}

	standings := computeStandings(participants, matches)
	return s.txManager.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		for _, row := range standings {
			if err := s.standingRepo.Upsert(ctx, exec, row); err != nil {
				return err
			}
		}
		return nil
	})
}
