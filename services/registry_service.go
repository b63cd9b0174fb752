package services

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
)

// RegistryService manages the participant roster: registration while the
// window is open, withdrawal at any point before the tournament ends, and
// seed assignment when the roster freezes at start.
type RegistryService struct {
	participantRepo repositories.ParticipantRepository
	tournamentRepo  repositories.TournamentRepository
	matchRepo       repositories.MatchRepository
	matchService    *MatchService
	txManager       repositories.TxManager
	logger          *slog.Logger
}

func NewRegistryService(
	participantRepo repositories.ParticipantRepository,
	tournamentRepo repositories.TournamentRepository,
	matchRepo repositories.MatchRepository,
	matchService *MatchService,
	txManager repositories.TxManager,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		participantRepo: participantRepo,
		tournamentRepo:  tournamentRepo,
		matchRepo:       matchRepo,
		matchService:    matchService,
		txManager:       txManager,
		logger:          logger,
	}
}

type RegisterParams struct {
	TournamentID int
	EntrantID    int
	Seed         *int // optional organizer-provided seed, used by rank seeding
}

// Register enrolls an entrant. Registration is only possible while the
// window is open and capacity remains.
func (s *RegistryService) Register(ctx context.Context, params RegisterParams) (*models.Participant, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, params.TournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	if tournament.Status != models.StatusRegistrationOpen {
		return nil, ErrRegistrationNotOpen
	}

	registered := models.ParticipantRegistered
	current, err := s.participantRepo.ListByTournament(ctx, nil, tournament.ID, &registered)
	if err != nil {
		return nil, err
	}
	if tournament.MaxParticipants > 0 && len(current) >= tournament.MaxParticipants {
		return nil, ErrTournamentFull
	}

	participant := &models.Participant{
		TournamentID: params.TournamentID,
		EntrantID:    params.EntrantID,
		Seed:         params.Seed,
		Status:       models.ParticipantRegistered,
	}
	if err := s.participantRepo.Create(ctx, nil, participant); err != nil {
		if errors.Is(err, repositories.ErrParticipantAlreadyRegistered) {
			return nil, ErrRegistrationConflict
		}
		return nil, err
	}
	return participant, nil
}

func (s *RegistryService) GetParticipant(ctx context.Context, id int) (*models.Participant, error) {
	p, err := s.participantRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *RegistryService) ListParticipants(ctx context.Context, tournamentID int) ([]*models.Participant, error) {
	return s.participantRepo.ListByTournament(ctx, nil, tournamentID, nil)
}

// Withdraw removes a participant from play. Before the bracket exists this
// is a roster edit; once the tournament runs, every open match the
// participant occupies settles as a walkover for the opponent, or turns the
// slot into a bye when no opponent has resolved yet.
func (s *RegistryService) Withdraw(ctx context.Context, tournamentID, participantID int) error {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return mapTournamentRepoError(err)
	}
	if tournament.Status.IsTerminal() {
		return ErrWithdrawNotAllowed
	}

	participant, err := s.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if participant.TournamentID != tournamentID {
		return ErrParticipantNotFound
	}

	// The mark commits first and is status-guarded, so a conflict means the
	// participant is already withdrawn. That is only an error when no work
	// remains: a prior attempt may have failed between the mark and the
	// walkover sweep, and retrying must be able to finish the sweep.
	alreadyWithdrawn := false
	if err := s.participantRepo.MarkWithdrawn(ctx, nil, participantID); err != nil {
		if !errors.Is(err, repositories.ErrParticipantStateConflict) {
			return err
		}
		alreadyWithdrawn = true
	}

	if tournament.Status != models.StatusInProgress {
		if alreadyWithdrawn {
			return ErrWithdrawNotAllowed
		}
		return nil
	}

	open, err := s.matchRepo.ListOpenByParticipant(ctx, nil, tournamentID, participantID)
	if err != nil {
		return err
	}
	if alreadyWithdrawn && len(open) == 0 {
		return ErrWithdrawNotAllowed
	}
	for _, match := range open {
		opponent := match.OpponentOf(participantID)
		if opponent != nil {
			if err := s.matchService.SettleWalkover(ctx, match.ID, opponent, "opponent withdrew"); err != nil {
				return err
			}
			continue
		}
		// No opponent resolved yet: the slot becomes a bye and the match
		// settles once (and however) the other feed arrives.
		if err := s.vacateSlot(ctx, match, participantID); err != nil {
			return err
		}
	}

	s.logger.Info("participant withdrew",
		slog.Int("tournament_id", tournamentID),
		slog.Int("participant_id", participantID),
		slog.Int("open_matches", len(open)))
	return nil
}

func (s *RegistryService) vacateSlot(ctx context.Context, match *models.Match, participantID int) error {
	for attempt := 0; attempt < propagateMaxAttempts; attempt++ {
		slot := match.SlotOf(participantID)
		if slot == 0 || match.Status.IsTerminal() {
			return nil
		}
		switch slot {
		case 1:
			match.Slot1ParticipantID = nil
			match.Slot1Bye = true
		case 2:
			match.Slot2ParticipantID = nil
			match.Slot2Bye = true
		}
		match.Status = models.MatchPendingSlots

		err := s.matchRepo.UpdateSlots(ctx, nil, match)
		if err == nil {
			// If the other slot was already a bye no feed will ever settle
			// this match; void it now so downstream slots learn their fate.
			slot1Ready := match.Slot1ParticipantID != nil || match.Slot1Bye
			slot2Ready := match.Slot2ParticipantID != nil || match.Slot2Bye
			if slot1Ready && slot2Ready {
				return s.matchService.SettleWalkover(ctx, match.ID, nil, "all entrants withdrew")
			}
			return nil
		}
		if !errors.Is(err, repositories.ErrMatchVersionConflict) {
			return err
		}
		fresh, readErr := s.matchRepo.GetByID(ctx, nil, match.ID)
		if readErr != nil {
			return readErr
		}
		match = fresh
	}
	return ErrStaleState
}

// assignSeeds freezes the roster order for bracket generation. Rank seeding
// keeps organizer-provided seeds and appends unseeded entrants after them;
// registration seeding uses enrollment order; random seeding shuffles.
func (s *RegistryService) assignSeeds(ctx context.Context, exec repositories.SQLExecutor, tournament *models.Tournament, participants []*models.Participant) error {
	ordered := make([]*models.Participant, len(participants))
	copy(ordered, participants)

	switch tournament.SeedingStrategy {
	case models.SeedingByRank:
		sort.SliceStable(ordered, func(i, j int) bool {
			si, sj := ordered[i].Seed, ordered[j].Seed
			switch {
			case si != nil && sj != nil && *si != *sj:
				return *si < *sj
			case si != nil && sj == nil:
				return true
			case si == nil && sj != nil:
				return false
			}
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		})
	case models.SeedingByRegistration:
		sort.SliceStable(ordered, func(i, j int) bool {
			if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
				return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
			}
			return ordered[i].ID < ordered[j].ID
		})
	case models.SeedingRandom:
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	default:
		return ErrInvalidSeedingStrategy
	}

	for i, p := range ordered {
		seed := i + 1
		if err := s.participantRepo.UpdateSeed(ctx, exec, p.ID, seed); err != nil {
			return err
		}
		p.Seed = &seed
	}
	return nil
}
