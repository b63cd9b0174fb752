package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bracketforge/tournament-engine/metrics"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
	"github.com/google/uuid"
)

// The creator call is the only unbounded-latency dependency in the request
// path, so it gets its own deadline.
const sessionCreateTimeout = 10 * time.Second

// SessionCreator provisions a playable game session for a match in whatever
// system actually hosts the games. Failures must leave no session behind.
type SessionCreator interface {
	CreateSession(ctx context.Context, match *models.Match) (string, error)
}

// LocalSessionCreator mints opaque session references in-process. It stands
// in for an external game service in single-binary deployments and tests.
type LocalSessionCreator struct{}

func (LocalSessionCreator) CreateSession(ctx context.Context, match *models.Match) (string, error) {
	return fmt.Sprintf("local-%s", uuid.NewString()), nil
}

// SessionService binds game sessions to matches exactly once. Binding is
// idempotent: rebinding a match returns the session it already has.
type SessionService struct {
	matchRepo repositories.MatchRepository
	creator   SessionCreator
	logger    *slog.Logger
}

func NewSessionService(matchRepo repositories.MatchRepository, creator SessionCreator, logger *slog.Logger) *SessionService {
	return &SessionService{
		matchRepo: matchRepo,
		creator:   creator,
		logger:    logger,
	}
}

// BindSession attaches a game session to a scheduled match. Only matches
// with two resolved participants are playable; byes and settled matches
// never get sessions.
func (s *SessionService) BindSession(ctx context.Context, matchID int) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}

	if match.SessionRef != nil {
		return match, nil
	}
	if match.Status != models.MatchScheduled {
		return nil, ErrMatchNotPlayable
	}
	if match.Slot1ParticipantID == nil || match.Slot2ParticipantID == nil {
		return nil, ErrMatchNotPlayable
	}

	createCtx, cancel := context.WithTimeout(ctx, sessionCreateTimeout)
	defer cancel()
	ref, err := s.creator.CreateSession(createCtx, match)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionService, err)
	}

	err = s.matchRepo.BindSession(ctx, nil, match.ID, match.Version, ref, time.Now())
	if err != nil {
		if errors.Is(err, repositories.ErrMatchVersionConflict) {
			// Someone else bound first; their session wins.
			fresh, readErr := s.matchRepo.GetByID(ctx, nil, match.ID)
			if readErr == nil && fresh.SessionRef != nil {
				return fresh, nil
			}
			return nil, ErrStaleState
		}
		return nil, err
	}

	metrics.SessionsBound.Inc()
	s.logger.Info("game session bound",
		slog.Int("match_id", match.ID),
		slog.String("session_ref", ref))

	return s.matchRepo.GetByID(ctx, nil, match.ID)
}
