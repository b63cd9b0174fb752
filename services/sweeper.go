package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/bracketforge/tournament-engine/repositories"
)

// ConfirmationSweeper auto-confirms reported results whose confirmation
// window elapsed without the opponent responding. It runs as a background
// loop next to the HTTP server.
type ConfirmationSweeper struct {
	matchRepo    repositories.MatchRepository
	matchService *MatchService
	timeout      time.Duration
	interval     time.Duration
	logger       *slog.Logger
}

func NewConfirmationSweeper(
	matchRepo repositories.MatchRepository,
	matchService *MatchService,
	timeout, interval time.Duration,
	logger *slog.Logger,
) *ConfirmationSweeper {
	return &ConfirmationSweeper{
		matchRepo:    matchRepo,
		matchService: matchService,
		timeout:      timeout,
		interval:     interval,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *ConfirmationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("confirmation sweeper started",
		slog.Duration("timeout", s.timeout),
		slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("confirmation sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("confirmation sweep failed", slog.Any("error", err))
			}
		}
	}
}

// SweepOnce confirms every result whose window expired. Individual failures
// are logged and skipped so one stuck match cannot block the rest.
func (s *ConfirmationSweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.timeout)
	expired, err := s.matchRepo.ListAwaitingConfirmationBefore(ctx, nil, cutoff)
	if err != nil {
		return err
	}

	for _, match := range expired {
		if err := s.matchService.ConfirmExpired(ctx, match.ID); err != nil {
			s.logger.Error("failed to auto-confirm expired result",
				slog.Int("match_id", match.ID),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("result auto-confirmed after timeout",
			slog.Int("match_id", match.ID),
			slog.Int("tournament_id", match.TournamentID))
	}
	return nil
}
