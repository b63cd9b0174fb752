package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bracketforge/tournament-engine/models"
)

var ErrStandingNotFound = errors.New("standing not found")

type StandingRepository interface {
	// Upsert writes one standings row keyed by (tournament, participant).
	Upsert(ctx context.Context, exec SQLExecutor, standing *models.TournamentStanding) error
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.TournamentStanding, error)
}

type postgresStandingRepository struct {
	db *sql.DB
}

func NewPostgresStandingRepository(db *sql.DB) StandingRepository {
	return &postgresStandingRepository{db: db}
}

func (r *postgresStandingRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresStandingRepository) Upsert(ctx context.Context, exec SQLExecutor, s *models.TournamentStanding) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO standings (
			tournament_id, participant_id, games_played, wins, losses, points, rank, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tournament_id, participant_id) DO UPDATE SET
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			points = EXCLUDED.points,
			rank = EXCLUDED.rank,
			updated_at = now()
		RETURNING id, updated_at`

	return executor.QueryRowContext(ctx, query,
		s.TournamentID, s.ParticipantID, s.GamesPlayed, s.Wins, s.Losses, s.Points, s.Rank,
	).Scan(&s.ID, &s.UpdatedAt)
}

func (r *postgresStandingRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.TournamentStanding, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, participant_id, games_played, wins, losses, points, rank, updated_at
		FROM standings
		WHERE tournament_id = $1
		ORDER BY rank, participant_id`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	standings := make([]*models.TournamentStanding, 0)
	for rows.Next() {
		s := &models.TournamentStanding{}
		if scanErr := rows.Scan(
			&s.ID, &s.TournamentID, &s.ParticipantID,
			&s.GamesPlayed, &s.Wins, &s.Losses, &s.Points, &s.Rank, &s.UpdatedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		standings = append(standings, s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return standings, nil
}
