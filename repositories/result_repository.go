package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/lib/pq"
)

var (
	ErrResultNotFound     = errors.New("match result not found")
	ErrResultInvalidMatch = errors.New("result references an invalid match")
)

// ResultRepository is append-only: rows are inserted and confirmed, never
// updated in place or deleted. Dispute overrides append a new row.
type ResultRepository interface {
	Create(ctx context.Context, exec SQLExecutor, result *models.MatchResult) error
	GetLatestByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.MatchResult, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchResult, error)
	Confirm(ctx context.Context, exec SQLExecutor, id int, confirmedBy *int, confirmedAt time.Time) error
}

type postgresResultRepository struct {
	db *sql.DB
}

func NewPostgresResultRepository(db *sql.DB) ResultRepository {
	return &postgresResultRepository{db: db}
}

func (r *postgresResultRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const resultColumns = `
	id, match_id, kind, winner_slot, score, reported_by, reported_at,
	confirmed, confirmed_by, confirmed_at, reason, created_at`

func scanResult(scanner interface{ Scan(...interface{}) error }) (*models.MatchResult, error) {
	res := &models.MatchResult{}
	err := scanner.Scan(
		&res.ID, &res.MatchID, &res.Kind, &res.WinnerSlot, &res.Score,
		&res.ReportedBy, &res.ReportedAt,
		&res.Confirmed, &res.ConfirmedBy, &res.ConfirmedAt, &res.Reason, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *postgresResultRepository) Create(ctx context.Context, exec SQLExecutor, res *models.MatchResult) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO match_results (
			match_id, kind, winner_slot, score, reported_by, reported_at,
			confirmed, confirmed_by, confirmed_at, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		res.MatchID, res.Kind, res.WinnerSlot, res.Score, res.ReportedBy, res.ReportedAt,
		res.Confirmed, res.ConfirmedBy, res.ConfirmedAt, res.Reason,
	).Scan(&res.ID, &res.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrResultInvalidMatch
		}
		return err
	}
	return nil
}

func (r *postgresResultRepository) GetLatestByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.MatchResult, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + resultColumns + `
		FROM match_results
		WHERE match_id = $1
		ORDER BY id DESC
		LIMIT 1`

	res, err := scanResult(executor.QueryRowContext(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return res, nil
}

func (r *postgresResultRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchResult, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + resultColumns + `
		FROM match_results
		WHERE match_id = $1
		ORDER BY id`

	rows, err := executor.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*models.MatchResult, 0)
	for rows.Next() {
		res, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, res)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *postgresResultRepository) Confirm(ctx context.Context, exec SQLExecutor, id int, confirmedBy *int, confirmedAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE match_results SET
			confirmed = TRUE,
			confirmed_by = $1,
			confirmed_at = $2
		WHERE id = $3 AND confirmed = FALSE`

	result, err := executor.ExecContext(ctx, query, confirmedBy, confirmedAt, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrResultNotFound)
}
