package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound      = errors.New("tournament not found")
	ErrTournamentNameConflict  = errors.New("tournament name conflict for this organizer")
	ErrTournamentStateConflict = errors.New("tournament is no longer in the expected state")
	ErrRoundCursorConflict     = errors.New("round cursor moved concurrently")
)

type ListTournamentsFilter struct {
	OrganizerID *int
	Status      *models.TournamentStatus
	Format      *models.TournamentFormat
	Limit       int
	Offset      int
}

type TournamentRepository interface {
	Create(ctx context.Context, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)

	// UpdateStatus transitions status only when the row still holds
	// fromStatus; a lost race returns ErrTournamentStateConflict.
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, fromStatus, toStatus models.TournamentStatus) error

	// AdvanceRoundCursor moves the cursor from fromRound to toRound. Exactly
	// one caller wins when several race; the rest get ErrRoundCursorConflict.
	AdvanceRoundCursor(ctx context.Context, exec SQLExecutor, id int, fromRound, toRound int) error

	SetTotalRounds(ctx context.Context, exec SQLExecutor, id int, totalRounds int) error
	SetWinner(ctx context.Context, exec SQLExecutor, id int, winnerParticipantID *int) error
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const tournamentColumns = `
	id, name, description, organizer_id, format, seeding_strategy,
	auto_confirm, min_participants, max_participants, status,
	round_cursor, total_rounds, winner_participant_id, created_at`

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	executor := r.getExecutor(nil)
	query := `
		INSERT INTO tournaments (
			name, description, organizer_id, format, seeding_strategy,
			auto_confirm, min_participants, max_participants, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, round_cursor, total_rounds, created_at`

	err := executor.QueryRowContext(ctx, query,
		t.Name, t.Description, t.OrganizerID, t.Format, t.SeedingStrategy,
		t.AutoConfirm, t.MinParticipants, t.MaxParticipants, t.Status,
	).Scan(&t.ID, &t.RoundCursor, &t.TotalRounds, &t.CreatedAt)

	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1`

	t := &models.Tournament{}
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Description, &t.OrganizerID, &t.Format, &t.SeedingStrategy,
		&t.AutoConfirm, &t.MinParticipants, &t.MaxParticipants, &t.Status,
		&t.RoundCursor, &t.TotalRounds, &t.WinnerParticipantID, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	executor := r.getExecutor(nil)
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.OrganizerID != nil {
		query += fmt.Sprintf(" AND organizer_id = $%d", argID)
		args = append(args, *filter.OrganizerID)
		argID++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.Format != nil {
		query += fmt.Sprintf(" AND format = $%d", argID)
		args = append(args, *filter.Format)
		argID++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		var t models.Tournament
		if scanErr := rows.Scan(
			&t.ID, &t.Name, &t.Description, &t.OrganizerID, &t.Format, &t.SeedingStrategy,
			&t.AutoConfirm, &t.MinParticipants, &t.MaxParticipants, &t.Status,
			&t.RoundCursor, &t.TotalRounds, &t.WinnerParticipantID, &t.CreatedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		tournaments = append(tournaments, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, fromStatus, toStatus models.TournamentStatus) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET status = $1 WHERE id = $2 AND status = $3`
	result, err := executor.ExecContext(ctx, query, toStatus, id, fromStatus)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentStateConflict)
}

func (r *postgresTournamentRepository) AdvanceRoundCursor(ctx context.Context, exec SQLExecutor, id int, fromRound, toRound int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET round_cursor = $1 WHERE id = $2 AND round_cursor = $3`
	result, err := executor.ExecContext(ctx, query, toRound, id, fromRound)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrRoundCursorConflict)
}

func (r *postgresTournamentRepository) SetTotalRounds(ctx context.Context, exec SQLExecutor, id int, totalRounds int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET total_rounds = $1 WHERE id = $2`
	result, err := executor.ExecContext(ctx, query, totalRounds, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) SetWinner(ctx context.Context, exec SQLExecutor, id int, winnerParticipantID *int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET winner_participant_id = $1 WHERE id = $2`
	result, err := executor.ExecContext(ctx, query, winnerParticipantID, id)
	if err != nil {
		return fmt.Errorf("failed to set tournament winner for tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		if pqErr.Code == "23505" && pqErr.Constraint == "tournaments_organizer_id_name_key" {
			return ErrTournamentNameConflict
		}
	}
	return err
}
