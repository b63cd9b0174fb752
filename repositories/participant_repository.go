package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/lib/pq"
)

var (
	ErrParticipantNotFound          = errors.New("participant not found")
	ErrParticipantAlreadyRegistered = errors.New("entrant is already registered in this tournament")
	ErrParticipantInvalidTournament = errors.New("participant references an invalid tournament")
	ErrParticipantStateConflict     = errors.New("participant is no longer in the expected state")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, participant *models.Participant) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Participant, error)
	GetByEntrant(ctx context.Context, exec SQLExecutor, tournamentID, entrantID int) (*models.Participant, error)

	// ListByTournament returns participants ordered by seed (nulls last),
	// then registration order. Pass nil status to list all.
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, status *models.ParticipantStatus) ([]*models.Participant, error)

	UpdateSeed(ctx context.Context, exec SQLExecutor, id int, seed int) error

	// MarkWithdrawn flips a registered participant to withdrawn; a second
	// withdrawal returns ErrParticipantStateConflict.
	MarkWithdrawn(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO participants (tournament_id, entrant_id, seed, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		p.TournamentID, p.EntrantID, p.Seed, p.Status,
	).Scan(&p.ID, &p.CreatedAt)

	return r.handleParticipantError(err)
}

func (r *postgresParticipantRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, entrant_id, seed, status, created_at
		FROM participants
		WHERE id = $1`

	p := &models.Participant{}
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.TournamentID, &p.EntrantID, &p.Seed, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *postgresParticipantRepository) GetByEntrant(ctx context.Context, exec SQLExecutor, tournamentID, entrantID int) (*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, entrant_id, seed, status, created_at
		FROM participants
		WHERE tournament_id = $1 AND entrant_id = $2`

	p := &models.Participant{}
	err := executor.QueryRowContext(ctx, query, tournamentID, entrantID).Scan(
		&p.ID, &p.TournamentID, &p.EntrantID, &p.Seed, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *postgresParticipantRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, status *models.ParticipantStatus) ([]*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, tournament_id, entrant_id, seed, status, created_at
		FROM participants
		WHERE tournament_id = $1`
	args := []interface{}{tournamentID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY seed NULLS LAST, created_at, id`

	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]*models.Participant, 0)
	for rows.Next() {
		p := &models.Participant{}
		if scanErr := rows.Scan(
			&p.ID, &p.TournamentID, &p.EntrantID, &p.Seed, &p.Status, &p.CreatedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *postgresParticipantRepository) UpdateSeed(ctx context.Context, exec SQLExecutor, id int, seed int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE participants SET seed = $1 WHERE id = $2`
	result, err := executor.ExecContext(ctx, query, seed, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresParticipantRepository) MarkWithdrawn(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE participants SET status = $1 WHERE id = $2 AND status = $3`
	result, err := executor.ExecContext(ctx, query, models.ParticipantWithdrawn, id, models.ParticipantRegistered)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrParticipantStateConflict)
}

func (r *postgresParticipantRepository) handleParticipantError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			if pqErr.Constraint == "participants_tournament_id_entrant_id_key" {
				return ErrParticipantAlreadyRegistered
			}
		case "23503":
			if pqErr.Constraint == "participants_tournament_id_fkey" {
				return ErrParticipantInvalidTournament
			}
		}
	}
	return err
}
