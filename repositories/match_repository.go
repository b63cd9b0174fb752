package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bracketforge/tournament-engine/models"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrMatchVersionConflict    = errors.New("match was modified concurrently")
	ErrMatchInvalidTournament  = errors.New("match references an invalid tournament")
	ErrMatchInvalidParticipant = errors.New("match references an invalid participant")
)

type ListMatchesFilter struct {
	Round  *int
	Status *models.MatchStatus
	Side   *models.BracketSide
}

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, filter ListMatchesFilter) ([]*models.Match, error)

	// ListOpenByParticipant returns non-terminal matches in which the
	// participant occupies a slot.
	ListOpenByParticipant(ctx context.Context, exec SQLExecutor, tournamentID, participantID int) ([]*models.Match, error)

	// UpdateNextMatchInfo wires the forward pointers after all bracket rows
	// exist. Pointers are immutable once set; this runs only at generation.
	UpdateNextMatchInfo(ctx context.Context, exec SQLExecutor, id int, winnerNextID, winnerNextSlot, loserNextID, loserNextSlot *int) error

	// UpdateSlots rewrites both slots and the status, guarded by the
	// optimistic version. Zero rows means a concurrent writer won.
	UpdateSlots(ctx context.Context, exec SQLExecutor, m *models.Match) error

	// UpdateState records a status transition together with the winner and
	// score it carries, guarded by the optimistic version.
	UpdateState(ctx context.Context, exec SQLExecutor, id, expectedVersion int, status models.MatchStatus, winnerParticipantID *int, score *string) error

	// BindSession attaches a game session exactly once: the guard requires
	// session_ref to still be NULL.
	BindSession(ctx context.Context, exec SQLExecutor, id, expectedVersion int, sessionRef string, boundAt time.Time) error

	// ListAwaitingConfirmationBefore returns matches that entered
	// awaiting_confirmation at or before the cutoff, for the sweeper.
	ListAwaitingConfirmationBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `
	id, tournament_id, side, round, order_in_round,
	slot1_participant_id, slot2_participant_id, slot1_bye, slot2_bye,
	status, version, winner_participant_id, score,
	winner_next_match_id, winner_next_slot, loser_next_match_id, loser_next_slot,
	session_ref, session_bound_at, created_at`

func scanMatch(scanner interface{ Scan(...interface{}) error }) (*models.Match, error) {
	m := &models.Match{}
	err := scanner.Scan(
		&m.ID, &m.TournamentID, &m.Side, &m.Round, &m.OrderInRound,
		&m.Slot1ParticipantID, &m.Slot2ParticipantID, &m.Slot1Bye, &m.Slot2Bye,
		&m.Status, &m.Version, &m.WinnerParticipantID, &m.Score,
		&m.WinnerNextMatchID, &m.WinnerNextSlot, &m.LoserNextMatchID, &m.LoserNextSlot,
		&m.SessionRef, &m.SessionBoundAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO matches (
			tournament_id, side, round, order_in_round,
			slot1_participant_id, slot2_participant_id, slot1_bye, slot2_bye,
			status, winner_participant_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, version, created_at`

	err := executor.QueryRowContext(ctx, query,
		m.TournamentID, m.Side, m.Round, m.OrderInRound,
		m.Slot1ParticipantID, m.Slot2ParticipantID, m.Slot1Bye, m.Slot2Bye,
		m.Status, m.WinnerParticipantID,
	).Scan(&m.ID, &m.Version, &m.CreatedAt)

	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + ` FROM matches WHERE id = $1`

	m, err := scanMatch(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, filter ListMatchesFilter) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1`
	args := []interface{}{tournamentID}
	argID := 2

	if filter.Round != nil {
		query += fmt.Sprintf(" AND round = $%d", argID)
		args = append(args, *filter.Round)
		argID++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.Side != nil {
		query += fmt.Sprintf(" AND side = $%d", argID)
		args = append(args, *filter.Side)
	}

	query += " ORDER BY round, order_in_round, id"

	return r.queryMatches(ctx, executor, query, args...)
}

func (r *postgresMatchRepository) ListOpenByParticipant(ctx context.Context, exec SQLExecutor, tournamentID, participantID int) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + `
		FROM matches
		WHERE tournament_id = $1
		  AND (slot1_participant_id = $2 OR slot2_participant_id = $2)
		  AND status NOT IN ($3, $4)
		ORDER BY round, order_in_round, id`

	return r.queryMatches(ctx, executor, query,
		tournamentID, participantID, models.MatchConfirmed, models.MatchVoided)
}

func (r *postgresMatchRepository) queryMatches(ctx context.Context, executor SQLExecutor, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *postgresMatchRepository) UpdateNextMatchInfo(ctx context.Context, exec SQLExecutor, id int, winnerNextID, winnerNextSlot, loserNextID, loserNextSlot *int) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches SET
			winner_next_match_id = $1,
			winner_next_slot = $2,
			loser_next_match_id = $3,
			loser_next_slot = $4,
			updated_at = now()
		WHERE id = $5`
	result, err := executor.ExecContext(ctx, query,
		winnerNextID, winnerNextSlot, loserNextID, loserNextSlot, id)
	if err != nil {
		return r.handleMatchError(err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) UpdateSlots(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches SET
			slot1_participant_id = $1,
			slot2_participant_id = $2,
			slot1_bye = $3,
			slot2_bye = $4,
			status = $5,
			winner_participant_id = $6,
			version = version + 1,
			updated_at = now()
		WHERE id = $7 AND version = $8`

	result, err := executor.ExecContext(ctx, query,
		m.Slot1ParticipantID, m.Slot2ParticipantID, m.Slot1Bye, m.Slot2Bye,
		m.Status, m.WinnerParticipantID,
		m.ID, m.Version,
	)
	if err != nil {
		return r.handleMatchError(err)
	}
	if err := checkAffectedRows(result, ErrMatchVersionConflict); err != nil {
		return err
	}
	m.Version++
	return nil
}

func (r *postgresMatchRepository) UpdateState(ctx context.Context, exec SQLExecutor, id, expectedVersion int, status models.MatchStatus, winnerParticipantID *int, score *string) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches SET
			status = $1,
			winner_participant_id = $2,
			score = $3,
			version = version + 1,
			updated_at = now()
		WHERE id = $4 AND version = $5`

	result, err := executor.ExecContext(ctx, query,
		status, winnerParticipantID, score, id, expectedVersion)
	if err != nil {
		return r.handleMatchError(err)
	}
	return checkAffectedRows(result, ErrMatchVersionConflict)
}

func (r *postgresMatchRepository) BindSession(ctx context.Context, exec SQLExecutor, id, expectedVersion int, sessionRef string, boundAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches SET
			session_ref = $1,
			session_bound_at = $2,
			version = version + 1,
			updated_at = now()
		WHERE id = $3 AND version = $4 AND session_ref IS NULL`

	result, err := executor.ExecContext(ctx, query, sessionRef, boundAt, id, expectedVersion)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchVersionConflict)
}

func (r *postgresMatchRepository) ListAwaitingConfirmationBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + matchColumns + `
		FROM matches
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at, id`

	return r.queryMatches(ctx, executor, query, models.MatchAwaitingConfirmation, cutoff)
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
		switch pqErr.Constraint {
		case "matches_tournament_id_fkey":
			return ErrMatchInvalidTournament
		case "matches_slot1_participant_id_fkey", "matches_slot2_participant_id_fkey",
			"matches_winner_participant_id_fkey":
			return ErrMatchInvalidParticipant
		}
	}
	return err
}
