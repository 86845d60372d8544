package game

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the lifecycle transitions as conditional
// updates; the WHERE clause carries the expected prior state, so exactly
// one of any set of racing callers observes RowsAffected == 1.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) OpenLobby(ctx context.Context, triviaID string) (bool, error) {
	const stmt = `
UPDATE trivias
SET status = 'LOBBY'
WHERE id = $1 AND status = 'DRAFT';`

	tag, err := s.db.Exec(ctx, stmt, triviaID)
	if err != nil {
		return false, fmt.Errorf("open lobby: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, triviaID string, at time.Time) (bool, error) {
	const stmt = `
UPDATE trivias
SET status = 'IN_PROGRESS', current_question_index = 0, question_started_at = $2, started_at = $2
WHERE id = $1 AND status IN ('DRAFT', 'LOBBY');`

	tag, err := s.db.Exec(ctx, stmt, triviaID, at)
	if err != nil {
		return false, fmt.Errorf("start run: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AdvanceQuestion(ctx context.Context, triviaID string, fromIndex int, at time.Time) (bool, error) {
	const stmt = `
UPDATE trivias
SET current_question_index = current_question_index + 1, question_started_at = $3
WHERE id = $1 AND status = 'IN_PROGRESS' AND current_question_index = $2;`

	tag, err := s.db.Exec(ctx, stmt, triviaID, fromIndex, at)
	if err != nil {
		return false, fmt.Errorf("advance question: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, triviaID string, fromIndex int, at time.Time) (bool, error) {
	const stmt = `
UPDATE trivias
SET status = 'FINISHED', question_started_at = NULL, finished_at = $3
WHERE id = $1 AND status = 'IN_PROGRESS' AND current_question_index = $2;`

	tag, err := s.db.Exec(ctx, stmt, triviaID, fromIndex, at)
	if err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
