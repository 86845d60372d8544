package presence

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const participationColumns = `trivia_id, user_id, assigned_at, joined_at, ready_at, last_seen_at, score`

func (s *PostgresStore) Get(ctx context.Context, triviaID, userID string) (*domain.Participation, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM participations WHERE trivia_id = $1 AND user_id = $2;`, participationColumns)

	var p domain.Participation
	err := s.db.QueryRow(ctx, stmt, triviaID, userID).Scan(
		&p.TriviaID, &p.UserID, &p.AssignedAt, &p.JoinedAt, &p.ReadyAt, &p.LastSeenAt, &p.Score,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participation not found: trivia=%s user=%s", triviaID, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("get participation: %w", err)
	}

	return &p, nil
}

func (s *PostgresStore) List(ctx context.Context, triviaID string) ([]domain.Participation, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM participations WHERE trivia_id = $1;`, participationColumns)

	rows, err := s.db.Query(ctx, stmt, triviaID)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}

	parts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Participation, error) {
		var p domain.Participation
		err := r.Scan(&p.TriviaID, &p.UserID, &p.AssignedAt, &p.JoinedAt, &p.ReadyAt, &p.LastSeenAt, &p.Score)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}

	return parts, nil
}

func (s *PostgresStore) MarkJoined(ctx context.Context, triviaID, userID string, at time.Time) error {
	// COALESCE keeps the first join time on replays.
	const stmt = `
UPDATE participations
SET joined_at = COALESCE(joined_at, $3), last_seen_at = $3
WHERE trivia_id = $1 AND user_id = $2;`

	return s.exec(ctx, stmt, triviaID, userID, at)
}

func (s *PostgresStore) MarkReady(ctx context.Context, triviaID, userID string, at time.Time) error {
	const stmt = `
UPDATE participations
SET ready_at = COALESCE(ready_at, $3)
WHERE trivia_id = $1 AND user_id = $2;`

	return s.exec(ctx, stmt, triviaID, userID, at)
}

func (s *PostgresStore) Touch(ctx context.Context, triviaID, userID string, at time.Time) error {
	const stmt = `
UPDATE participations
SET last_seen_at = $3
WHERE trivia_id = $1 AND user_id = $2;`

	return s.exec(ctx, stmt, triviaID, userID, at)
}

func (s *PostgresStore) exec(ctx context.Context, stmt, triviaID, userID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, stmt, triviaID, userID, at)
	if err != nil {
		return fmt.Errorf("update participation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("participation not found: trivia=%s user=%s", triviaID, userID))
	}

	return nil
}
