package lifeline

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

func (s *PostgresStore) Get(ctx context.Context, triviaID, questionID, userID string) (*domain.LifelineUse, error) {
	const stmt = `
SELECT trivia_id, question_id, user_id, eliminated_option_a, eliminated_option_b, used_at
FROM lifeline_uses
WHERE trivia_id = $1 AND question_id = $2 AND user_id = $3;`

	var (
		u    domain.LifelineUse
		a, b string
	)
	err := s.db.QueryRow(ctx, stmt, triviaID, questionID, userID).Scan(
		&u.TriviaID, &u.QuestionID, &u.UserID, &a, &b, &u.UsedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("lifeline use not found: trivia=%s question=%s user=%s", triviaID, questionID, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("get lifeline use: %w", err)
	}

	u.EliminatedOptionIDs = []string{a, b}
	return &u, nil
}

func (s *PostgresStore) Insert(ctx context.Context, u *domain.LifelineUse) error {
	if len(u.EliminatedOptionIDs) != 2 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("fifty-fifty eliminates exactly 2 options, got %d", len(u.EliminatedOptionIDs)))
	}

	const stmt = `
INSERT INTO lifeline_uses (trivia_id, question_id, user_id, eliminated_option_a, eliminated_option_b, used_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt,
		u.TriviaID, u.QuestionID, u.UserID, u.EliminatedOptionIDs[0], u.EliminatedOptionIDs[1], u.UsedAt)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert lifeline use: %w", err)
	}

	return nil
}

func (s *PostgresStore) Assigned(ctx context.Context, triviaID, userID string) (bool, error) {
	const stmt = `SELECT EXISTS (SELECT 1 FROM participations WHERE trivia_id = $1 AND user_id = $2);`

	var ok bool
	if err := s.db.QueryRow(ctx, stmt, triviaID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}

	return ok, nil
}

func (s *PostgresStore) Answered(ctx context.Context, triviaID, questionID, userID string) (bool, error) {
	const stmt = `SELECT EXISTS (SELECT 1 FROM answers WHERE trivia_id = $1 AND question_id = $2 AND user_id = $3);`

	var ok bool
	if err := s.db.QueryRow(ctx, stmt, triviaID, questionID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check answered: %w", err)
	}

	return ok, nil
}
