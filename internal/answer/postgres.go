package answer

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, triviaID, questionID, userID string) (*domain.Answer, error) {
	const stmt = `
SELECT trivia_id, question_id, user_id, selected_option_id, is_correct, earned_points, answered_at
FROM answers
WHERE trivia_id = $1 AND question_id = $2 AND user_id = $3;`

	var a domain.Answer
	err := s.db.QueryRow(ctx, stmt, triviaID, questionID, userID).Scan(
		&a.TriviaID, &a.QuestionID, &a.UserID, &a.SelectedOptionID, &a.Correct, &a.EarnedPoints, &a.AnsweredAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("answer not found: trivia=%s question=%s user=%s", triviaID, questionID, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}

	return &a, nil
}

// Insert writes the answer row and the score delta in one transaction.
// The primary key on (trivia_id, question_id, user_id) is the concurrency
// guard: a losing racer surfaces as CodeAlreadyExists.
func (s *PostgresStore) Insert(ctx context.Context, a *domain.Answer) (total decimal.Decimal, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insStmt = `
INSERT INTO answers (trivia_id, question_id, user_id, selected_option_id, is_correct, earned_points, answered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err = tx.Exec(ctx, insStmt,
		a.TriviaID, a.QuestionID, a.UserID, a.SelectedOptionID, a.Correct, a.EarnedPoints, a.AnsweredAt)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return decimal.Zero, errors.New(errors.CodeAlreadyExists,
			errors.WithCause(err))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("insert answer: %w", err)
	}

	const scoreStmt = `
UPDATE participations
SET score = score + $3
WHERE trivia_id = $1 AND user_id = $2
RETURNING score;`

	err = tx.QueryRow(ctx, scoreStmt, a.TriviaID, a.UserID, a.EarnedPoints).Scan(&total)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participation not found: trivia=%s user=%s", a.TriviaID, a.UserID))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("update score: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) TotalScore(ctx context.Context, triviaID, userID string) (decimal.Decimal, error) {
	const stmt = `SELECT score FROM participations WHERE trivia_id = $1 AND user_id = $2;`

	var total decimal.Decimal
	err := s.db.QueryRow(ctx, stmt, triviaID, userID).Scan(&total)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participation not found: trivia=%s user=%s", triviaID, userID))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get total score: %w", err)
	}

	return total, nil
}
