package catalog

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
)

// PostgresStore reads authoring data from the shared postgres database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetTrivia(ctx context.Context, triviaID string) (*domain.Trivia, error) {
	const stmt = `
SELECT id, title, created_by_user_id, status, current_question_index, question_seconds,
       question_started_at, started_at, finished_at
FROM trivias
WHERE id = $1;`

	var t domain.Trivia
	err := s.db.QueryRow(ctx, stmt, triviaID).Scan(
		&t.TriviaID, &t.Title, &t.CreatedBy, &t.Status, &t.CurrentQuestionIndex,
		&t.QuestionSeconds, &t.QuestionStartedAt, &t.StartedAt, &t.FinishedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("trivia not found: %s", triviaID))
	}
	if err != nil {
		return nil, fmt.Errorf("get trivia: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) ListQuestionIDs(ctx context.Context, triviaID string) ([]string, error) {
	const stmt = `
SELECT question_id
FROM trivia_questions
WHERE trivia_id = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, triviaID)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}

	return ids, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID string) (*domain.Question, error) {
	const qStmt = `SELECT id, text, difficulty FROM questions WHERE id = $1;`

	var q domain.Question
	err := s.db.QueryRow(ctx, qStmt, questionID).Scan(&q.QuestionID, &q.QuestionText, &q.Difficulty)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %s", questionID))
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	const oStmt = `SELECT id, text, is_correct FROM options WHERE question_id = $1 ORDER BY id;`

	rows, err := s.db.Query(ctx, oStmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("get question options: %w", err)
	}

	q.Options, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Option, error) {
		var o domain.Option
		err := r.Scan(&o.OptionID, &o.OptionText, &o.Correct)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("get question options: %w", err)
	}

	return &q, nil
}

func (s *PostgresStore) GetUserNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	const stmt = `SELECT id, name FROM users WHERE id = ANY($1);`

	rows, err := s.db.Query(ctx, stmt, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get user names: %w", err)
	}

	names := make(map[string]string, len(userIDs))
	var id, name string
	if _, err := pgx.ForEachRow(rows, []any{&id, &name}, func() error {
		names[id] = name
		return nil
	}); err != nil {
		return nil, fmt.Errorf("get user names: %w", err)
	}

	return names, nil
}
