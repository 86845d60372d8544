package ranking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListStandings(ctx context.Context, triviaID string) ([]Standing, error) {
	const stmt = `
SELECT p.user_id, u.name, p.score, MIN(a.answered_at) FILTER (WHERE a.is_correct) AS first_correct_at
FROM participations p
JOIN users u ON u.id = p.user_id
LEFT JOIN answers a ON a.trivia_id = p.trivia_id AND a.user_id = p.user_id
WHERE p.trivia_id = $1
GROUP BY p.user_id, u.name, p.score;`

	rows, err := s.db.Query(ctx, stmt, triviaID)
	if err != nil {
		return nil, fmt.Errorf("list standings: %w", err)
	}

	standings, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Standing, error) {
		var st Standing
		err := r.Scan(&st.UserID, &st.Name, &st.Score, &st.FirstCorrectAt)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("list standings: %w", err)
	}

	return standings, nil
}
