// Package ranking derives the live leaderboard from the answer ledger. The
// ranking is never stored; Compute is a pure, total-ordered function of
// current state, so two recomputations over the same state agree.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

// Standing is one player's raw material for the ranking: cumulative score
// plus the tie-break key, the time of their first correct answer in the
// session (nil when they have none yet).
type Standing struct {
	UserID         string
	Name           string
	Score          decimal.Decimal
	FirstCorrectAt *time.Time
}

type Store interface {
	ListStandings(ctx context.Context, triviaID string) ([]Standing, error)
}

type Config struct {
	Store    Store
	Catalog  *catalog.Service
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	store   Store
	catalog *catalog.Service
	eb      *event.Bus
	redis   redis.UniversalClient
	prefix  string
}

func NewService(c Config) *Service {
	s := &Service{
		store:   c.Store,
		catalog: c.Catalog,
		eb:      c.EventBus,
		redis:   c.Redis,
		prefix:  c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.OnScoreUpdated(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type ComputeRequest struct {
	TriviaID string
}

// Compute builds the ranking: score descending, ties broken by earliest
// first correct answer (players without one sort last), then by user ID so
// the order is fully deterministic. Positions are 1-based with no gaps.
func (s *Service) Compute(ctx context.Context, req ComputeRequest) (*domain.Ranking, error) {
	t, err := s.catalog.Trivia(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	standings, err := s.store.ListStandings(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	sortStandings(standings)

	r := &domain.Ranking{
		TriviaID: req.TriviaID,
		Status:   t.Status,
		Entries:  make([]domain.RankingEntry, 0, len(standings)),
	}

	for i, st := range standings {
		r.Entries = append(r.Entries, domain.RankingEntry{
			Position: i + 1,
			UserID:   st.UserID,
			Name:     st.Name,
			Score:    st.Score,
		})
	}

	return r, nil
}

func sortStandings(standings []Standing) {
	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]

		if c := a.Score.Cmp(b.Score); c != 0 {
			return c > 0
		}

		switch {
		case a.FirstCorrectAt != nil && b.FirstCorrectAt == nil:
			return true
		case a.FirstCorrectAt == nil && b.FirstCorrectAt != nil:
			return false
		case a.FirstCorrectAt != nil && b.FirstCorrectAt != nil && !a.FirstCorrectAt.Equal(*b.FirstCorrectAt):
			return a.FirstCorrectAt.Before(*b.FirstCorrectAt)
		}

		return a.UserID < b.UserID
	})
}

// OnScoreUpdated recomputes and publishes the ranking after a scoring
// event. Bursts are coalesced: a redis SetNX window keeps rapid scoring
// from publishing one ranking per answer.
func (s *Service) OnScoreUpdated(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	ok, err := s.redis.SetNX(ctx, s.throttleKey(sc.TriviaID), sc.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishRanking(ctx, sc)
}

func (s *Service) publishRanking(ctx context.Context, sc domain.Score) error {
	r, err := s.Compute(ctx, ComputeRequest{TriviaID: sc.TriviaID})
	if err != nil {
		return fmt.Errorf("compute ranking failed: trivia=%s: %w", sc.TriviaID, err)
	}

	s.eb.Publish(ctx, domain.EventRankingUpdated{Ranking: *r})

	return s.redis.Set(ctx, s.throttleKey(sc.TriviaID), sc.UpdateTime.UnixMilli(), publishInterval).Err()
}

func (s *Service) throttleKey(triviaID string) string {
	return fmt.Sprintf("%s:%s:ranking-publish", s.prefix, triviaID)
}
