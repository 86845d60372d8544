package lifeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
	"github.com/Tekorita/talatrivia/internal/event"
	"github.com/Tekorita/talatrivia/internal/game"
	"github.com/Tekorita/talatrivia/internal/lifeline"
)

func TestService_UseFiftyFifty(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	resp, err := f.svc.UseFiftyFifty(ctx, lifeline.UseFiftyFiftyRequest{
		TriviaID: "t1", UserID: "u1", QuestionID: "q0",
	})
	require.NoError(t, err)
	require.False(t, resp.AlreadyUsed)
	require.Len(t, resp.AllowedOptions, 2)
	require.Len(t, resp.EliminatedOptionIDs, 2)

	// The correct option always survives.
	ids := []string{resp.AllowedOptions[0].OptionID, resp.AllowedOptions[1].OptionID}
	require.Contains(t, ids, "q0-b")
	require.NotContains(t, resp.EliminatedOptionIDs, "q0-b")

	// The replay echoes the originally eliminated pair.
	again, err := f.svc.UseFiftyFifty(ctx, lifeline.UseFiftyFiftyRequest{
		TriviaID: "t1", UserID: "u1", QuestionID: "q0",
	})
	require.NoError(t, err)
	require.True(t, again.AlreadyUsed)
	require.Equal(t, resp.EliminatedOptionIDs, again.EliminatedOptionIDs)
	require.Equal(t, resp.AllowedOptions, again.AllowedOptions)
}

func TestService_UseFiftyFifty_CorrectOptionAlwaysSurvives(t *testing.T) {
	t.Parallel()

	// The kept incorrect option is random, so exercise many users.
	f := makeFixture(t, withAssigned("u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"))
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
		resp, err := f.svc.UseFiftyFifty(ctx, lifeline.UseFiftyFiftyRequest{
			TriviaID: "t1", UserID: u, QuestionID: "q0",
		})
		require.NoError(t, err)
		require.NotContains(t, resp.EliminatedOptionIDs, "q0-b", "user %s", u)
	}
}

func TestService_UseFiftyFifty_Preconditions(t *testing.T) {
	type (
		inputs struct {
			userID     string
			questionID string
			answered   bool
			advance    time.Duration
		}

		outputs struct {
			err error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a non-current question should be rejected as closed": {
			arrange: func() inputs {
				return inputs{userID: "u1", questionID: "q1"}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonQuestionClosed, errors.Reason(out.err))
			},
		},

		"an expired window should be rejected as closed": {
			arrange: func() inputs {
				return inputs{userID: "u1", questionID: "q0", advance: 11 * time.Second}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonQuestionClosed, errors.Reason(out.err))
			},
		},

		"an unassigned player should be rejected": {
			arrange: func() inputs {
				return inputs{userID: "intruder", questionID: "q0"}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonNotAssigned, errors.Reason(out.err))
			},
		},

		"a player who already answered should be rejected": {
			arrange: func() inputs {
				return inputs{userID: "u1", questionID: "q0", answered: true}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonAlreadyAnswered, errors.Reason(out.err))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			f := makeFixture(t)
			f.clock.Advance(in.advance)
			if in.answered {
				f.uses.markAnswered("t1", in.questionID, in.userID)
			}

			var out outputs
			_, out.err = f.svc.UseFiftyFifty(context.Background(), lifeline.UseFiftyFiftyRequest{
				TriviaID:   "t1",
				UserID:     in.userID,
				QuestionID: in.questionID,
			})

			tt.assert(t, out)
		})
	}
}

func TestService_UseFiftyFifty_ConcurrentUsesAgree(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	const callers = 8

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		pairs [][]string
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := f.svc.UseFiftyFifty(ctx, lifeline.UseFiftyFiftyRequest{
				TriviaID: "t1", UserID: "u1", QuestionID: "q0",
			})
			require.NoError(t, err)

			mu.Lock()
			pairs = append(pairs, resp.EliminatedOptionIDs)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every caller, winner or replayer, sees the same eliminated pair.
	for _, p := range pairs {
		require.Equal(t, pairs[0], p)
	}
}

func TestService_Available(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	ok, err := f.svc.Available(ctx, "t1", "q0", "u1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.UseFiftyFifty(ctx, lifeline.UseFiftyFiftyRequest{
		TriviaID: "t1", UserID: "u1", QuestionID: "q0",
	})
	require.NoError(t, err)

	ok, err = f.svc.Available(ctx, "t1", "q0", "u1")
	require.NoError(t, err)
	require.False(t, ok)

	// Per question, not per trivia: q1 is still available.
	ok, err = f.svc.Available(ctx, "t1", "q1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
}

// questionState serves catalog reads for a fixed in-progress trivia.
type questionState struct {
	t  domain.Trivia
	qs map[string]*domain.Question
}

func (s *questionState) GetTrivia(_ context.Context, triviaID string) (*domain.Trivia, error) {
	if s.t.TriviaID != triviaID {
		return nil, errors.New(errors.CodeNotFound)
	}
	cp := s.t
	return &cp, nil
}

func (s *questionState) ListQuestionIDs(context.Context, string) ([]string, error) {
	return []string{"q0", "q1"}, nil
}

func (s *questionState) GetQuestion(_ context.Context, questionID string) (*domain.Question, error) {
	q, ok := s.qs[questionID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	return q, nil
}

func (s *questionState) GetUserNames(context.Context, []string) (map[string]string, error) {
	return nil, nil
}

func (s *questionState) OpenLobby(context.Context, string) (bool, error) { return false, nil }

func (s *questionState) StartRun(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (s *questionState) AdvanceQuestion(context.Context, string, int, time.Time) (bool, error) {
	return false, nil
}

func (s *questionState) FinishRun(context.Context, string, int, time.Time) (bool, error) {
	return false, nil
}

// memUses is an in-memory lifeline store with the postgres uniqueness
// contract.
type memUses struct {
	mu       sync.Mutex
	uses     map[string]*domain.LifelineUse
	assigned map[string]bool
	answered map[string]bool
}

func (s *memUses) markAnswered(triviaID, questionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered[triviaID+"/"+questionID+"/"+userID] = true
}

func (s *memUses) Get(_ context.Context, triviaID, questionID, userID string) (*domain.LifelineUse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uses[triviaID+"/"+questionID+"/"+userID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *memUses) Insert(_ context.Context, u *domain.LifelineUse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := u.TriviaID + "/" + u.QuestionID + "/" + u.UserID
	if _, ok := s.uses[key]; ok {
		return errors.New(errors.CodeAlreadyExists)
	}

	cp := *u
	s.uses[key] = &cp
	return nil
}

func (s *memUses) Assigned(_ context.Context, triviaID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned[triviaID+"/"+userID], nil
}

func (s *memUses) Answered(_ context.Context, triviaID, questionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered[triviaID+"/"+questionID+"/"+userID], nil
}

type fixture struct {
	svc   *lifeline.Service
	uses  *memUses
	clock *clockwork.FakeClock
}

type option func(f *fixture)

func withAssigned(userIDs ...string) option {
	return func(f *fixture) {
		for _, u := range userIDs {
			f.uses.assigned["t1/"+u] = true
		}
	}
}

// makeFixture builds a service over an in-progress trivia with q0 current:
// four options with q0-b correct, a 10 second budget, u1 and u2 assigned.
func makeFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	now := clock.Now()

	state := &questionState{
		t: domain.Trivia{
			TriviaID:          "t1",
			CreatedBy:         "admin",
			Status:            domain.StatusInProgress,
			QuestionSeconds:   10,
			QuestionStartedAt: &now,
			StartedAt:         &now,
		},
		qs: map[string]*domain.Question{
			"q0": {
				QuestionID: "q0", QuestionText: "Largest ocean?", Difficulty: domain.DifficultyEasy,
				Options: []domain.Option{
					{OptionID: "q0-a", OptionText: "Atlantic"},
					{OptionID: "q0-b", OptionText: "Pacific", Correct: true},
					{OptionID: "q0-c", OptionText: "Indian"},
					{OptionID: "q0-d", OptionText: "Arctic"},
				},
			},
			"q1": {
				QuestionID: "q1", QuestionText: "Smallest prime?", Difficulty: domain.DifficultyEasy,
				Options: []domain.Option{
					{OptionID: "q1-a", OptionText: "1"},
					{OptionID: "q1-b", OptionText: "2", Correct: true},
					{OptionID: "q1-c", OptionText: "3"},
					{OptionID: "q1-d", OptionText: "0"},
				},
			},
		},
	}

	cat := catalog.NewService(catalog.Config{Store: state})
	g := game.NewService(game.Config{
		Store:    state,
		Catalog:  cat,
		EventBus: event.NewBus(),
		Clock:    clock,
	})

	uses := &memUses{
		uses:     make(map[string]*domain.LifelineUse),
		assigned: map[string]bool{"t1/u1": true, "t1/u2": true},
		answered: make(map[string]bool),
	}

	f := &fixture{
		svc: lifeline.NewService(lifeline.Config{
			Store:   uses,
			Catalog: cat,
			Game:    g,
			Clock:   clock,
		}),
		uses:  uses,
		clock: clock,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}
