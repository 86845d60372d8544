package game_test

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
)

func TestService_Start(t *testing.T) {
	type (
		inputs struct {
			status    domain.TriviaStatus
			questions int
			lobby     domain.Lobby
			adminID   string
		}

		outputs struct {
			resp *game.StartResponse
			err  error
		}
	)

	fullLobby := domain.Lobby{AssignedCount: 2, PresentCount: 2, ReadyCount: 2}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should start when everyone is present and ready": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusLobby,
					questions: 2,
					lobby:     fullLobby,
					adminID:   "admin",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.False(t, out.resp.AlreadyStarted)
				require.Equal(t, domain.StatusInProgress, out.resp.Trivia.Status)
				require.Equal(t, 0, out.resp.Trivia.CurrentQuestionIndex)
				require.Equal(t, 2, out.resp.TotalQuestions)
			},
		},

		"should reject a caller who is not the creator": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusLobby,
					questions: 2,
					lobby:     fullLobby,
					adminID:   "u1",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.CodePermissionDenied, errors.Convert(out.err).Code)
			},
		},

		"should reject with NOT_READY when a player is absent": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusLobby,
					questions: 2,
					lobby:     domain.Lobby{AssignedCount: 2, PresentCount: 1, ReadyCount: 2},
					adminID:   "admin",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonNotReady, errors.Reason(out.err))
			},
		},

		"should reject with NOT_READY when a player has not flagged ready": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusLobby,
					questions: 2,
					lobby:     domain.Lobby{AssignedCount: 2, PresentCount: 2, ReadyCount: 1},
					adminID:   "admin",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonNotReady, errors.Reason(out.err))
			},
		},

		"should reject with NOT_READY when nobody is assigned": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusLobby,
					questions: 2,
					lobby:     domain.Lobby{},
					adminID:   "admin",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonNotReady, errors.Reason(out.err))
			},
		},

		"should reject with NOT_READY when the trivia has no questions": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusLobby,
					questions: 0,
					lobby:     fullLobby,
					adminID:   "admin",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Equal(t, errors.ReasonNotReady, errors.Reason(out.err))
			},
		},

		"starting an in-progress trivia should report the started state": {
			arrange: func() inputs {
				return inputs{
					status:    domain.StatusInProgress,
					questions: 2,
					lobby:     fullLobby,
					adminID:   "admin",
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.True(t, out.resp.AlreadyStarted)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			s, _, _ := makeService(t, serviceParams{
				status:    in.status,
				questions: in.questions,
				lobby:     in.lobby,
			})

			var out outputs
			out.resp, out.err = s.Start(context.Background(), game.StartRequest{
				TriviaID: "t1",
				AdminID:  in.adminID,
			})

			tt.assert(t, out)
		})
	}
}

func TestService_Start_ConcurrentCallsHaveOneWinner(t *testing.T) {
	t.Parallel()

	s, _, _ := makeService(t, serviceParams{
		status:    domain.StatusLobby,
		questions: 2,
		lobby:     domain.Lobby{AssignedCount: 3, PresentCount: 3, ReadyCount: 3},
	})

	const callers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := s.Start(context.Background(), game.StartRequest{TriviaID: "t1", AdminID: "admin"})
			require.NoError(t, err)
			require.Equal(t, domain.StatusInProgress, resp.Trivia.Status)

			mu.Lock()
			if !resp.AlreadyStarted {
				winners++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners, "exactly one start call should win")
}

func TestService_Advance(t *testing.T) {
	t.Parallel()

	s, state, clock := makeService(t, serviceParams{
		status:    domain.StatusLobby,
		questions: 2,
		lobby:     domain.Lobby{AssignedCount: 1, PresentCount: 1, ReadyCount: 1},
	})
	ctx := context.Background()

	// Advancing before the run is a precondition failure.
	_, err := s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.Equal(t, errors.ReasonNotInProgress, errors.Reason(err))

	_, err = s.Start(ctx, game.StartRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)

	clock.Advance(5 * time.Second)

	resp, err := s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)
	require.False(t, resp.AlreadyAdvanced)
	require.Equal(t, 1, resp.Trivia.CurrentQuestionIndex)
	require.Equal(t, domain.StatusInProgress, resp.Trivia.Status)

	// A second click right behind the transition is absorbed, not applied.
	resp, err = s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)
	require.True(t, resp.AlreadyAdvanced)
	require.Equal(t, 1, resp.Trivia.CurrentQuestionIndex)

	clock.Advance(5 * time.Second)

	// Advancing past the last question finishes the trivia.
	resp, err = s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, resp.Trivia.Status)
	require.NotNil(t, state.trivia().FinishedAt)

	// A duplicate of the finishing click reports the finished state.
	resp, err = s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)
	require.True(t, resp.AlreadyAdvanced)
	require.Equal(t, domain.StatusFinished, resp.Trivia.Status)

	clock.Advance(5 * time.Second)

	_, err = s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.Equal(t, errors.ReasonNotInProgress, errors.Reason(err))
}

func TestService_Advance_ConcurrentCallsIncrementOnce(t *testing.T) {
	t.Parallel()

	s, state, clock := makeService(t, serviceParams{
		status:    domain.StatusLobby,
		questions: 3,
		lobby:     domain.Lobby{AssignedCount: 1, PresentCount: 1, ReadyCount: 1},
	})
	ctx := context.Background()

	_, err := s.Start(ctx, game.StartRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)

	clock.Advance(5 * time.Second)

	const callers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
			require.NoError(t, err)

			mu.Lock()
			if !resp.AlreadyAdvanced {
				winners++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners, "exactly one advance call should win")
	require.Equal(t, 1, state.trivia().CurrentQuestionIndex)
	require.Equal(t, domain.StatusInProgress, state.trivia().Status,
		"a duplicate burst must not walk the trivia past one question")
}

func TestService_CurrentWindow(t *testing.T) {
	t.Parallel()

	s, _, clock := makeService(t, serviceParams{
		status:    domain.StatusLobby,
		questions: 2,
		lobby:     domain.Lobby{AssignedCount: 1, PresentCount: 1, ReadyCount: 1},
	})
	ctx := context.Background()

	w, err := s.CurrentWindow(ctx, "t1")
	require.NoError(t, err)
	require.False(t, w.Active())

	_, err = s.Start(ctx, game.StartRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)

	w, err = s.CurrentWindow(ctx, "t1")
	require.NoError(t, err)
	require.True(t, w.ActiveFor("q0"))
	require.False(t, w.ActiveFor("q1"))
	require.Equal(t, 2, w.TotalQuestions)

	// The window closes when the question budget runs out, with no admin
	// action at all.
	clock.Advance(10 * time.Second)

	w, err = s.CurrentWindow(ctx, "t1")
	require.NoError(t, err)
	require.False(t, w.Active())
	require.Equal(t, domain.StatusInProgress, w.Status)
}

func TestService_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	eb := event.NewBus()

	var (
		mu       sync.Mutex
		statuses []domain.EventStatusUpdated
		starts   []domain.EventQuestionStarted
	)
	eb.Subscribe(domain.EventNameStatusUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		statuses = append(statuses, e.(domain.EventStatusUpdated))
		mu.Unlock()
		return nil
	})
	eb.Subscribe(domain.EventNameQuestionStarted, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		starts = append(starts, e.(domain.EventQuestionStarted))
		mu.Unlock()
		return nil
	})

	s, _, clock := makeService(t, serviceParams{
		status:    domain.StatusLobby,
		questions: 2,
		lobby:     domain.Lobby{AssignedCount: 1, PresentCount: 1, ReadyCount: 1},
		eventBus:  eb,
	})
	ctx := context.Background()

	_, err := s.Start(ctx, game.StartRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	_, err = s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	_, err = s.Advance(ctx, game.AdvanceRequest{TriviaID: "t1", AdminID: "admin"})
	require.NoError(t, err)

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()

	// Start, advance, finish.
	require.Len(t, statuses, 3)
	// A question window opens on start and on the one non-final advance.
	require.Len(t, starts, 2)
}

// runState backs both the catalog reads and the lifecycle CAS writes, so
// concurrent transitions contend on the same state the way they do on one
// database row.
type runState struct {
	mu sync.Mutex
	t  domain.Trivia
	qs []string
}

func (s *runState) trivia() domain.Trivia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *runState) GetTrivia(_ context.Context, triviaID string) (*domain.Trivia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t.TriviaID != triviaID {
		return nil, errors.New(errors.CodeNotFound)
	}

	cp := s.t
	return &cp, nil
}

func (s *runState) ListQuestionIDs(context.Context, string) ([]string, error) {
	return s.qs, nil
}

func (s *runState) GetQuestion(context.Context, string) (*domain.Question, error) {
	return nil, errors.New(errors.CodeNotFound)
}

func (s *runState) GetUserNames(context.Context, []string) (map[string]string, error) {
	return nil, nil
}

func (s *runState) OpenLobby(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t.Status != domain.StatusDraft {
		return false, nil
	}
	s.t.Status = domain.StatusLobby
	return true, nil
}

func (s *runState) StartRun(_ context.Context, _ string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t.Status != domain.StatusLobby {
		return false, nil
	}
	s.t.Status = domain.StatusInProgress
	s.t.CurrentQuestionIndex = 0
	s.t.QuestionStartedAt = &at
	s.t.StartedAt = &at
	return true, nil
}

func (s *runState) AdvanceQuestion(_ context.Context, _ string, fromIndex int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t.Status != domain.StatusInProgress || s.t.CurrentQuestionIndex != fromIndex {
		return false, nil
	}
	s.t.CurrentQuestionIndex++
	s.t.QuestionStartedAt = &at
	return true, nil
}

func (s *runState) FinishRun(_ context.Context, _ string, fromIndex int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t.Status != domain.StatusInProgress || s.t.CurrentQuestionIndex != fromIndex {
		return false, nil
	}
	s.t.Status = domain.StatusFinished
	s.t.QuestionStartedAt = nil
	s.t.FinishedAt = &at
	return true, nil
}

type fixedRoster struct {
	lobby domain.Lobby
}

func (r *fixedRoster) Snapshot(_ context.Context, triviaID string) (*domain.Lobby, error) {
	l := r.lobby
	l.TriviaID = triviaID
	return &l, nil
}

type serviceParams struct {
	status    domain.TriviaStatus
	questions int
	lobby     domain.Lobby
	eventBus  *event.Bus
}

func makeService(t *testing.T, p serviceParams) (*game.Service, *runState, *clockwork.FakeClock) {
	t.Helper()

	if p.eventBus == nil {
		p.eventBus = event.NewBus()
	}

	qs := make([]string, 0, p.questions)
	for i := 0; i < p.questions; i++ {
		qs = append(qs, "q"+string(rune('0'+i)))
	}

	state := &runState{
		t: domain.Trivia{
			TriviaID:        "t1",
			Title:           "Capitals",
			CreatedBy:       "admin",
			Status:          p.status,
			QuestionSeconds: 10,
		},
		qs: qs,
	}

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	s := game.NewService(game.Config{
		Store:    state,
		Catalog:  catalog.NewService(catalog.Config{Store: state}),
		Roster:   &fixedRoster{lobby: p.lobby},
		EventBus: p.eventBus,
		Clock:    clock,
	})

	return s, state, clock
}
