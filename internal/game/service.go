// Package game owns the trivia lifecycle: DRAFT -> LOBBY -> IN_PROGRESS ->
// FINISHED, the current question index, and the active answer window. It is
// the single authority other components consult before accepting writes.
//
// Pacing is administrator driven. Expiry of the per-question budget only
// closes the answer window; it never advances the question, so an admin can
// dwell on results without losing scoring integrity.
package game

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
	"github.com/Tekorita/talatrivia/internal/event"
)

// Roster reports lobby readiness. Satisfied by presence.Service.
type Roster interface {
	Snapshot(ctx context.Context, triviaID string) (*domain.Lobby, error)
}

// minAdvanceDwell is the interval after a lifecycle transition within which
// a further Advance call is read as a duplicate of the click that caused
// the transition, not as a new pacing action.
const minAdvanceDwell = 2 * time.Second

// Store performs the compare-and-set transitions. Each call changes state
// only from the expected prior state and reports whether this caller won;
// that is the per-trivia linearization point for concurrent transitions.
type Store interface {
	OpenLobby(ctx context.Context, triviaID string) (bool, error)
	StartRun(ctx context.Context, triviaID string, at time.Time) (bool, error)
	AdvanceQuestion(ctx context.Context, triviaID string, fromIndex int, at time.Time) (bool, error)
	FinishRun(ctx context.Context, triviaID string, fromIndex int, at time.Time) (bool, error)
}

type Config struct {
	Store    Store
	Catalog  *catalog.Service
	Roster   Roster
	EventBus *event.Bus
	Clock    clockwork.Clock
}

type Service struct {
	store   Store
	catalog *catalog.Service
	roster  Roster
	eb      *event.Bus
	clock   clockwork.Clock
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store:   c.Store,
		catalog: c.Catalog,
		roster:  c.Roster,
		eb:      c.EventBus,
		clock:   c.Clock,
	}
}

// OpenLobby moves a DRAFT trivia to LOBBY. Already-open lobbies are a
// no-op; trivias past the lobby reject joining.
func (s *Service) OpenLobby(ctx context.Context, triviaID string) error {
	t, err := s.catalog.Trivia(ctx, triviaID)
	if err != nil {
		return err
	}

	switch t.Status {
	case domain.StatusLobby:
		return nil
	case domain.StatusDraft:
		won, err := s.store.OpenLobby(ctx, triviaID)
		if err != nil {
			return err
		}
		if won {
			s.eb.Publish(ctx, domain.EventStatusUpdated{
				TriviaID: triviaID,
				Status:   domain.StatusLobby,
			})
		}
		return nil
	default:
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotJoinable),
			errors.WithMessagef("cannot join trivia %s in status %s", triviaID, t.Status),
		)
	}
}

type StartRequest struct {
	TriviaID string
	AdminID  string
}

type StartResponse struct {
	Trivia         domain.Trivia
	TotalQuestions int
	// AlreadyStarted marks that another caller won the start; the state
	// returned is the canonical started state, not a partial one.
	AlreadyStarted bool
}

// Start begins the run. It succeeds only when every assigned player is
// present and ready at the instant of the call; a race between concurrent
// starts has exactly one winner and the losers observe AlreadyStarted.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	t, err := s.catalog.Trivia(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(t, req.AdminID); err != nil {
		return nil, err
	}

	ids, err := s.catalog.QuestionIDs(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	if t.Status == domain.StatusInProgress || t.Status == domain.StatusFinished {
		return &StartResponse{Trivia: *t, TotalQuestions: len(ids), AlreadyStarted: true}, nil
	}

	if len(ids) == 0 {
		return nil, errNotReady("trivia %s has no questions", req.TriviaID)
	}

	lobby, err := s.roster.Snapshot(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	if lobby.AssignedCount == 0 {
		return nil, errNotReady("trivia %s has no assigned players", req.TriviaID)
	}
	if lobby.PresentCount != lobby.AssignedCount || lobby.ReadyCount != lobby.AssignedCount {
		return nil, errNotReady("trivia %s: %d/%d present, %d/%d ready",
			req.TriviaID, lobby.PresentCount, lobby.AssignedCount, lobby.ReadyCount, lobby.AssignedCount)
	}

	now := s.clock.Now()
	won, err := s.store.StartRun(ctx, req.TriviaID, now)
	if err != nil {
		return nil, err
	}

	if !won {
		t, err = s.catalog.Trivia(ctx, req.TriviaID)
		if err != nil {
			return nil, err
		}
		return &StartResponse{Trivia: *t, TotalQuestions: len(ids), AlreadyStarted: true}, nil
	}

	t.Status = domain.StatusInProgress
	t.CurrentQuestionIndex = 0
	t.QuestionStartedAt = &now
	t.StartedAt = &now

	s.eb.Publish(ctx, domain.EventStatusUpdated{
		TriviaID:      req.TriviaID,
		Status:        domain.StatusInProgress,
		QuestionIndex: 0,
	})
	s.eb.Publish(ctx, domain.EventQuestionStarted{
		TriviaID: req.TriviaID,
		Deadline: now.Add(time.Duration(t.QuestionSeconds) * time.Second),
	})

	return &StartResponse{Trivia: *t, TotalQuestions: len(ids)}, nil
}

type AdvanceRequest struct {
	TriviaID string
	AdminID  string
}

type AdvanceResponse struct {
	Trivia         domain.Trivia
	TotalQuestions int
	// AlreadyAdvanced marks that a concurrent call advanced first; the
	// state returned is the advanced state and the call still succeeds.
	AlreadyAdvanced bool
}

// Advance moves to the next question, or finishes the trivia when the last
// question is already current. Concurrent calls increment exactly once: a
// caller that observes a transition younger than minAdvanceDwell reports it
// as already advanced instead of advancing again, so a racer that reads the
// winner's committed state cannot win a second compare-and-set.
func (s *Service) Advance(ctx context.Context, req AdvanceRequest) (*AdvanceResponse, error) {
	t, err := s.catalog.Trivia(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(t, req.AdminID); err != nil {
		return nil, err
	}

	ids, err := s.catalog.QuestionIDs(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	if justAdvanced(t, now) {
		return &AdvanceResponse{Trivia: *t, TotalQuestions: len(ids), AlreadyAdvanced: true}, nil
	}

	if t.Status != domain.StatusInProgress {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotInProgress),
			errors.WithMessagef("cannot advance trivia %s in status %s", req.TriviaID, t.Status),
		)
	}

	from := t.CurrentQuestionIndex

	if from+1 < len(ids) {
		won, err := s.store.AdvanceQuestion(ctx, req.TriviaID, from, now)
		if err != nil {
			return nil, err
		}

		if !won {
			return s.observeAdvanced(ctx, req.TriviaID, len(ids))
		}

		t.CurrentQuestionIndex = from + 1
		t.QuestionStartedAt = &now

		s.eb.Publish(ctx, domain.EventStatusUpdated{
			TriviaID:      req.TriviaID,
			Status:        domain.StatusInProgress,
			QuestionIndex: t.CurrentQuestionIndex,
		})
		s.eb.Publish(ctx, domain.EventQuestionStarted{
			TriviaID:      req.TriviaID,
			QuestionIndex: t.CurrentQuestionIndex,
			Deadline:      now.Add(time.Duration(t.QuestionSeconds) * time.Second),
		})

		return &AdvanceResponse{Trivia: *t, TotalQuestions: len(ids)}, nil
	}

	won, err := s.store.FinishRun(ctx, req.TriviaID, from, now)
	if err != nil {
		return nil, err
	}

	if !won {
		return s.observeAdvanced(ctx, req.TriviaID, len(ids))
	}

	t.Status = domain.StatusFinished
	t.QuestionStartedAt = nil
	t.FinishedAt = &now

	s.eb.Publish(ctx, domain.EventStatusUpdated{
		TriviaID:      req.TriviaID,
		Status:        domain.StatusFinished,
		QuestionIndex: from,
	})

	return &AdvanceResponse{Trivia: *t, TotalQuestions: len(ids)}, nil
}

// justAdvanced reports whether the observed state carries a transition
// fresh enough that an Advance call now belongs to the same click burst.
// Index 0 is exempt while in progress: a fresh first question means the
// run just started, and advancing off it is a genuine action.
func justAdvanced(t *domain.Trivia, now time.Time) bool {
	switch t.Status {
	case domain.StatusInProgress:
		return t.CurrentQuestionIndex > 0 && t.QuestionStartedAt != nil &&
			now.Sub(*t.QuestionStartedAt) < minAdvanceDwell
	case domain.StatusFinished:
		return t.FinishedAt != nil && now.Sub(*t.FinishedAt) < minAdvanceDwell
	}
	return false
}

// observeAdvanced reads back the state a concurrent winner produced.
func (s *Service) observeAdvanced(ctx context.Context, triviaID string, total int) (*AdvanceResponse, error) {
	t, err := s.catalog.Trivia(ctx, triviaID)
	if err != nil {
		return nil, err
	}

	return &AdvanceResponse{Trivia: *t, TotalQuestions: total, AlreadyAdvanced: true}, nil
}

// Window describes the currently acceptable question, if any. A question is
// active iff the trivia is IN_PROGRESS and time remains on its budget.
type Window struct {
	TriviaID       string
	Status         domain.TriviaStatus
	QuestionIndex  int
	TotalQuestions int
	QuestionID     string
	Deadline       time.Time
	Remaining      time.Duration
}

func (w *Window) Active() bool {
	return w.Status == domain.StatusInProgress && w.Remaining > 0
}

// ActiveFor reports whether the given question is the one currently
// accepting writes.
func (w *Window) ActiveFor(questionID string) bool {
	return w.Active() && w.QuestionID == questionID
}

// CurrentWindow is the read other components consult before accepting
// answers or lifeline uses.
func (s *Service) CurrentWindow(ctx context.Context, triviaID string) (*Window, error) {
	t, err := s.catalog.Trivia(ctx, triviaID)
	if err != nil {
		return nil, err
	}

	ids, err := s.catalog.QuestionIDs(ctx, triviaID)
	if err != nil {
		return nil, err
	}

	w := &Window{
		TriviaID:       triviaID,
		Status:         t.Status,
		QuestionIndex:  t.CurrentQuestionIndex,
		TotalQuestions: len(ids),
	}

	if t.Status != domain.StatusInProgress || t.QuestionStartedAt == nil {
		return w, nil
	}

	if t.CurrentQuestionIndex < len(ids) {
		w.QuestionID = ids[t.CurrentQuestionIndex]
	}

	w.Deadline = t.QuestionStartedAt.Add(time.Duration(t.QuestionSeconds) * time.Second)
	if remaining := w.Deadline.Sub(s.clock.Now()); remaining > 0 {
		w.Remaining = remaining
	}

	return w, nil
}

func (s *Service) authorize(t *domain.Trivia, adminID string) error {
	if t.CreatedBy != adminID {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s may not control trivia %s", adminID, t.TriviaID))
	}

	return nil
}

func errNotReady(format string, args ...any) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonNotReady),
		errors.WithMessagef(format, args...),
	)
}
