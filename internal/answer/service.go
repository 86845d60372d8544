// Package answer is the scoring ledger: at most one answer per
// (trivia, question, player), enforced by the store's uniqueness
// constraint. The first accepted write is final; replays echo it.
package answer

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
	"github.com/Tekorita/talatrivia/internal/event"
	"github.com/Tekorita/talatrivia/internal/game"
)

type Store interface {
	Get(ctx context.Context, triviaID, questionID, userID string) (*domain.Answer, error)
	// Insert records the answer and folds its points into the player's
	// cumulative score in one transaction, returning the new total.
	// A duplicate triple fails with CodeAlreadyExists; exactly one of
	// any set of racing writers gets through.
	Insert(ctx context.Context, a *domain.Answer) (decimal.Decimal, error)
	TotalScore(ctx context.Context, triviaID, userID string) (decimal.Decimal, error)
}

type Config struct {
	Store    Store
	Catalog  *catalog.Service
	Game     *game.Service
	EventBus *event.Bus
	Clock    clockwork.Clock
}

type Service struct {
	store   Store
	catalog *catalog.Service
	game    *game.Service
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
		game:    c.Game,
		eb:      c.EventBus,
		clock:   c.Clock,
	}
}

type SubmitRequest struct {
	TriviaID         string
	UserID           string
	QuestionID       string
	SelectedOptionID string
}

type SubmitResponse struct {
	Answer     domain.Answer
	TotalScore decimal.Decimal
	// AlreadyAnswered marks the idempotent replay of the first accepted
	// answer for this triple; the outcome echoed is the original one.
	AlreadyAnswered bool
}

// Submit scores an answer. The question must be the currently active one
// with time remaining, otherwise the call fails with QUESTION_CLOSED,
// including for questions the player already answered in a past window.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	w, err := s.game.CurrentWindow(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	if !w.ActiveFor(req.QuestionID) {
		return nil, errQuestionClosed(req.TriviaID, req.QuestionID)
	}

	if existing, err := s.store.Get(ctx, req.TriviaID, req.QuestionID, req.UserID); err == nil {
		return s.replay(ctx, existing)
	} else if errors.Convert(err).Code != errors.CodeNotFound {
		return nil, err
	}

	q, err := s.catalog.Question(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}

	var selected *domain.Option
	for i := range q.Options {
		if q.Options[i].OptionID == req.SelectedOptionID {
			selected = &q.Options[i]
			break
		}
	}
	if selected == nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option %s does not belong to question %s", req.SelectedOptionID, req.QuestionID))
	}

	a := &domain.Answer{
		TriviaID:         req.TriviaID,
		QuestionID:       req.QuestionID,
		UserID:           req.UserID,
		SelectedOptionID: req.SelectedOptionID,
		Correct:          selected.Correct,
		EarnedPoints:     decimal.Zero,
		AnsweredAt:       s.clock.Now(),
	}
	if a.Correct {
		a.EarnedPoints = Points(q.Difficulty)
	}

	total, err := s.store.Insert(ctx, a)
	if e := errors.Convert(err); e.Code == errors.CodeAlreadyExists {
		// Lost the race for this triple; echo the winner's outcome.
		existing, err := s.store.Get(ctx, req.TriviaID, req.QuestionID, req.UserID)
		if err != nil {
			return nil, err
		}
		return s.replay(ctx, existing)
	}
	if err != nil {
		if errors.Convert(err).Code == errors.CodeNotFound {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonNotAssigned),
				errors.WithMessagef("player %s is not assigned to trivia %s", req.UserID, req.TriviaID),
			)
		}
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		Score: domain.Score{
			TriviaID:   req.TriviaID,
			UserID:     req.UserID,
			TotalScore: total,
			UpdateTime: a.AnsweredAt,
		},
	})

	return &SubmitResponse{Answer: *a, TotalScore: total}, nil
}

func (s *Service) replay(ctx context.Context, existing *domain.Answer) (*SubmitResponse, error) {
	total, err := s.store.TotalScore(ctx, existing.TriviaID, existing.UserID)
	if err != nil {
		return nil, err
	}

	return &SubmitResponse{
		Answer:          *existing,
		TotalScore:      total,
		AlreadyAnswered: true,
	}, nil
}

func errQuestionClosed(triviaID, questionID string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonQuestionClosed),
		errors.WithMessagef("question %s is not accepting answers for trivia %s", questionID, triviaID),
	)
}
