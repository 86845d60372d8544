// Package lifeline tracks the single-use fifty-fifty aid: one use per
// (trivia, question, player), eliminating two incorrect options from the
// player's view. It narrows what is offered, never what Submit accepts,
// and it never touches scoring.
package lifeline

import (
	"context"
	"math/rand"

	"github.com/jonboulle/clockwork"

	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
	"github.com/Tekorita/talatrivia/internal/game"
)

type Store interface {
	Get(ctx context.Context, triviaID, questionID, userID string) (*domain.LifelineUse, error)
	// Insert fails with CodeAlreadyExists when the triple already used
	// its lifeline; the uniqueness constraint settles races.
	Insert(ctx context.Context, u *domain.LifelineUse) error
	Assigned(ctx context.Context, triviaID, userID string) (bool, error)
	Answered(ctx context.Context, triviaID, questionID, userID string) (bool, error)
}

type Config struct {
	Store   Store
	Catalog *catalog.Service
	Game    *game.Service
	Clock   clockwork.Clock
}

type Service struct {
	store   Store
	catalog *catalog.Service
	game    *game.Service
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
		clock:   c.Clock,
	}
}

type UseFiftyFiftyRequest struct {
	TriviaID   string
	UserID     string
	QuestionID string
}

// OptionView is an option as shown to a player, with the correct flag
// stripped.
type OptionView struct {
	OptionID   string
	OptionText string
}

type UseFiftyFiftyResponse struct {
	// AllowedOptions is what the player still sees: the correct option
	// and one surviving incorrect option.
	AllowedOptions      []OptionView
	EliminatedOptionIDs []string
	// AlreadyUsed marks the idempotent replay of the stored outcome.
	AlreadyUsed bool
}

// UseFiftyFifty eliminates two of the three incorrect options, chosen
// uniformly at random. Repeated calls for the same triple replay the
// originally eliminated pair.
func (s *Service) UseFiftyFifty(ctx context.Context, req UseFiftyFiftyRequest) (*UseFiftyFiftyResponse, error) {
	w, err := s.game.CurrentWindow(ctx, req.TriviaID)
	if err != nil {
		return nil, err
	}

	if !w.ActiveFor(req.QuestionID) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonQuestionClosed),
			errors.WithMessagef("question %s is not active for trivia %s", req.QuestionID, req.TriviaID),
		)
	}

	q, err := s.catalog.Question(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.Get(ctx, req.TriviaID, req.QuestionID, req.UserID); err == nil {
		return replay(q, existing), nil
	} else if errors.Convert(err).Code != errors.CodeNotFound {
		return nil, err
	}

	assigned, err := s.store.Assigned(ctx, req.TriviaID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonNotAssigned),
			errors.WithMessagef("player %s is not assigned to trivia %s", req.UserID, req.TriviaID),
		)
	}

	answered, err := s.store.Answered(ctx, req.TriviaID, req.QuestionID, req.UserID)
	if err != nil {
		return nil, err
	}
	if answered {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonAlreadyAnswered),
			errors.WithMessagef("player %s already answered question %s", req.UserID, req.QuestionID),
		)
	}

	if _, ok := q.CorrectOption(); !ok {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("question %s has no correct option", req.QuestionID))
	}

	var incorrect []domain.Option
	for _, o := range q.Options {
		if !o.Correct {
			incorrect = append(incorrect, o)
		}
	}
	if len(incorrect) < 2 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question %s has too few incorrect options for a fifty-fifty", req.QuestionID))
	}

	// Keep one incorrect option uniformly at random, eliminate the rest.
	kept := incorrect[rand.Intn(len(incorrect))]
	eliminated := make([]string, 0, len(incorrect)-1)
	for _, o := range incorrect {
		if o.OptionID != kept.OptionID {
			eliminated = append(eliminated, o.OptionID)
		}
	}

	u := &domain.LifelineUse{
		TriviaID:            req.TriviaID,
		QuestionID:          req.QuestionID,
		UserID:              req.UserID,
		EliminatedOptionIDs: eliminated,
		UsedAt:              s.clock.Now(),
	}

	if err := s.store.Insert(ctx, u); err != nil {
		if errors.Convert(err).Code == errors.CodeAlreadyExists {
			existing, err := s.store.Get(ctx, req.TriviaID, req.QuestionID, req.UserID)
			if err != nil {
				return nil, err
			}
			return replay(q, existing), nil
		}
		return nil, err
	}

	resp := replay(q, u)
	resp.AlreadyUsed = false
	return resp, nil
}

// Available reports whether the player can still use the fifty-fifty on
// the given question.
func (s *Service) Available(ctx context.Context, triviaID, questionID, userID string) (bool, error) {
	_, err := s.store.Get(ctx, triviaID, questionID, userID)
	if err == nil {
		return false, nil
	}
	if errors.Convert(err).Code == errors.CodeNotFound {
		return true, nil
	}

	return false, err
}

// replay derives the allowed view from the stored eliminated pair, keeping
// the question's option order.
func replay(q *domain.Question, u *domain.LifelineUse) *UseFiftyFiftyResponse {
	gone := make(map[string]bool, len(u.EliminatedOptionIDs))
	for _, id := range u.EliminatedOptionIDs {
		gone[id] = true
	}

	allowed := make([]OptionView, 0, len(q.Options)-len(u.EliminatedOptionIDs))
	for _, o := range q.Options {
		if !gone[o.OptionID] {
			allowed = append(allowed, OptionView{OptionID: o.OptionID, OptionText: o.OptionText})
		}
	}

	return &UseFiftyFiftyResponse{
		AllowedOptions:      allowed,
		EliminatedOptionIDs: u.EliminatedOptionIDs,
		AlreadyUsed:         true,
	}
}
