// Package catalog exposes read-only access to the records the authoring
// side of the system owns: trivias, their ordered question lists, question
// options (including the correct flag, which never leaves the server), and
// player display names. The live-play engine consumes these by identifier
// and never writes them.
package catalog

import (
	"context"

	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
)

type Store interface {
	GetTrivia(ctx context.Context, triviaID string) (*domain.Trivia, error)
	ListQuestionIDs(ctx context.Context, triviaID string) ([]string, error)
	GetQuestion(ctx context.Context, questionID string) (*domain.Question, error)
	GetUserNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

type Config struct {
	Store Store
}

type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

func (s *Service) Trivia(ctx context.Context, triviaID string) (*domain.Trivia, error) {
	return s.store.GetTrivia(ctx, triviaID)
}

// QuestionIDs returns the trivia's question identifiers in play order.
func (s *Service) QuestionIDs(ctx context.Context, triviaID string) ([]string, error) {
	return s.store.ListQuestionIDs(ctx, triviaID)
}

// QuestionAt resolves the question at a 0-based position in the trivia's sequence.
func (s *Service) QuestionAt(ctx context.Context, triviaID string, index int) (*domain.Question, error) {
	ids, err := s.store.ListQuestionIDs(ctx, triviaID)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(ids) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no question at index %d for trivia %s", index, triviaID))
	}

	return s.store.GetQuestion(ctx, ids[index])
}

func (s *Service) Question(ctx context.Context, questionID string) (*domain.Question, error) {
	return s.store.GetQuestion(ctx, questionID)
}

// PlayerNames resolves display names for a set of players in one read.
func (s *Service) PlayerNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	return s.store.GetUserNames(ctx, userIDs)
}
