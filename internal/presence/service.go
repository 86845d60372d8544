// Package presence tracks the per-trivia roster: who was assigned, who has
// joined, who flagged ready, and who is still alive according to recent
// heartbeats. Presence is always derived from last_seen_at on read.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
	"github.com/Tekorita/talatrivia/internal/event"
)

const defaultLivenessThreshold = 30 * time.Second

type Store interface {
	Get(ctx context.Context, triviaID, userID string) (*domain.Participation, error)
	List(ctx context.Context, triviaID string) ([]domain.Participation, error)
	MarkJoined(ctx context.Context, triviaID, userID string, at time.Time) error
	MarkReady(ctx context.Context, triviaID, userID string, at time.Time) error
	Touch(ctx context.Context, triviaID, userID string, at time.Time) error
}

type Config struct {
	Store    Store
	Catalog  *catalog.Service
	EventBus *event.Bus
	Clock    clockwork.Clock

	// LivenessThreshold should exceed the client heartbeat interval by a
	// safety margin (3x or more) so jitter does not flap presence.
	LivenessThreshold time.Duration
}

type Service struct {
	store     Store
	catalog   *catalog.Service
	eb        *event.Bus
	clock     clockwork.Clock
	threshold time.Duration
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.LivenessThreshold <= 0 {
		c.LivenessThreshold = defaultLivenessThreshold
	}

	return &Service{
		store:     c.Store,
		catalog:   c.Catalog,
		eb:        c.EventBus,
		clock:     c.Clock,
		threshold: c.LivenessThreshold,
	}
}

type JoinRequest struct {
	TriviaID string
	UserID   string
}

type JoinResponse struct {
	Participation domain.Participation
	// AlreadyJoined marks the idempotent replay of an earlier join.
	AlreadyJoined bool
}

// Join marks an assigned player as joined. Joining twice is a no-op that
// echoes the first outcome. Players the authoring step never assigned are
// rejected with NOT_ASSIGNED.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	p, err := s.get(ctx, req.TriviaID, req.UserID)
	if err != nil {
		return nil, err
	}

	if p.Joined() {
		return &JoinResponse{Participation: *p, AlreadyJoined: true}, nil
	}

	now := s.clock.Now()
	if err := s.store.MarkJoined(ctx, req.TriviaID, req.UserID, now); err != nil {
		return nil, err
	}
	p.JoinedAt = &now
	p.LastSeenAt = &now

	s.publishLobby(ctx, req.TriviaID)

	return &JoinResponse{Participation: *p}, nil
}

type SetReadyRequest struct {
	TriviaID string
	UserID   string
}

type SetReadyResponse struct {
	Participation domain.Participation
	AlreadyReady  bool
}

// SetReady flags a joined player as ready. The flag is sticky; repeated
// calls echo the first outcome.
func (s *Service) SetReady(ctx context.Context, req SetReadyRequest) (*SetReadyResponse, error) {
	p, err := s.get(ctx, req.TriviaID, req.UserID)
	if err != nil {
		return nil, err
	}

	if !p.Joined() {
		return nil, errNotAssigned(req.TriviaID, req.UserID)
	}

	if p.Ready() {
		return &SetReadyResponse{Participation: *p, AlreadyReady: true}, nil
	}

	now := s.clock.Now()
	if err := s.store.MarkReady(ctx, req.TriviaID, req.UserID, now); err != nil {
		return nil, err
	}
	p.ReadyAt = &now

	s.publishLobby(ctx, req.TriviaID)

	return &SetReadyResponse{Participation: *p}, nil
}

type HeartbeatRequest struct {
	TriviaID string
	UserID   string
}

// Heartbeat bumps last_seen_at. Callers treat it as fire-and-forget; a
// failure only degrades presence accuracy, so the API layer swallows it.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return s.store.Touch(ctx, req.TriviaID, req.UserID, s.clock.Now())
}

// Participation returns the caller's assignment record. Players the
// authoring step never assigned are rejected with NOT_ASSIGNED.
func (s *Service) Participation(ctx context.Context, triviaID, userID string) (*domain.Participation, error) {
	return s.get(ctx, triviaID, userID)
}

// Snapshot returns the roster with derived presence and aggregate counts,
// players sorted by display name.
func (s *Service) Snapshot(ctx context.Context, triviaID string) (*domain.Lobby, error) {
	parts, err := s.store.List(ctx, triviaID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}

	names, err := s.catalog.PlayerNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	lobby := &domain.Lobby{
		TriviaID:      triviaID,
		AssignedCount: len(parts),
		Players:       make([]domain.LobbyPlayer, 0, len(parts)),
	}

	for _, p := range parts {
		present := p.LastSeenAt != nil && now.Sub(*p.LastSeenAt) < s.threshold
		if present {
			lobby.PresentCount++
		}
		if p.Ready() {
			lobby.ReadyCount++
		}

		lobby.Players = append(lobby.Players, domain.LobbyPlayer{
			UserID:  p.UserID,
			Name:    names[p.UserID],
			Present: present,
			Ready:   p.Ready(),
		})
	}

	sort.Slice(lobby.Players, func(i, j int) bool {
		if lobby.Players[i].Name != lobby.Players[j].Name {
			return lobby.Players[i].Name < lobby.Players[j].Name
		}
		return lobby.Players[i].UserID < lobby.Players[j].UserID
	})

	return lobby, nil
}

func (s *Service) get(ctx context.Context, triviaID, userID string) (*domain.Participation, error) {
	p, err := s.store.Get(ctx, triviaID, userID)
	if err != nil {
		if errors.Convert(err).Code == errors.CodeNotFound {
			return nil, errNotAssigned(triviaID, userID)
		}
		return nil, err
	}

	return p, nil
}

func (s *Service) publishLobby(ctx context.Context, triviaID string) {
	lobby, err := s.Snapshot(ctx, triviaID)
	if err != nil {
		// Roster readers catch up on their next snapshot pull.
		slog.ErrorContext(ctx, "presence: snapshot for lobby event failed",
			"trivia", triviaID,
			"error", err,
		)
		return
	}

	s.eb.Publish(ctx, domain.EventLobbyUpdated{Lobby: *lobby})
}

func errNotAssigned(triviaID, userID string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonNotAssigned),
		errors.WithMessagef("player %s is not assigned to trivia %s", userID, triviaID),
	)
}
