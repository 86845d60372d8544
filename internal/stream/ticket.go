// Package stream is the push side of the engine: short-lived connection
// tickets and the per-trivia fan-out hub the SSE endpoint drains. Delivery
// is best-effort; a stalled subscriber loses events instead of stalling
// the mutating call paths, and recovers by re-pulling a snapshot.
package stream

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tekorita/talatrivia/internal/errors"
)

const defaultTicketTTL = 60 * time.Second

type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// Claims is what a ticket authorizes: one stream connection, for one
// trivia, as one caller.
type Claims struct {
	TriviaID string `json:"trivia_id"`
	Subject  string `json:"subject"`
	Role     Role   `json:"role"`
}

type TicketsConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// Tickets issues and redeems single-use stream credentials. The push
// protocol cannot carry custom headers, so the ticket travels as a query
// parameter and is consumed on first connect.
type Tickets struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewTickets(c TicketsConfig) *Tickets {
	if c.TTL <= 0 {
		c.TTL = defaultTicketTTL
	}

	return &Tickets{
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

// Issue mints a ticket for the given claims and returns it with its TTL.
func (t *Tickets) Issue(ctx context.Context, claims Claims) (string, time.Duration, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, fmt.Errorf("ticket: random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	b, err := json.Marshal(claims)
	if err != nil {
		return "", 0, fmt.Errorf("ticket: marshal claims: %w", err)
	}

	if err := t.redis.Set(ctx, t.key(token), b, t.ttl).Err(); err != nil {
		return "", 0, fmt.Errorf("ticket: store: %w", err)
	}

	return token, t.ttl, nil
}

// Redeem consumes a ticket. Expired, unknown, and reused tickets all look
// the same to the caller: invalid. A valid ticket scoped to a different
// trivia is rejected without being refunded.
func (t *Tickets) Redeem(ctx context.Context, triviaID, token string) (*Claims, error) {
	b, err := t.redis.GetDel(ctx, t.key(token)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithReason(errors.ReasonInvalidTicket),
			errors.WithMessagef("invalid or expired stream ticket"),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("ticket: redeem: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, fmt.Errorf("ticket: unmarshal claims: %w", err)
	}

	if claims.TriviaID != triviaID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonTicketScope),
			errors.WithMessagef("ticket is not valid for trivia %s", triviaID),
		)
	}

	return &claims, nil
}

func (t *Tickets) key(token string) string {
	return fmt.Sprintf("%s:ticket:%s", t.prefix, token)
}
