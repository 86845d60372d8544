package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/event"
	"github.com/Tekorita/talatrivia/internal/stream"
)

// Push event types, part of the client contract.
const (
	eventConnected       = "connected"
	eventLobbyUpdated    = "lobby_updated"
	eventAdminLobby      = "admin_lobby_updated"
	eventStatusUpdated   = "status_updated"
	eventCurrentQuestion = "current_question_updated"
	eventRankingUpdated  = "ranking_updated"
)

const keepaliveInterval = 15 * time.Second

// registerStreamProjections wires internal bus events to their outward push
// shapes. Projections run on bus goroutines, so a slow snapshot only delays
// the push, never the write that triggered it.
func (a *API) registerStreamProjections(eb *event.Bus) {
	eb.Subscribe(domain.EventNameLobbyUpdated, func(ctx context.Context, e event.Event) error {
		return a.projectLobby(ctx, e.(domain.EventLobbyUpdated))
	})
	eb.Subscribe(domain.EventNameStatusUpdated, func(ctx context.Context, e event.Event) error {
		return a.projectStatus(ctx, e.(domain.EventStatusUpdated))
	})
	eb.Subscribe(domain.EventNameQuestionStarted, func(ctx context.Context, e event.Event) error {
		return a.projectQuestion(ctx, e.(domain.EventQuestionStarted))
	})
	eb.Subscribe(domain.EventNameRankingUpdated, func(ctx context.Context, e event.Event) error {
		return a.projectRanking(ctx, e.(domain.EventRankingUpdated))
	})
}

func (a *API) projectLobby(_ context.Context, e domain.EventLobbyUpdated) error {
	a.hub.Publish(e.Lobby.TriviaID, stream.Event{
		Type:     eventLobbyUpdated,
		Audience: stream.AudiencePlayers,
		Data:     toLobbyPayload(&e.Lobby),
	})
	a.hub.Publish(e.Lobby.TriviaID, stream.Event{
		Type:     eventAdminLobby,
		Audience: stream.AudienceAdmins,
		Data:     toAdminLobbyPayload(&e.Lobby),
	})

	return nil
}

func (a *API) projectStatus(_ context.Context, e domain.EventStatusUpdated) error {
	a.hub.Publish(e.TriviaID, stream.Event{
		Type:     eventStatusUpdated,
		Audience: stream.AudienceAll,
		Data: gin.H{
			"trivia_id":              e.TriviaID,
			"state":                  stateOf(e.Status),
			"current_question_index": e.QuestionIndex,
		},
	})

	return nil
}

// projectQuestion snapshots the freshly opened question and pushes it with
// the correct flag stripped.
func (a *API) projectQuestion(ctx context.Context, e domain.EventQuestionStarted) error {
	w, err := a.game.CurrentWindow(ctx, e.TriviaID)
	if err != nil {
		return err
	}

	// The admin advanced again before this projection ran; the push for
	// the newer question supersedes this one.
	if w.QuestionIndex != e.QuestionIndex || !w.Active() {
		return nil
	}

	q, err := a.catalog.Question(ctx, w.QuestionID)
	if err != nil {
		return err
	}

	a.hub.Publish(e.TriviaID, stream.Event{
		Type:     eventCurrentQuestion,
		Audience: stream.AudienceAll,
		Data:     toQuestionPayload(q, w),
	})

	return nil
}

func (a *API) projectRanking(_ context.Context, e domain.EventRankingUpdated) error {
	a.hub.Publish(e.Ranking.TriviaID, stream.Event{
		Type:     eventRankingUpdated,
		Audience: stream.AudienceAll,
		Data:     toRankingPayload(&e.Ranking),
	})

	return nil
}

// issueTicket mints a single-use stream ticket. EventSource cannot send
// headers, so the short-lived ticket is what the stream URL carries instead
// of a credential.
func (a *API) issueTicket(c *gin.Context) {
	var req callerRequest
	if !a.bind(c, &req) {
		return
	}

	ctx, triviaID := c.Request.Context(), c.Param("trivia_id")

	t, err := a.catalog.Trivia(ctx, triviaID)
	if err != nil {
		a.abortError(c, err)
		return
	}

	role := stream.RolePlayer
	if req.UserID == t.CreatedBy {
		role = stream.RoleAdmin
	}

	ticket, ttl, err := a.tickets.Issue(ctx, stream.Claims{
		TriviaID: triviaID,
		Subject:  req.UserID,
		Role:     role,
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, TicketResponse{
		Ticket:    ticket,
		Role:      string(role),
		ExpiresIn: int(ttl.Seconds()),
		StreamURL: "/trivias/" + triviaID + "/events?ticket=" + ticket,
	})
}

func (a *API) streamEvents(c *gin.Context) {
	triviaID := c.Param("trivia_id")

	claims, err := a.tickets.Redeem(c.Request.Context(), triviaID, c.Query("ticket"))
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	// Tell nginx-style proxies not to buffer the stream.
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	sub := a.hub.Subscribe(triviaID, claims.Role)
	defer a.hub.Unsubscribe(sub)

	c.SSEvent(eventConnected, gin.H{
		"connection_id": sub.ID(),
		"trivia_id":     triviaID,
		"subject":       claims.Subject,
		"role":          string(claims.Role),
	})
	c.Writer.Flush()

	keepalive := a.clock.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			c.SSEvent(e.Type, e.Data)
			c.Writer.Flush()
		case <-keepalive.Chan():
			// An SSE comment; keeps idle proxies from closing us.
			if _, err := io.WriteString(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
