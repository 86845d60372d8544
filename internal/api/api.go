// Package api exposes the live-play engine over HTTP and bridges internal
// events onto the push stream.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/Tekorita/talatrivia/internal/answer"
	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/errors"
	"github.com/Tekorita/talatrivia/internal/event"
	"github.com/Tekorita/talatrivia/internal/game"
	"github.com/Tekorita/talatrivia/internal/lifeline"
	"github.com/Tekorita/talatrivia/internal/presence"
	"github.com/Tekorita/talatrivia/internal/ranking"
	"github.com/Tekorita/talatrivia/internal/stream"
)

type Config struct {
	Router   *gin.Engine
	EventBus *event.Bus

	Catalog  *catalog.Service
	Presence *presence.Service
	Game     *game.Service
	Answer   *answer.Service
	Lifeline *lifeline.Service
	Ranking  *ranking.Service

	Hub     *stream.Hub
	Tickets *stream.Tickets
	Clock   clockwork.Clock
}

type API struct {
	catalog  *catalog.Service
	presence *presence.Service
	game     *game.Service
	answer   *answer.Service
	lifeline *lifeline.Service
	ranking  *ranking.Service

	hub     *stream.Hub
	tickets *stream.Tickets
	clock   clockwork.Clock
}

func New(c Config) *API {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	a := &API{
		catalog:  c.Catalog,
		presence: c.Presence,
		game:     c.Game,
		answer:   c.Answer,
		lifeline: c.Lifeline,
		ranking:  c.Ranking,
		hub:      c.Hub,
		tickets:  c.Tickets,
		clock:    c.Clock,
	}

	a.registerRoutes(c.Router)
	a.registerStreamProjections(c.EventBus)

	return a
}

func (a *API) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", a.health)

	t := r.Group("/trivias/:trivia_id")
	t.POST("/join", a.join)
	t.POST("/ready", a.setReady)
	t.POST("/heartbeat", a.heartbeat)
	t.GET("/lobby", a.lobby)
	t.GET("/admin/lobby", a.adminLobby)
	t.POST("/start", a.start)
	t.POST("/next-question", a.advance)
	t.GET("/current-question", a.currentQuestion)
	t.POST("/answer", a.submitAnswer)
	t.POST("/questions/:question_id/lifelines/50-50", a.useFiftyFifty)
	t.GET("/ranking", a.getRanking)
	t.POST("/events/ticket", a.issueTicket)
	t.GET("/events", a.streamEvents)
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type callerRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (a *API) join(c *gin.Context) {
	var req callerRequest
	if !a.bind(c, &req) {
		return
	}

	ctx, triviaID := c.Request.Context(), c.Param("trivia_id")

	// Assignment comes first: a rejected stranger must leave a DRAFT
	// trivia untouched.
	if _, err := a.presence.Participation(ctx, triviaID, req.UserID); err != nil {
		a.abortError(c, err)
		return
	}

	// A first join moves a DRAFT trivia into its lobby.
	if err := a.game.OpenLobby(ctx, triviaID); err != nil {
		a.abortError(c, err)
		return
	}

	resp, err := a.presence.Join(ctx, presence.JoinRequest{
		TriviaID: triviaID,
		UserID:   req.UserID,
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, JoinResponse{
		TriviaID:      triviaID,
		UserID:        req.UserID,
		AlreadyJoined: resp.AlreadyJoined,
		Ready:         resp.Participation.Ready(),
	})
}

func (a *API) setReady(c *gin.Context) {
	var req callerRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.presence.SetReady(c.Request.Context(), presence.SetReadyRequest{
		TriviaID: c.Param("trivia_id"),
		UserID:   req.UserID,
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, SetReadyResponse{
		TriviaID:     c.Param("trivia_id"),
		UserID:       req.UserID,
		Ready:        true,
		AlreadyReady: resp.AlreadyReady,
	})
}

// heartbeat is fire-and-forget: failures are logged and swallowed so a
// retrying client never sees them.
func (a *API) heartbeat(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusNoContent)
		return
	}

	err := a.presence.Heartbeat(c.Request.Context(), presence.HeartbeatRequest{
		TriviaID: c.Param("trivia_id"),
		UserID:   req.UserID,
	})
	if err != nil {
		slog.WarnContext(c.Request.Context(), "api: heartbeat failed",
			"trivia", c.Param("trivia_id"),
			"user", req.UserID,
			"error", err,
		)
	}

	c.Status(http.StatusNoContent)
}

func (a *API) lobby(c *gin.Context) {
	lobby, err := a.presence.Snapshot(c.Request.Context(), c.Param("trivia_id"))
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLobbyPayload(lobby))
}

func (a *API) adminLobby(c *gin.Context) {
	lobby, err := a.presence.Snapshot(c.Request.Context(), c.Param("trivia_id"))
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAdminLobbyPayload(lobby))
}

func (a *API) start(c *gin.Context) {
	var req callerRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.game.Start(c.Request.Context(), game.StartRequest{
		TriviaID: c.Param("trivia_id"),
		AdminID:  req.UserID,
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, StateResponse{
		TriviaID:             resp.Trivia.TriviaID,
		Status:               string(resp.Trivia.Status),
		CurrentQuestionIndex: resp.Trivia.CurrentQuestionIndex,
		TotalQuestions:       resp.TotalQuestions,
		AlreadyStarted:       resp.AlreadyStarted,
	})
}

func (a *API) advance(c *gin.Context) {
	var req callerRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.game.Advance(c.Request.Context(), game.AdvanceRequest{
		TriviaID: c.Param("trivia_id"),
		AdminID:  req.UserID,
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, StateResponse{
		TriviaID:             resp.Trivia.TriviaID,
		Status:               string(resp.Trivia.Status),
		CurrentQuestionIndex: resp.Trivia.CurrentQuestionIndex,
		TotalQuestions:       resp.TotalQuestions,
		AlreadyAdvanced:      resp.AlreadyAdvanced,
	})
}

func (a *API) currentQuestion(c *gin.Context) {
	ctx, triviaID := c.Request.Context(), c.Param("trivia_id")

	w, err := a.game.CurrentWindow(ctx, triviaID)
	if err != nil {
		a.abortError(c, err)
		return
	}

	if w.Status != domain.StatusInProgress {
		c.JSON(http.StatusOK, CurrentQuestionResponse{State: stateOf(w.Status)})
		return
	}

	q, err := a.catalog.QuestionAt(ctx, triviaID, w.QuestionIndex)
	if err != nil {
		a.abortError(c, err)
		return
	}

	resp := CurrentQuestionResponse{
		State:    stateOf(w.Status),
		Question: toQuestionPayload(q, w),
	}

	// The lifeline flag is caller-specific, so it only appears on this
	// pull, never on broadcast question events.
	if userID := c.Query("user_id"); userID != "" {
		available, err := a.lifeline.Available(ctx, triviaID, w.QuestionID, userID)
		if err != nil {
			a.abortError(c, err)
			return
		}
		resp.FiftyFiftyAvailable = &available
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) submitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.answer.Submit(c.Request.Context(), answer.SubmitRequest{
		TriviaID:         c.Param("trivia_id"),
		UserID:           req.UserID,
		QuestionID:       req.QuestionID,
		SelectedOptionID: req.SelectedOptionID,
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitAnswerResponse{
		Accepted:         true,
		AlreadyAnswered:  resp.AlreadyAnswered,
		QuestionID:       resp.Answer.QuestionID,
		SelectedOptionID: resp.Answer.SelectedOptionID,
		IsCorrect:        resp.Answer.Correct,
		EarnedPoints:     resp.Answer.EarnedPoints.String(),
		TotalScore:       resp.TotalScore.String(),
	})
}

func (a *API) useFiftyFifty(c *gin.Context) {
	var req callerRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.lifeline.UseFiftyFifty(c.Request.Context(), lifeline.UseFiftyFiftyRequest{
		TriviaID:   c.Param("trivia_id"),
		UserID:     req.UserID,
		QuestionID: c.Param("question_id"),
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	out := FiftyFiftyResponse{
		AlreadyUsed:    resp.AlreadyUsed,
		AllowedOptions: make([]OptionPayload, 0, len(resp.AllowedOptions)),
	}
	for _, o := range resp.AllowedOptions {
		out.AllowedOptions = append(out.AllowedOptions, OptionPayload{
			OptionID:   o.OptionID,
			OptionText: o.OptionText,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) getRanking(c *gin.Context) {
	r, err := a.ranking.Compute(c.Request.Context(), ranking.ComputeRequest{
		TriviaID: c.Param("trivia_id"),
	})
	if err != nil {
		a.abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRankingPayload(r))
}

func (a *API) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		a.abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return false
	}

	return true
}

func (a *API) abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: internal error",
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
