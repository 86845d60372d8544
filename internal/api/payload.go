package api

import (
	"time"

	"github.com/Tekorita/talatrivia/internal/domain"
	"github.com/Tekorita/talatrivia/internal/game"
)

type JoinResponse struct {
	TriviaID      string `json:"trivia_id"`
	UserID        string `json:"user_id"`
	AlreadyJoined bool   `json:"already_joined"`
	Ready         bool   `json:"ready"`
}

type SetReadyResponse struct {
	TriviaID     string `json:"trivia_id"`
	UserID       string `json:"user_id"`
	Ready        bool   `json:"ready"`
	AlreadyReady bool   `json:"already_ready"`
}

type StateResponse struct {
	TriviaID             string `json:"trivia_id"`
	Status               string `json:"status"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	TotalQuestions       int    `json:"total_questions"`
	AlreadyStarted       bool   `json:"already_started,omitempty"`
	AlreadyAdvanced      bool   `json:"already_advanced,omitempty"`
}

type LobbyPlayerPayload struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Ready   bool   `json:"ready"`
}

// LobbyPayload is the player-facing roster view: names and readiness, no
// aggregate gate counts.
type LobbyPayload struct {
	TriviaID string               `json:"trivia_id"`
	Players  []LobbyPlayerPayload `json:"players"`
}

// AdminLobbyPayload adds the counts the admin's start gate is judged on.
type AdminLobbyPayload struct {
	TriviaID      string               `json:"trivia_id"`
	AssignedCount int                  `json:"assigned_count"`
	PresentCount  int                  `json:"present_count"`
	ReadyCount    int                  `json:"ready_count"`
	AllReady      bool                 `json:"all_ready"`
	Players       []LobbyPlayerPayload `json:"players"`
}

func toLobbyPayload(l *domain.Lobby) LobbyPayload {
	p := LobbyPayload{
		TriviaID: l.TriviaID,
		Players:  make([]LobbyPlayerPayload, 0, len(l.Players)),
	}
	for _, pl := range l.Players {
		p.Players = append(p.Players, LobbyPlayerPayload(pl))
	}

	return p
}

func toAdminLobbyPayload(l *domain.Lobby) AdminLobbyPayload {
	p := AdminLobbyPayload{
		TriviaID:      l.TriviaID,
		AssignedCount: l.AssignedCount,
		PresentCount:  l.PresentCount,
		ReadyCount:    l.ReadyCount,
		AllReady: l.AssignedCount > 0 &&
			l.PresentCount == l.AssignedCount &&
			l.ReadyCount == l.AssignedCount,
		Players: make([]LobbyPlayerPayload, 0, len(l.Players)),
	}
	for _, pl := range l.Players {
		p.Players = append(p.Players, LobbyPlayerPayload(pl))
	}

	return p
}

type OptionPayload struct {
	OptionID   string `json:"option_id"`
	OptionText string `json:"option_text"`
}

// QuestionPayload is a question as pushed or pulled by players. The correct
// flag never crosses this boundary.
type QuestionPayload struct {
	QuestionID       string          `json:"question_id"`
	QuestionText     string          `json:"question_text"`
	Difficulty       string          `json:"difficulty"`
	QuestionIndex    int             `json:"question_index"`
	TotalQuestions   int             `json:"total_questions"`
	Deadline         time.Time       `json:"deadline"`
	RemainingSeconds int             `json:"remaining_seconds"`
	Options          []OptionPayload `json:"options"`
}

type CurrentQuestionResponse struct {
	State               string           `json:"state"`
	Question            *QuestionPayload `json:"question,omitempty"`
	FiftyFiftyAvailable *bool            `json:"fifty_fifty_available,omitempty"`
}

func toQuestionPayload(q *domain.Question, w *game.Window) *QuestionPayload {
	p := &QuestionPayload{
		QuestionID:       q.QuestionID,
		QuestionText:     q.QuestionText,
		Difficulty:       string(q.Difficulty),
		QuestionIndex:    w.QuestionIndex,
		TotalQuestions:   w.TotalQuestions,
		Deadline:         w.Deadline,
		RemainingSeconds: int(w.Remaining.Seconds()),
		Options:          make([]OptionPayload, 0, len(q.Options)),
	}
	for _, o := range q.Options {
		p.Options = append(p.Options, OptionPayload{
			OptionID:   o.OptionID,
			OptionText: o.OptionText,
		})
	}

	return p
}

// stateOf folds the lifecycle into the three states clients render:
// anything before the run is WAITING.
func stateOf(s domain.TriviaStatus) string {
	switch s {
	case domain.StatusInProgress:
		return "IN_PROGRESS"
	case domain.StatusFinished:
		return "FINISHED"
	default:
		return "WAITING"
	}
}

type SubmitAnswerRequest struct {
	UserID           string `json:"user_id" binding:"required"`
	QuestionID       string `json:"question_id" binding:"required"`
	SelectedOptionID string `json:"selected_option_id" binding:"required"`
}

type SubmitAnswerResponse struct {
	Accepted         bool   `json:"accepted"`
	AlreadyAnswered  bool   `json:"already_answered"`
	QuestionID       string `json:"question_id"`
	SelectedOptionID string `json:"selected_option_id"`
	IsCorrect        bool   `json:"is_correct"`
	EarnedPoints     string `json:"earned_points"`
	TotalScore       string `json:"total_score"`
}

type FiftyFiftyResponse struct {
	AlreadyUsed    bool            `json:"already_used"`
	AllowedOptions []OptionPayload `json:"allowed_options"`
}

type RankingEntryPayload struct {
	Position int    `json:"position"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Score    string `json:"score"`
}

type RankingPayload struct {
	TriviaID string                `json:"trivia_id"`
	Status   string                `json:"status"`
	Final    bool                  `json:"final"`
	Entries  []RankingEntryPayload `json:"entries"`
}

func toRankingPayload(r *domain.Ranking) RankingPayload {
	p := RankingPayload{
		TriviaID: r.TriviaID,
		Status:   string(r.Status),
		Final:    r.Status == domain.StatusFinished,
		Entries:  make([]RankingEntryPayload, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		p.Entries = append(p.Entries, RankingEntryPayload{
			Position: e.Position,
			UserID:   e.UserID,
			Name:     e.Name,
			Score:    e.Score.String(),
		})
	}

	return p
}

type TicketResponse struct {
	Ticket    string `json:"ticket"`
	Role      string `json:"role"`
	ExpiresIn int    `json:"expires_in"`
	StreamURL string `json:"stream_url"`
}
