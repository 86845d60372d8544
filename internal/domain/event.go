package domain

import "time"

const (
	EventNameLobbyUpdated    = "lobby.updated"
	EventNameStatusUpdated   = "trivia.status_updated"
	EventNameQuestionStarted = "question.started"
	EventNameScoreUpdated    = "score.updated"
	EventNameRankingUpdated  = "ranking.updated"
)

type EventLobbyUpdated struct {
	Lobby Lobby
}

func (EventLobbyUpdated) Name() string { return EventNameLobbyUpdated }

type EventStatusUpdated struct {
	TriviaID      string
	Status        TriviaStatus
	QuestionIndex int
}

func (EventStatusUpdated) Name() string { return EventNameStatusUpdated }

// EventQuestionStarted fires when a question's answer window opens, on
// Start and on every Advance that does not finish the trivia.
type EventQuestionStarted struct {
	TriviaID      string
	QuestionIndex int
	Deadline      time.Time
}

func (EventQuestionStarted) Name() string { return EventNameQuestionStarted }

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventRankingUpdated struct {
	Ranking Ranking
}

func (EventRankingUpdated) Name() string { return EventNameRankingUpdated }
