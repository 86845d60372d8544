package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriviaStatus is the lifecycle state of a trivia run.
// Transitions are linear: DRAFT -> LOBBY -> IN_PROGRESS -> FINISHED.
type TriviaStatus string

const (
	StatusDraft      TriviaStatus = "DRAFT"
	StatusLobby      TriviaStatus = "LOBBY"
	StatusInProgress TriviaStatus = "IN_PROGRESS"
	StatusFinished   TriviaStatus = "FINISHED"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Trivia represents one run of a sequenced set of questions for an
// assigned group of players.
type Trivia struct {
	TriviaID             string
	Title                string
	CreatedBy            string
	Status               TriviaStatus
	CurrentQuestionIndex int
	QuestionSeconds      int
	QuestionStartedAt    *time.Time
	StartedAt            *time.Time
	FinishedAt           *time.Time
}

type Question struct {
	QuestionID   string
	QuestionText string
	Difficulty   Difficulty
	Options      []Option
}

type Option struct {
	OptionID   string
	OptionText string
	Correct    bool
}

// CorrectOption returns the single option marked correct.
func (q Question) CorrectOption() (Option, bool) {
	for _, o := range q.Options {
		if o.Correct {
			return o, true
		}
	}
	return Option{}, false
}

// Participation ties an assigned player to a trivia. Presence is derived
// from LastSeenAt on read, never stored.
type Participation struct {
	TriviaID   string
	UserID     string
	AssignedAt time.Time
	JoinedAt   *time.Time
	ReadyAt    *time.Time
	LastSeenAt *time.Time
	Score      decimal.Decimal
}

func (p Participation) Joined() bool { return p.JoinedAt != nil }
func (p Participation) Ready() bool  { return p.ReadyAt != nil }

// Lobby is a roster snapshot with derived presence and aggregate counts.
type Lobby struct {
	TriviaID      string
	AssignedCount int
	PresentCount  int
	ReadyCount    int
	Players       []LobbyPlayer
}

type LobbyPlayer struct {
	UserID  string
	Name    string
	Present bool
	Ready   bool
}

// Answer is the ledger record for one (trivia, question, player) triple.
// At most one exists; the first accepted write is final.
type Answer struct {
	TriviaID         string
	QuestionID       string
	UserID           string
	SelectedOptionID string
	Correct          bool
	EarnedPoints     decimal.Decimal
	AnsweredAt       time.Time
}

// LifelineUse records a single fifty-fifty use for a triple, with the two
// eliminated incorrect option IDs.
type LifelineUse struct {
	TriviaID            string
	QuestionID          string
	UserID              string
	EliminatedOptionIDs []string
	UsedAt              time.Time
}

// Score represents a player's cumulative score within a trivia.
type Score struct {
	TriviaID   string
	UserID     string
	TotalScore decimal.Decimal
	UpdateTime time.Time
}

// Ranking is the derived leaderboard, ordered by the documented total
// comparator: score desc, earliest first correct answer asc, user ID asc.
type Ranking struct {
	TriviaID string
	Status   TriviaStatus
	Entries  []RankingEntry
}

type RankingEntry struct {
	Position int
	UserID   string
	Name     string
	Score    decimal.Decimal
}
