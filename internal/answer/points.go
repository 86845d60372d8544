package answer

import (
	"github.com/shopspring/decimal"

	"github.com/Tekorita/talatrivia/internal/domain"
)

var pointsByDifficulty = map[domain.Difficulty]decimal.Decimal{
	domain.DifficultyEasy:   decimal.NewFromInt(1),
	domain.DifficultyMedium: decimal.NewFromInt(2),
	domain.DifficultyHard:   decimal.NewFromInt(3),
}

// Points returns the fixed base points for a correct answer of the given
// difficulty. The function is deterministic: identical inputs always yield
// identical points. Incorrect answers earn zero regardless of difficulty.
func Points(d domain.Difficulty) decimal.Decimal {
	if p, ok := pointsByDifficulty[d]; ok {
		return p
	}
	return decimal.Zero
}
