package reward

import (
	"fmt"
	"math/rand"
)

const (
	high = "high"
	low  = "low"
)

func parseHighLow(choice string) (string, error) {
	switch choice {
	case high, "h", "hi", "ハイ":
		return high, nil
	case low, "l", "lo", "ロー":
		return low, nil
	default:
		return "", fmt.Errorf("%w: highlow 只能选 high 或 low, 实际 %q", ErrInvalidChoice, choice)
	}
}

func drawCard(rng *rand.Rand) int {
	return rng.Intn(13) + 1
}

// playHighLow 猜第二张牌比第一张大还是小
//
// 输掉时按 (level-1)*10% 的概率重抽一次第二张牌
func playHighLow(bet int64, choice string, level int, rng *rand.Rand) (*Outcome, error) {
	guess, err := parseHighLow(choice)
	if err != nil {
		return nil, err
	}

	first, second := drawCard(rng), drawCard(rng)
	o := settleHighLow(bet, guess, first, second)
	if o.Result == Lose && rng.Intn(100) < (level-1)*10 {
		o = settleHighLow(bet, guess, first, drawCard(rng))
	}
	return o, nil
}

func settleHighLow(bet int64, guess string, first, second int) *Outcome {
	detail := fmt.Sprintf("%d → %d", first, second)
	switch {
	case first == second:
		return settle(GameHighLow, bet, 1, detail)
	case (guess == high) == (second > first):
		return settle(GameHighLow, bet, 2, detail)
	default:
		return settle(GameHighLow, bet, 0, detail)
	}
}
