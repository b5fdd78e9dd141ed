package reward

import (
	"fmt"
	"math/rand"
)

const (
	heads = "heads"
	tails = "tails"
)

// coinWinChance 各档位的胜率（%）
var coinWinChance = [...]int{35, 40, 45, 50, 55, 60}

func parseCoin(choice string) (string, error) {
	switch choice {
	case heads, "h", "表":
		return heads, nil
	case tails, "t", "裏":
		return tails, nil
	default:
		return "", fmt.Errorf("%w: coinflip 只能选 heads 或 tails, 实际 %q", ErrInvalidChoice, choice)
	}
}

func playCoinFlip(bet int64, choice string, level int, rng *rand.Rand) (*Outcome, error) {
	side, err := parseCoin(choice)
	if err != nil {
		return nil, err
	}

	landed := side
	if rng.Intn(100) >= coinWinChance[level-1] {
		landed = opposite(side)
	}

	if landed == side {
		return settle(GameCoinFlip, bet, 2, landed), nil
	}
	return settle(GameCoinFlip, bet, 0, landed), nil
}

func opposite(side string) string {
	if side == heads {
		return tails
	}
	return heads
}
