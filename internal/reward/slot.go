package reward

import (
	"math/rand"
	"strings"
)

const (
	symbolCherry = "🍒"
	symbolLemon  = "🍋"
	symbolBell   = "🔔"
	symbolStar   = "⭐"
	symbolSeven  = "7️⃣"
)

var slotSymbols = []string{symbolCherry, symbolLemon, symbolBell, symbolStar, symbolSeven}

// slotPool 档位越高，樱桃越多，越容易凑出对子和三连
func slotPool(level int) []string {
	pool := append([]string(nil), slotSymbols...)
	for i := 1; i < level; i++ {
		pool = append(pool, symbolCherry)
	}
	return pool
}

func playSlot(bet int64, level int, rng *rand.Rand) *Outcome {
	pool := slotPool(level)
	var reels [3]string
	for i := range reels {
		reels[i] = pool[rng.Intn(len(pool))]
	}
	return settleSlot(bet, reels)
}

// settleSlot 777 ×10，其他三连 ×5，任意对子 ×2
func settleSlot(bet int64, reels [3]string) *Outcome {
	detail := strings.Join(reels[:], " | ")
	a, b, c := reels[0], reels[1], reels[2]
	switch {
	case a == b && b == c && a == symbolSeven:
		return settle(GameSlot, bet, 10, detail)
	case a == b && b == c:
		return settle(GameSlot, bet, 5, detail)
	case a == b || b == c || a == c:
		return settle(GameSlot, bet, 2, detail)
	default:
		return settle(GameSlot, bet, 0, detail)
	}
}
