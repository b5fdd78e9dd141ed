package reward

import (
	"fmt"
	"math/rand"
	"strconv"
)

const (
	rouletteNumbers = 37 // 欧式轮盘 0-36
	housePocket     = -1
)

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

type rouletteBet struct {
	kind   string // red|black|odd|even|number
	number int
}

func parseRoulette(choice string) (rouletteBet, error) {
	switch choice {
	case "red", "赤":
		return rouletteBet{kind: "red"}, nil
	case "black", "黒":
		return rouletteBet{kind: "black"}, nil
	case "odd", "奇数":
		return rouletteBet{kind: "odd"}, nil
	case "even", "偶数":
		return rouletteBet{kind: "even"}, nil
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 0 || n >= rouletteNumbers {
		return rouletteBet{}, fmt.Errorf("%w: roulette 只能选 red/black/odd/even 或 0-36, 实际 %q", ErrInvalidChoice, choice)
	}
	return rouletteBet{kind: "number", number: n}, nil
}

// playRoulette 档位越低，额外的庄家格越多（6 档没有额外格）
func playRoulette(bet int64, choice string, level int, rng *rand.Rand) (*Outcome, error) {
	b, err := parseRoulette(choice)
	if err != nil {
		return nil, err
	}

	pocket := rng.Intn(rouletteNumbers + 6 - level)
	if pocket >= rouletteNumbers {
		pocket = housePocket
	}
	return settleRoulette(bet, b, pocket), nil
}

func settleRoulette(bet int64, b rouletteBet, pocket int) *Outcome {
	detail := pocketName(pocket)
	if pocket <= 0 {
		// 0 和庄家格只有押中单号 0 才算赢
		if b.kind == "number" && b.number == pocket {
			return settle(GameRoulette, bet, 36, detail)
		}
		return settle(GameRoulette, bet, 0, detail)
	}

	var won bool
	multiplier := int64(2)
	switch b.kind {
	case "red":
		won = redNumbers[pocket]
	case "black":
		won = !redNumbers[pocket]
	case "odd":
		won = pocket%2 == 1
	case "even":
		won = pocket%2 == 0
	case "number":
		won = pocket == b.number
		multiplier = 36
	}
	if !won {
		return settle(GameRoulette, bet, 0, detail)
	}
	return settle(GameRoulette, bet, multiplier, detail)
}

func pocketName(pocket int) string {
	switch {
	case pocket == housePocket:
		return "house"
	case pocket == 0:
		return "0 green"
	case redNumbers[pocket]:
		return fmt.Sprintf("%d red", pocket)
	default:
		return fmt.Sprintf("%d black", pocket)
	}
}
