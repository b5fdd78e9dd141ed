package reward

import (
	"math/rand"

	"github.com/Rarurei/Raruin/internal/model"
)

// LotteryDraw 一次购票的抽取结果
type LotteryDraw struct {
	Drawn   int64         `json:"drawn"`
	PerTier map[int]int64 `json:"per_tier"`
	Lose    int64         `json:"lose"`
	Payout  int64         `json:"payout"`
}

// DrawLottery 从剩余票池中无放回抽取 min(tickets, 剩余总数) 张
//
// 不修改 lot，剩余数的扣减由调用方在同一事务中完成
func DrawLottery(lot *model.Lottery, tickets int64, rng *rand.Rand) LotteryDraw {
	draw := LotteryDraw{PerTier: make(map[int]int64)}

	remaining := make([]int64, len(lot.Tiers)+1)
	var total int64
	for i, t := range lot.Tiers {
		remaining[i] = t.Remaining
		total += t.Remaining
	}
	loseIdx := len(lot.Tiers)
	remaining[loseIdx] = lot.LoseRemaining
	total += lot.LoseRemaining

	for draw.Drawn < tickets && total > 0 {
		pick := rng.Int63n(total)
		idx := 0
		for ; idx < len(remaining); idx++ {
			if pick < remaining[idx] {
				break
			}
			pick -= remaining[idx]
		}

		remaining[idx]--
		total--
		draw.Drawn++

		if idx == loseIdx {
			draw.Lose++
			continue
		}
		tier := lot.Tiers[idx]
		draw.PerTier[tier.Tier]++
		draw.Payout += tier.Prize
	}
	return draw
}
