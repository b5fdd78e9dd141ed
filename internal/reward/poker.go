package reward

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// ============================================================================
// 德州式五张牌比大小（玩家 vs 庄家）
// ============================================================================

// Category 牌型，数值越大越强
type Category int

const (
	HighCard Category = iota
	OnePair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
)

var categoryNames = [...]string{
	"high card", "one pair", "two pair", "three of a kind", "straight",
	"flush", "full house", "four of a kind", "straight flush",
}

func (c Category) String() string {
	if c < HighCard || c > StraightFlush {
		return "unknown"
	}
	return categoryNames[c]
}

// pokerMultiplier 玩家赢时按玩家牌型赔付
var pokerMultiplier = map[Category]int64{
	HighCard:      2,
	OnePair:       2,
	TwoPair:       3,
	ThreeOfAKind:  4,
	Straight:      5,
	Flush:         6,
	FullHouse:     8,
	FourOfAKind:   20,
	StraightFlush: 50,
}

var suits = [...]string{"♠", "♥", "♦", "♣"}

// Card Rank 2-14（14 = A），Suit 0-3
type Card struct {
	Rank int
	Suit int
}

func (c Card) String() string {
	var r string
	switch c.Rank {
	case 14:
		r = "A"
	case 13:
		r = "K"
	case 12:
		r = "Q"
	case 11:
		r = "J"
	case 10:
		r = "T"
	default:
		r = fmt.Sprintf("%d", c.Rank)
	}
	return r + suits[c.Suit]
}

// Hand 五张牌
type Hand [5]Card

func (h Hand) String() string {
	parts := make([]string, len(h))
	for i, c := range h {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// HandValue 可比较的牌力：先比牌型，再依次比 Ranks
type HandValue struct {
	Category Category
	Ranks    []int
}

// Compare a 强于 b 返回 1，弱于返回 -1，相等返回 0
func Compare(a, b HandValue) int {
	if a.Category != b.Category {
		if a.Category > b.Category {
			return 1
		}
		return -1
	}
	for i := 0; i < len(a.Ranks) && i < len(b.Ranks); i++ {
		if a.Ranks[i] != b.Ranks[i] {
			if a.Ranks[i] > b.Ranks[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Evaluate 计算牌力
func Evaluate(h Hand) HandValue {
	counts := make(map[int]int, 5)
	flush := true
	for i, c := range h {
		counts[c.Rank]++
		if i > 0 && c.Suit != h[0].Suit {
			flush = false
		}
	}

	// 按 (张数 desc, 点数 desc) 排列
	ranks := make([]int, 0, len(counts))
	for r := range counts {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if counts[ranks[i]] != counts[ranks[j]] {
			return counts[ranks[i]] > counts[ranks[j]]
		}
		return ranks[i] > ranks[j]
	})

	straightHigh := 0
	if len(ranks) == 5 {
		switch {
		case ranks[0]-ranks[4] == 4:
			straightHigh = ranks[0]
		case ranks[0] == 14 && ranks[1] == 5:
			// A-2-3-4-5
			straightHigh = 5
		}
	}

	switch {
	case straightHigh > 0 && flush:
		return HandValue{Category: StraightFlush, Ranks: []int{straightHigh}}
	case counts[ranks[0]] == 4:
		return HandValue{Category: FourOfAKind, Ranks: ranks}
	case counts[ranks[0]] == 3 && counts[ranks[1]] == 2:
		return HandValue{Category: FullHouse, Ranks: ranks}
	case flush:
		return HandValue{Category: Flush, Ranks: ranks}
	case straightHigh > 0:
		return HandValue{Category: Straight, Ranks: []int{straightHigh}}
	case counts[ranks[0]] == 3:
		return HandValue{Category: ThreeOfAKind, Ranks: ranks}
	case counts[ranks[0]] == 2 && counts[ranks[1]] == 2:
		return HandValue{Category: TwoPair, Ranks: ranks}
	case counts[ranks[0]] == 2:
		return HandValue{Category: OnePair, Ranks: ranks}
	default:
		return HandValue{Category: HighCard, Ranks: ranks}
	}
}

func shuffledDeck(rng *rand.Rand) []Card {
	deck := make([]Card, 0, 52)
	for _, i := range rng.Perm(52) {
		deck = append(deck, Card{Rank: i%13 + 2, Suit: i / 13})
	}
	return deck
}

// dealerHands 庄家发几手牌，保留最强还是最弱
//
//	1: 3 手取最强   2: 2 手取最强   3-4: 1 手
//	5: 2 手取最弱   6: 3 手取最弱
func dealerHands(level int) (n int, keepBest bool) {
	switch level {
	case 1:
		return 3, true
	case 2:
		return 2, true
	case 5:
		return 2, false
	case 6:
		return 3, false
	default:
		return 1, true
	}
}

func playPoker(bet int64, level int, rng *rand.Rand) *Outcome {
	deck := shuffledDeck(rng)

	var player Hand
	copy(player[:], deck[:5])
	deck = deck[5:]

	n, keepBest := dealerHands(level)
	var dealer Hand
	var dealerValue HandValue
	for i := 0; i < n; i++ {
		var h Hand
		copy(h[:], deck[i*5:(i+1)*5])
		v := Evaluate(h)
		if i == 0 || (keepBest && Compare(v, dealerValue) > 0) || (!keepBest && Compare(v, dealerValue) < 0) {
			dealer, dealerValue = h, v
		}
	}

	return settlePoker(bet, player, dealer)
}

func settlePoker(bet int64, player, dealer Hand) *Outcome {
	pv, dv := Evaluate(player), Evaluate(dealer)
	detail := fmt.Sprintf("you: %s (%s) / dealer: %s (%s)", player, pv.Category, dealer, dv.Category)
	switch Compare(pv, dv) {
	case 1:
		return settle(GamePoker, bet, pokerMultiplier[pv.Category], detail)
	case 0:
		return settle(GamePoker, bet, 1, detail)
	default:
		return settle(GamePoker, bet, 0, detail)
	}
}
