package reward

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Rarurei/Raruin/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMinigame_Validation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name    string
		bet     Bet
		level   int
		wantErr error
	}{
		{"zero bet", Bet{Game: GameSlot, Amount: 0}, 3, ErrInvalidBet},
		{"negative bet", Bet{Game: GameSlot, Amount: -5}, 3, ErrInvalidBet},
		{"level too low", Bet{Game: GameSlot, Amount: 10}, 0, ErrInvalidLevel},
		{"level too high", Bet{Game: GameSlot, Amount: 10}, 7, ErrInvalidLevel},
		{"unknown game", Bet{Game: "blackjack", Amount: 10}, 3, ErrUnknownGame},
		{"coinflip without side", Bet{Game: GameCoinFlip, Amount: 10}, 3, ErrInvalidChoice},
		{"highlow bad guess", Bet{Game: GameHighLow, Amount: 10, Choice: "middle"}, 3, ErrInvalidChoice},
		{"roulette out of range", Bet{Game: GameRoulette, Amount: 10, Choice: "37"}, 3, ErrInvalidChoice},
		{"slot payout overflow", Bet{Game: GameSlot, Amount: math.MaxInt64/10 + 1}, 3, ErrInvalidBet},
		{"poker payout overflow", Bet{Game: GamePoker, Amount: math.MaxInt64/50 + 1}, 3, ErrInvalidBet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveMinigame(tt.bet, tt.level, rng)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolveMinigame_MaxBetSettles(t *testing.T) {
	// 单注上限内任何结果都不会溢出
	for game, mul := range maxMultiplier {
		bet := Bet{Game: game, Amount: math.MaxInt64 / mul}
		switch game {
		case GameCoinFlip:
			bet.Choice = "heads"
		case GameHighLow:
			bet.Choice = "high"
		case GameRoulette:
			bet.Choice = "7"
		}
		for seed := int64(0); seed < 50; seed++ {
			out, err := ResolveMinigame(bet, 6, rand.New(rand.NewSource(seed)))
			require.NoError(t, err, game)
			assert.GreaterOrEqual(t, out.Payout, int64(0), game)
			assert.Equal(t, out.Payout-out.Bet, out.Delta, game)
		}
	}
}

func TestResolveMinigame_Deterministic(t *testing.T) {
	bets := []Bet{
		{Game: GameSlot, Amount: 10},
		{Game: GameCoinFlip, Amount: 10, Choice: "heads"},
		{Game: GameHighLow, Amount: 10, Choice: "high"},
		{Game: GameRoulette, Amount: 10, Choice: "red"},
		{Game: GamePoker, Amount: 10},
	}
	for _, bet := range bets {
		t.Run(string(bet.Game), func(t *testing.T) {
			a, err := ResolveMinigame(bet, 3, rand.New(rand.NewSource(42)))
			require.NoError(t, err)
			b, err := ResolveMinigame(bet, 3, rand.New(rand.NewSource(42)))
			require.NoError(t, err)
			assert.Equal(t, a, b)
			assert.Equal(t, a.Payout-a.Bet, a.Delta)
		})
	}
}

func TestSettleSlot(t *testing.T) {
	tests := []struct {
		reels  [3]string
		payout int64
	}{
		{[3]string{symbolSeven, symbolSeven, symbolSeven}, 100},
		{[3]string{symbolBell, symbolBell, symbolBell}, 50},
		{[3]string{symbolCherry, symbolLemon, symbolCherry}, 20},
		{[3]string{symbolCherry, symbolLemon, symbolStar}, 0},
	}
	for _, tt := range tests {
		o := settleSlot(10, tt.reels)
		assert.Equal(t, tt.payout, o.Payout, o.Detail)
	}
}

func TestSlotPool(t *testing.T) {
	assert.Len(t, slotPool(1), 5)
	assert.Len(t, slotPool(6), 10)
}

func TestCoinFlip_LevelBiasesWinRate(t *testing.T) {
	winRate := func(level int) float64 {
		rng := rand.New(rand.NewSource(7))
		wins := 0
		const rounds = 20000
		for i := 0; i < rounds; i++ {
			o, err := playCoinFlip(1, heads, level, rng)
			require.NoError(t, err)
			if o.Result == Win {
				wins++
			}
		}
		return float64(wins) / rounds
	}

	low, high := winRate(1), winRate(6)
	assert.InDelta(t, 0.35, low, 0.02)
	assert.InDelta(t, 0.60, high, 0.02)
}

func TestSettleHighLow(t *testing.T) {
	assert.Equal(t, Win, settleHighLow(10, high, 3, 9).Result)
	assert.Equal(t, Lose, settleHighLow(10, high, 9, 3).Result)
	assert.Equal(t, Win, settleHighLow(10, low, 9, 3).Result)

	push := settleHighLow(10, low, 5, 5)
	assert.Equal(t, Push, push.Result)
	assert.Equal(t, int64(0), push.Delta)
}

func TestSettleRoulette(t *testing.T) {
	red := rouletteBet{kind: "red"}
	assert.Equal(t, int64(20), settleRoulette(10, red, 1).Payout)
	assert.Equal(t, int64(0), settleRoulette(10, red, 2).Payout)
	assert.Equal(t, int64(0), settleRoulette(10, red, 0).Payout)
	assert.Equal(t, int64(0), settleRoulette(10, red, housePocket).Payout)

	assert.Equal(t, int64(20), settleRoulette(10, rouletteBet{kind: "even"}, 2).Payout)
	assert.Equal(t, int64(0), settleRoulette(10, rouletteBet{kind: "even"}, 0).Payout)
	assert.Equal(t, int64(360), settleRoulette(10, rouletteBet{kind: "number", number: 17}, 17).Payout)
	assert.Equal(t, int64(360), settleRoulette(10, rouletteBet{kind: "number", number: 0}, 0).Payout)
}

func TestPlayRoulette_HousePocketsOnlyBelowTopLevel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		o, err := playRoulette(1, "red", 6, rng)
		require.NoError(t, err)
		assert.NotEqual(t, "house", o.Detail)
	}
}

func hand(cards ...Card) Hand {
	var h Hand
	copy(h[:], cards)
	return h
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		hand Hand
		want Category
	}{
		{"high card", hand(Card{2, 0}, Card{5, 1}, Card{9, 2}, Card{11, 3}, Card{13, 0}), HighCard},
		{"pair", hand(Card{2, 0}, Card{2, 1}, Card{9, 2}, Card{11, 3}, Card{13, 0}), OnePair},
		{"two pair", hand(Card{2, 0}, Card{2, 1}, Card{9, 2}, Card{9, 3}, Card{13, 0}), TwoPair},
		{"trips", hand(Card{7, 0}, Card{7, 1}, Card{7, 2}, Card{11, 3}, Card{13, 0}), ThreeOfAKind},
		{"straight", hand(Card{5, 0}, Card{6, 1}, Card{7, 2}, Card{8, 3}, Card{9, 0}), Straight},
		{"wheel", hand(Card{14, 0}, Card{2, 1}, Card{3, 2}, Card{4, 3}, Card{5, 0}), Straight},
		{"flush", hand(Card{2, 1}, Card{5, 1}, Card{9, 1}, Card{11, 1}, Card{13, 1}), Flush},
		{"full house", hand(Card{7, 0}, Card{7, 1}, Card{7, 2}, Card{13, 3}, Card{13, 0}), FullHouse},
		{"quads", hand(Card{7, 0}, Card{7, 1}, Card{7, 2}, Card{7, 3}, Card{13, 0}), FourOfAKind},
		{"straight flush", hand(Card{10, 2}, Card{11, 2}, Card{12, 2}, Card{13, 2}, Card{14, 2}), StraightFlush},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.hand).Category)
		})
	}
}

func TestCompare(t *testing.T) {
	wheel := Evaluate(hand(Card{14, 0}, Card{2, 1}, Card{3, 2}, Card{4, 3}, Card{5, 0}))
	sixHigh := Evaluate(hand(Card{2, 0}, Card{3, 1}, Card{4, 2}, Card{5, 3}, Card{6, 0}))
	assert.Equal(t, -1, Compare(wheel, sixHigh))

	kingsAceKicker := Evaluate(hand(Card{13, 0}, Card{13, 1}, Card{14, 2}, Card{3, 3}, Card{2, 0}))
	kingsQueenKicker := Evaluate(hand(Card{13, 2}, Card{13, 3}, Card{12, 2}, Card{3, 0}, Card{2, 1}))
	assert.Equal(t, 1, Compare(kingsAceKicker, kingsQueenKicker))
	assert.Equal(t, 0, Compare(kingsAceKicker, kingsAceKicker))
}

func TestSettlePoker(t *testing.T) {
	flush := hand(Card{2, 1}, Card{5, 1}, Card{9, 1}, Card{11, 1}, Card{13, 1})
	pair := hand(Card{2, 0}, Card{2, 2}, Card{9, 2}, Card{11, 3}, Card{13, 0})

	win := settlePoker(10, flush, pair)
	assert.Equal(t, Win, win.Result)
	assert.Equal(t, int64(60), win.Payout)

	lose := settlePoker(10, pair, flush)
	assert.Equal(t, Lose, lose.Result)
	assert.Equal(t, int64(-10), lose.Delta)

	// 花色不参与比较
	other := hand(Card{2, 1}, Card{2, 3}, Card{9, 0}, Card{11, 0}, Card{13, 2})
	assert.Equal(t, Push, settlePoker(10, pair, other).Result)
}

func TestPoker_DealerStrengthFollowsLevel(t *testing.T) {
	winRate := func(level int) float64 {
		rng := rand.New(rand.NewSource(11))
		wins := 0
		const rounds = 5000
		for i := 0; i < rounds; i++ {
			if playPoker(1, level, rng).Result == Win {
				wins++
			}
		}
		return float64(wins) / rounds
	}

	assert.Less(t, winRate(1), winRate(3))
	assert.Less(t, winRate(3), winRate(6))
}

func TestDrawLottery(t *testing.T) {
	lot := &model.Lottery{
		Name:          "weekly",
		TicketPrice:   10,
		LoseRemaining: 5,
		Tiers: []model.LotteryTier{
			{Tier: 1, Prize: 500, Remaining: 1},
			{Tier: 2, Prize: 50, Remaining: 2},
		},
	}

	t.Run("draws at most the remaining pool", func(t *testing.T) {
		d := DrawLottery(lot, 100, rand.New(rand.NewSource(5)))
		assert.Equal(t, int64(8), d.Drawn)
		assert.Equal(t, int64(5), d.Lose)
		assert.Equal(t, int64(1), d.PerTier[1])
		assert.Equal(t, int64(2), d.PerTier[2])
		assert.Equal(t, int64(600), d.Payout)
	})

	t.Run("partial draw stays consistent", func(t *testing.T) {
		d := DrawLottery(lot, 3, rand.New(rand.NewSource(9)))
		assert.Equal(t, int64(3), d.Drawn)

		var prizes, wins int64
		for tier, n := range d.PerTier {
			wins += n
			for _, lt := range lot.Tiers {
				if lt.Tier == tier {
					assert.LessOrEqual(t, n, lt.Remaining)
					prizes += n * lt.Prize
				}
			}
		}
		assert.Equal(t, d.Drawn, wins+d.Lose)
		assert.Equal(t, prizes, d.Payout)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		DrawLottery(lot, 100, rand.New(rand.NewSource(1)))
		assert.Equal(t, int64(8), lot.Remaining())
	})

	t.Run("empty pool", func(t *testing.T) {
		empty := &model.Lottery{Name: "empty"}
		d := DrawLottery(empty, 3, rand.New(rand.NewSource(1)))
		assert.Equal(t, int64(0), d.Drawn)
	})
}
