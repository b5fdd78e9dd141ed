package service

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"
	"github.com/Rarurei/Raruin/internal/repository/memory"
	"github.com/Rarurei/Raruin/internal/reward"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGamble(svc *LedgerService, seed int64) *GambleService {
	return NewGambleService(svc, rand.New(rand.NewSource(seed)))
}

func TestPlay_SettlesNetDelta(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, store repository.Store) {
		ctx := context.Background()
		g := newGamble(svc, 7)

		balance := int64(1000)
		for _, game := range reward.Games {
			bet := reward.Bet{Game: game, Amount: 50}
			switch game {
			case reward.GameCoinFlip:
				bet.Choice = "heads"
			case reward.GameHighLow:
				bet.Choice = "high"
			case reward.GameRoulette:
				bet.Choice = "red"
			}

			res, err := g.Play(ctx, "alice", bet)
			require.NoError(t, err, game)
			assert.Equal(t, res.Outcome.Payout-50, res.Outcome.Delta)
			balance += res.Outcome.Delta
			assert.Equal(t, balance, res.Account.Balance)
		}

		events := pendingEvents(t, store)
		require.Len(t, events, len(reward.Games))
		for _, e := range events {
			assert.Equal(t, model.EventGambleSettled, e.Type)
		}
	})
}

func TestPlay_Rejections(t *testing.T) {
	svc := newLedger(t, memory.New(), nil)
	g := newGamble(svc, 1)
	ctx := context.Background()

	_, err := g.Play(ctx, "alice", reward.Bet{Game: reward.GameSlot, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidBet)

	_, err = g.Play(ctx, "alice", reward.Bet{Game: reward.GameSlot, Amount: 1001})
	assert.ErrorIs(t, err, ErrInvalidBet)

	_, err = g.Play(ctx, "alice", reward.Bet{Game: "dice", Amount: 10})
	assert.ErrorIs(t, err, ErrInvalidBet)

	_, err = g.Play(ctx, "alice", reward.Bet{Game: reward.GameCoinFlip, Amount: 10, Choice: "edge"})
	assert.ErrorIs(t, err, ErrInvalidBet)

	acc, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.Balance)
}

func TestProbabilityLevel(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		g := newGamble(svc, 1)

		level, err := g.ProbabilityLevel(ctx)
		require.NoError(t, err)
		assert.Equal(t, svc.cfg.Gamble.ProbabilityLevel, level)

		assert.ErrorIs(t, g.SetProbabilityLevel(ctx, 0), ErrInvalidLevel)
		assert.ErrorIs(t, g.SetProbabilityLevel(ctx, 7), ErrInvalidLevel)

		require.NoError(t, g.SetProbabilityLevel(ctx, 5))
		level, err = g.ProbabilityLevel(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, level)
	})
}

func TestDrawLottery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, store repository.Store) {
		ctx := context.Background()
		g := newGamble(svc, 3)

		_, err := g.UpsertLottery(ctx, &model.Lottery{
			Name:          "weekly",
			TicketPrice:   100,
			LoseRemaining: 2,
			Tiers:         []model.LotteryTier{{Tier: 1, Label: "一等奖", Prize: 500, Remaining: 1}},
		})
		require.NoError(t, err)

		// 只剩 3 张，买 5 张只抽 3 张、只扣 3 张的钱
		res, err := g.DrawLottery(ctx, "alice", "weekly", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Draw.Drawn)
		assert.Equal(t, int64(300), res.Cost)
		assert.Equal(t, int64(1), res.Draw.PerTier[1])
		assert.Equal(t, int64(2), res.Draw.Lose)
		assert.Equal(t, int64(500), res.Draw.Payout)
		assert.Equal(t, int64(1200), res.Account.Balance)

		lot, err := g.GetLottery(ctx, "weekly")
		require.NoError(t, err)
		assert.Equal(t, int64(0), lot.Remaining())

		_, err = g.DrawLottery(ctx, "alice", "weekly", 1)
		assert.ErrorIs(t, err, ErrOutOfStock)

		_, err = g.DrawLottery(ctx, "alice", "monthly", 1)
		assert.ErrorIs(t, err, ErrLotteryNotFound)

		events := pendingEvents(t, store)
		require.NotEmpty(t, events)
		assert.Equal(t, model.EventLotteryDrawn, events[len(events)-1].Type)
	})
}

func TestDrawLottery_InsufficientBalanceKeepsPool(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		g := newGamble(svc, 3)

		_, err := g.UpsertLottery(ctx, &model.Lottery{Name: "pricey", TicketPrice: 600, LoseRemaining: 10})
		require.NoError(t, err)

		_, err = g.DrawLottery(ctx, "alice", "pricey", 2)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		lot, err := g.GetLottery(ctx, "pricey")
		require.NoError(t, err)
		assert.Equal(t, int64(10), lot.LoseRemaining)

		acc, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)
	})
}

func TestDrawLottery_CostOverflowRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		g := newGamble(svc, 3)

		_, err := g.UpsertLottery(ctx, &model.Lottery{Name: "whale", TicketPrice: math.MaxInt64 / 2, LoseRemaining: 3})
		require.NoError(t, err)

		_, err = g.DrawLottery(ctx, "alice", "whale", 3)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		lot, err := g.GetLottery(ctx, "whale")
		require.NoError(t, err)
		assert.Equal(t, int64(3), lot.LoseRemaining)

		acc, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)
	})
}

func TestPlay_PayoutOverflowRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		g := newGamble(svc, 1)

		_, err := svc.Credit(ctx, "alice", math.MaxInt64-1000)
		require.NoError(t, err)

		_, err = g.Play(ctx, "alice", reward.Bet{Game: reward.GameRoulette, Amount: math.MaxInt64/36 + 1, Choice: "7"})
		assert.ErrorIs(t, err, ErrInvalidBet)

		acc, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), acc.Balance)
	})
}

func TestUpsertLottery_Validation(t *testing.T) {
	g := newGamble(newLedger(t, memory.New(), nil), 1)
	ctx := context.Background()

	tests := []struct {
		name    string
		lottery *model.Lottery
		want    error
	}{
		{"no name", &model.Lottery{TicketPrice: 1}, ErrInvalidInput},
		{"free ticket", &model.Lottery{Name: "x"}, ErrInvalidAmount},
		{"negative lose", &model.Lottery{Name: "x", TicketPrice: 1, LoseRemaining: -1}, ErrInvalidAmount},
		{"duplicate tier", &model.Lottery{Name: "x", TicketPrice: 1, Tiers: []model.LotteryTier{{Tier: 1}, {Tier: 1}}}, ErrInvalidInput},
		{"negative prize", &model.Lottery{Name: "x", TicketPrice: 1, Tiers: []model.LotteryTier{{Tier: 1, Prize: -5}}}, ErrInvalidAmount},
		{"ticket count overflow", &model.Lottery{Name: "x", TicketPrice: 1, LoseRemaining: math.MaxInt64, Tiers: []model.LotteryTier{{Tier: 1, Remaining: 1}}}, ErrInvalidAmount},
		{"prize pool overflow", &model.Lottery{Name: "x", TicketPrice: 1, Tiers: []model.LotteryTier{{Tier: 1, Prize: math.MaxInt64 / 2, Remaining: 3}}}, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.UpsertLottery(ctx, tt.lottery)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
