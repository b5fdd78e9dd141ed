package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"
	"github.com/Rarurei/Raruin/internal/reward"

	"go.uber.org/zap"
)

// ============================================================================
// 小游戏与抽奖
// ============================================================================
//
// 小游戏的结果在开事务之前算好，事务里只做净额的入账/出账。
// 抽奖需要读取剩余票池，抽签在事务内完成，但只是内存计算，不做任何外部 I/O。

type GambleService struct {
	ledger *LedgerService

	mu  sync.Mutex // 保护 rng，*rand.Rand 不是并发安全的
	rng *rand.Rand
}

// NewGambleService rng 为 nil 时使用当前时间作为种子
func NewGambleService(ledger *LedgerService, rng *rand.Rand) *GambleService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &GambleService{ledger: ledger, rng: rng}
}

// ProbabilityLevel 当前档位，未设置时使用 gamble.probability_level
func (g *GambleService) ProbabilityLevel(ctx context.Context) (int, error) {
	level := g.ledger.cfg.Gamble.ProbabilityLevel
	err := g.ledger.view(ctx, "get_probability_level", func(tx repository.Tx) error {
		profile, err := tx.Profiles().Get(ctx, g.ledger.cfg.Gamble.ProfileScope)
		if err != nil {
			return err
		}
		if profile != nil {
			level = profile.Level
		}
		return nil
	})
	return level, err
}

// SetProbabilityLevel 管理员调整档位
func (g *GambleService) SetProbabilityLevel(ctx context.Context, level int) error {
	if !model.ValidLevel(level) {
		return ErrInvalidLevel
	}
	err := g.ledger.execute(ctx, "set_probability_level", nil, func(tx repository.Tx) error {
		return tx.Profiles().Set(ctx, g.ledger.cfg.Gamble.ProfileScope, level)
	})
	if err != nil {
		return err
	}
	g.ledger.logger.Info("概率档位已更新", zap.Int("level", level))
	return nil
}

type PlayResult struct {
	Outcome *reward.Outcome `json:"outcome"`
	Account *model.Account  `json:"account"`
}

// Play 下注一局
//
// 下注额必须为正且不超过当前余额；实际结算仍由条件更新保证余额不为负
func (g *GambleService) Play(ctx context.Context, userID string, bet reward.Bet) (*PlayResult, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if bet.Amount <= 0 {
		return nil, ErrInvalidBet
	}

	account, err := g.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bet.Amount > account.Balance {
		return nil, fmt.Errorf("%w: 下注额超过余额", ErrInvalidBet)
	}

	level, err := g.ProbabilityLevel(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	outcome, err := reward.ResolveMinigame(bet, level, g.rng)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBet, err)
	}

	reference := string(outcome.Game)
	err = g.ledger.execute(ctx, "play", []string{userID}, func(tx repository.Tx) error {
		var err error
		switch {
		case outcome.Delta > 0:
			account, err = g.ledger.apply(ctx, tx, userID, outcome.Delta, model.Earn, model.TransactionTypeGamble, reference)
		case outcome.Delta < 0:
			account, err = g.ledger.apply(ctx, tx, userID, -outcome.Delta, model.Spend, model.TransactionTypeGamble, reference)
		default:
			account, err = tx.Accounts().Ensure(ctx, userID, g.ledger.cfg.Ledger.DefaultStartingBalance)
		}
		if err != nil {
			return err
		}
		return g.ledger.emit(ctx, tx, &model.LedgerEvent{
			Type:    model.EventGambleSettled,
			UserID:  userID,
			Amount:  outcome.Delta,
			Balance: account.Balance,
			Detail: map[string]any{
				"game":   outcome.Game,
				"bet":    outcome.Bet,
				"result": outcome.Result,
				"detail": outcome.Detail,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &PlayResult{Outcome: outcome, Account: account}, nil
}

// ============================================================================
// 抽奖
// ============================================================================

// UpsertLottery 新建或覆盖抽奖池
func (g *GambleService) UpsertLottery(ctx context.Context, lottery *model.Lottery) (*model.Lottery, error) {
	if err := validName("抽奖池名", lottery.Name); err != nil {
		return nil, err
	}
	if lottery.TicketPrice <= 0 {
		return nil, fmt.Errorf("%w: 票价必须大于0", ErrInvalidAmount)
	}
	if lottery.LoseRemaining < 0 {
		return nil, fmt.Errorf("%w: 未中奖票数不能为负数", ErrInvalidAmount)
	}
	// 【关键点】票池总张数和奖金总额都要放得进 int64，单次抽奖的 Payout 不会超过奖金总额
	var tickets, pool int64 = lottery.LoseRemaining, 0
	seen := make(map[int]struct{}, len(lottery.Tiers))
	for _, t := range lottery.Tiers {
		if _, dup := seen[t.Tier]; dup {
			return nil, fmt.Errorf("%w: 奖级 %d 重复", ErrInvalidInput, t.Tier)
		}
		seen[t.Tier] = struct{}{}
		if t.Prize < 0 || t.Remaining < 0 {
			return nil, fmt.Errorf("%w: 奖级 %d 存在负数", ErrInvalidAmount, t.Tier)
		}
		if t.Remaining > math.MaxInt64-tickets {
			return nil, fmt.Errorf("%w: 票池总数溢出", ErrInvalidAmount)
		}
		tickets += t.Remaining
		if t.Remaining > 0 && t.Prize > (math.MaxInt64-pool)/t.Remaining {
			return nil, fmt.Errorf("%w: 奖金总额溢出", ErrInvalidAmount)
		}
		pool += t.Prize * t.Remaining
	}

	var saved *model.Lottery
	err := g.ledger.execute(ctx, "upsert_lottery", nil, func(tx repository.Tx) error {
		if err := tx.Lotteries().Save(ctx, lottery); err != nil {
			return err
		}
		var err error
		saved, err = tx.Lotteries().Get(ctx, lottery.Name)
		return err
	})
	return saved, err
}

func (g *GambleService) GetLottery(ctx context.Context, name string) (*model.Lottery, error) {
	var lottery *model.Lottery
	err := g.ledger.view(ctx, "get_lottery", func(tx repository.Tx) error {
		var err error
		lottery, err = tx.Lotteries().Get(ctx, name)
		return err
	})
	return lottery, err
}

type DrawResult struct {
	Draw    reward.LotteryDraw `json:"draw"`
	Cost    int64              `json:"cost"`
	Account *model.Account     `json:"account"`
}

// DrawLottery 购票并抽奖
//
// 票价扣款、奖金入账、票池扣减在同一事务内；票池已空返回 ErrOutOfStock
func (g *GambleService) DrawLottery(ctx context.Context, userID, name string, tickets int64) (*DrawResult, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if tickets <= 0 {
		return nil, ErrInvalidAmount
	}

	result := &DrawResult{}
	err := g.ledger.execute(ctx, "draw_lottery", []string{userID}, func(tx repository.Tx) error {
		lottery, err := tx.Lotteries().GetForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if lottery.Remaining() == 0 {
			return ErrOutOfStock
		}

		g.mu.Lock()
		draw := reward.DrawLottery(lottery, tickets, g.rng)
		g.mu.Unlock()

		if draw.Drawn > math.MaxInt64/lottery.TicketPrice {
			return fmt.Errorf("%w: 总票价溢出", ErrInvalidAmount)
		}
		result.Draw = draw
		result.Cost = draw.Drawn * lottery.TicketPrice
		reference := fmt.Sprintf("%s x%d", name, draw.Drawn)

		if result.Account, err = g.ledger.apply(ctx, tx, userID, result.Cost, model.Spend, model.TransactionTypeLottery, reference); err != nil {
			return err
		}
		if err := tx.Lotteries().Consume(ctx, name, draw.PerTier, draw.Lose); err != nil {
			return err
		}
		if draw.Payout > 0 {
			if result.Account, err = g.ledger.apply(ctx, tx, userID, draw.Payout, model.Earn, model.TransactionTypeLottery, reference); err != nil {
				return err
			}
		}

		return g.ledger.emit(ctx, tx, &model.LedgerEvent{
			Type:    model.EventLotteryDrawn,
			UserID:  userID,
			Amount:  draw.Payout - result.Cost,
			Balance: result.Account.Balance,
			Count:   draw.Drawn,
			Detail: map[string]any{
				"lottery":  name,
				"per_tier": draw.PerTier,
				"cost":     result.Cost,
				"payout":   draw.Payout,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
