package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Rarurei/Raruin/internal/config"
	"github.com/Rarurei/Raruin/internal/infrastructure/lock"
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"
	"github.com/Rarurei/Raruin/internal/repository/memory"
	"github.com/Rarurei/Raruin/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func backends() map[string]repotest.Factory {
	return map[string]repotest.Factory{
		"memory": func(*testing.T) repository.Store { return memory.New() },
		"sqlite": repotest.NewSQLite,
	}
}

func newLedger(t *testing.T, store repository.Store, mutate func(cfg *config.Config)) *LedgerService {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewLedgerService(store, lock.NewLocalLocker(), cfg, zaptest.NewLogger(t))
}

// forEachBackend 同一组断言分别跑在内存和 SQLite 上
func forEachBackend(t *testing.T, fn func(t *testing.T, svc *LedgerService, store repository.Store)) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			fn(t, newLedger(t, store, nil), store)
		})
	}
}

func pendingEvents(t *testing.T, store repository.Store) []model.LedgerEvent {
	t.Helper()
	var events []model.LedgerEvent
	require.NoError(t, store.View(context.Background(), func(tx repository.Tx) error {
		msgs, err := tx.Outbox().Pending(context.Background(), 1000)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			var e model.LedgerEvent
			require.NoError(t, json.Unmarshal([]byte(m.Payload), &e))
			events = append(events, e)
		}
		return nil
	}))
	return events
}

func TestLedger_DebitCreditScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, store repository.Store) {
		ctx := context.Background()

		_, err := svc.Debit(ctx, "alice", 1500)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		acc, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)

		acc, err = svc.Debit(ctx, "alice", 400)
		require.NoError(t, err)
		assert.Equal(t, int64(600), acc.Balance)
		assert.Equal(t, int64(400), acc.LifetimeSpent)

		acc, err = svc.Credit(ctx, "alice", 50)
		require.NoError(t, err)
		assert.Equal(t, int64(650), acc.Balance)
		assert.Equal(t, int64(50), acc.LifetimeEarned)

		list, total, err := svc.ListTransactions(ctx, "alice", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, list, 2)
		assert.Equal(t, model.TransactionTypeCredit, list[0].Type)
		assert.Equal(t, int64(600), list[0].BalanceBefore)
		assert.Equal(t, int64(650), list[0].BalanceAfter)
		assert.Equal(t, int64(-400), list[1].Amount)

		events := pendingEvents(t, store)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventDebited, events[0].Type)
		assert.Equal(t, model.EventCredited, events[1].Type)
	})
}

func TestLedger_InvalidAmount(t *testing.T) {
	svc := newLedger(t, memory.New(), nil)
	ctx := context.Background()

	for _, amount := range []int64{0, -1} {
		_, err := svc.Credit(ctx, "alice", amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = svc.Debit(ctx, "alice", amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = svc.Transfer(ctx, "alice", "bob", amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}

	_, err := svc.Credit(ctx, "", 10)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestLedger_GetDoesNotPersist(t *testing.T) {
	store := memory.New()
	svc := newLedger(t, store, nil)
	ctx := context.Background()

	acc, err := svc.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.Balance)

	ranking, err := svc.Ranking(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ranking)
}

func TestLedger_EnsureIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()

		first, err := svc.Ensure(ctx, "alice")
		require.NoError(t, err)
		second, err := svc.Ensure(ctx, "alice")
		require.NoError(t, err)

		assert.Equal(t, first.Balance, second.Balance)
		assert.Equal(t, first.LifetimeEarned, second.LifetimeEarned)
		assert.Equal(t, first.Version, second.Version)
	})
}

func TestLedger_StartingBalanceIsConfigurable(t *testing.T) {
	svc := newLedger(t, memory.New(), func(cfg *config.Config) { cfg.Ledger.DefaultStartingBalance = 0 })
	acc, err := svc.Ensure(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
}

func TestLedger_Transfer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()

		res, err := svc.Transfer(ctx, "alice", "bob", 300)
		require.NoError(t, err)
		assert.Equal(t, int64(700), res.From.Balance)
		assert.Equal(t, int64(1300), res.To.Balance)
		assert.Equal(t, int64(2000), res.From.Balance+res.To.Balance)

		_, err = svc.Transfer(ctx, "alice", "bob", 701)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		// 失败的转账不能给收款方加钱
		bob, err := svc.Get(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1300), bob.Balance)

		_, err = svc.Transfer(ctx, "alice", "alice", 1)
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})
}

func TestLedger_CreditOverflowRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, store repository.Store) {
		ctx := context.Background()

		_, err := svc.Credit(ctx, "alice", math.MaxInt64)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		alice, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), alice.Balance)

		// 刚好填满不算溢出
		bob, err := svc.Credit(ctx, "bob", math.MaxInt64-1000)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), bob.Balance)

		_, err = svc.Transfer(ctx, "alice", "bob", 1)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		// 收款方溢出时付款方的扣款一起回滚
		alice, err = svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), alice.Balance)
		bob, err = svc.Get(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), bob.Balance)

		// 只有 bob 那笔成功的入账发出了事件
		assert.Len(t, pendingEvents(t, store), 1)
	})
}

func TestLedger_NoNegativeBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewSource(99))
		users := []string{"a", "b", "c"}

		for i := 0; i < 200; i++ {
			from := users[rng.Intn(len(users))]
			amount := int64(rng.Intn(700) + 1)

			before, err := svc.Get(ctx, from)
			require.NoError(t, err)

			if rng.Intn(2) == 0 {
				_, err = svc.Debit(ctx, from, amount)
			} else {
				_, err = svc.Transfer(ctx, from, users[(rng.Intn(2)+1+indexOf(users, from))%len(users)], amount)
			}

			after, getErr := svc.Get(ctx, from)
			require.NoError(t, getErr)
			assert.GreaterOrEqual(t, after.Balance, int64(0))
			if errors.Is(err, ErrInsufficientBalance) {
				assert.Equal(t, before.Balance, after.Balance)
			} else {
				require.NoError(t, err)
			}

			if i%10 == 0 {
				_, err = svc.Credit(ctx, from, 500)
				require.NoError(t, err)
			}
		}
	})
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestLedger_ConcurrentOppositeTransfers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		_, err := svc.Ensure(ctx, "alice")
		require.NoError(t, err)
		_, err = svc.Ensure(ctx, "bob")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := svc.Transfer(ctx, "alice", "bob", 7)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := svc.Transfer(ctx, "bob", "alice", 3)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		alice, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		bob, err := svc.Get(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1000-25*7+25*3), alice.Balance)
		assert.Equal(t, int64(2000), alice.Balance+bob.Balance)
	})
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Debit(ctx, "alice", 100)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)
		acc, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), acc.Balance)
		assert.Equal(t, int64(1000), acc.LifetimeSpent)
	})
}

func TestLedger_AdminReset(t *testing.T) {
	tests := []struct {
		name          string
		resetCounters bool
		wantEarned    int64
		wantSpent     int64
	}{
		{"zero counters", true, 0, 0},
		{"keep counters", false, 200, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			svc := newLedger(t, store, func(cfg *config.Config) { cfg.Ledger.ResetLifetimeCounters = tt.resetCounters })
			ctx := context.Background()

			_, err := svc.Debit(ctx, "alice", 500)
			require.NoError(t, err)
			_, err = svc.Credit(ctx, "alice", 200)
			require.NoError(t, err)

			acc, err := svc.AdminReset(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, int64(1000), acc.Balance)
			assert.Equal(t, tt.wantEarned, acc.LifetimeEarned)
			assert.Equal(t, tt.wantSpent, acc.LifetimeSpent)

			list, _, err := svc.ListTransactions(ctx, "alice", 1, 1)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, model.TransactionTypeReset, list[0].Type)
			assert.Equal(t, int64(300), list[0].Amount)
		})
	}
}

func TestLedger_GrantAndDeductMany(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()

		accounts, err := svc.GrantMany(ctx, []string{"a", "b", "a"}, 100)
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, int64(1100), accounts[0].Balance)

		_, err = svc.Debit(ctx, "b", 1000)
		require.NoError(t, err)

		res, err := svc.DeductMany(ctx, []string{"a", "b", "c"}, 500)
		require.NoError(t, err)
		assert.Len(t, res.Applied, 2)
		assert.Equal(t, []string{"b"}, res.Skipped)

		b, err := svc.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, int64(100), b.Balance)

		top, err := svc.Ranking(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "a", top[0].UserID)
		assert.Equal(t, "c", top[1].UserID)
	})
}

func TestLedger_Rewards(t *testing.T) {
	ctx := context.Background()

	t.Run("chat", func(t *testing.T) {
		svc := newLedger(t, memory.New(), func(cfg *config.Config) { cfg.Rewards.ChatRewardPerCharacter = 2 })
		acc, err := svc.RewardChat(ctx, "alice", 15)
		require.NoError(t, err)
		assert.Equal(t, int64(1030), acc.Balance)
		assert.Equal(t, int64(30), acc.LifetimeEarned)
	})

	t.Run("chat disabled", func(t *testing.T) {
		store := memory.New()
		svc := newLedger(t, store, func(cfg *config.Config) { cfg.Rewards.ChatRewardPerCharacter = 0 })
		acc, err := svc.RewardChat(ctx, "alice", 15)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)
		assert.Empty(t, pendingEvents(t, store))
	})

	t.Run("voice rounds down with a one minute floor", func(t *testing.T) {
		svc := newLedger(t, memory.New(), nil)
		acc, err := svc.RewardVoice(ctx, "alice", 20*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1030), acc.Balance)

		acc, err = svc.RewardVoice(ctx, "alice", 3*time.Minute+59*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1120), acc.Balance)

		_, err = svc.RewardVoice(ctx, "alice", -time.Second)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

// slowStore 事务一直阻塞到 ctx 超时
type slowStore struct {
	repository.Store
}

func (slowStore) Transaction(ctx context.Context, _ func(tx repository.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLedger_TimeoutIsStorageError(t *testing.T) {
	svc := newLedger(t, slowStore{Store: memory.New()}, func(cfg *config.Config) {
		cfg.Ledger.OperationTimeout = 20 * time.Millisecond
	})

	_, err := svc.Credit(context.Background(), "alice", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsBusinessError(err))

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Timeout())
	assert.Equal(t, "credit", se.Op)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{repository.ErrBalanceNotEnough, ErrInsufficientBalance},
		{repository.ErrStockNotEnough, ErrOutOfStock},
		{repository.ErrLotteryExhausted, ErrOutOfStock},
		{repository.ErrQuantityNotEnough, ErrInsufficientQuantity},
		{repository.ErrShopNotFound, ErrShopNotFound},
		{repository.ErrProductNotFound, ErrProductNotFound},
		{repository.ErrLotteryNotFound, ErrLotteryNotFound},
		{ErrForbidden, ErrForbidden},
		{errors.New("disk full"), ErrStorage},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, translate("op", tt.in), tt.want, tt.in.Error())
	}
	assert.NoError(t, translate("op", nil))
}
