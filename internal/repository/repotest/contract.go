package repotest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 每次调用返回一个全新的空 Store
type Factory func(t *testing.T) repository.Store

var errBoom = errors.New("boom")

// Run 对同一个后端跑完整的存储契约
func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("Inventory", func(t *testing.T) { testInventory(t, newStore(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, newStore(t)) })
	t.Run("Journal", func(t *testing.T) { testJournal(t, newStore(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("Lottery", func(t *testing.T) { testLottery(t, newStore(t)) })
	t.Run("Profile", func(t *testing.T) { testProfile(t, newStore(t)) })
}

func tx(t *testing.T, s repository.Store, fn func(tx repository.Tx) error) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), fn))
}

func testAccounts(t *testing.T, s repository.Store) {
	ctx := context.Background()

	tx(t, s, func(tx repository.Tx) error {
		_, err := tx.Accounts().Get(ctx, "alice")
		assert.ErrorIs(t, err, repository.ErrAccountNotFound)

		acc, err := tx.Accounts().Ensure(ctx, "alice", 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)

		// 再次 Ensure 不覆盖
		acc, err = tx.Accounts().Ensure(ctx, "alice", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)

		acc, err = tx.Accounts().ApplyDelta(ctx, "alice", 300, model.Spend)
		require.NoError(t, err)
		assert.Equal(t, int64(700), acc.Balance)
		assert.Equal(t, int64(300), acc.LifetimeSpent)

		_, err = tx.Accounts().ApplyDelta(ctx, "alice", 701, model.Spend)
		assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

		acc, err = tx.Accounts().ApplyDelta(ctx, "alice", 50, model.Earn)
		require.NoError(t, err)
		assert.Equal(t, int64(750), acc.Balance)
		assert.Equal(t, int64(50), acc.LifetimeEarned)

		_, err = tx.Accounts().ApplyDelta(ctx, "ghost", 1, model.Earn)
		assert.ErrorIs(t, err, repository.ErrAccountNotFound)

		require.NoError(t, tx.Accounts().Lock(ctx, "bob", "alice"))
		return nil
	})

	tx(t, s, func(tx repository.Tx) error {
		acc, err := tx.Accounts().Reset(ctx, "bob", 10, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(10), acc.Balance)

		_, err = tx.Accounts().Ensure(ctx, "carol", 750)
		require.NoError(t, err)

		top, err := tx.Accounts().Top(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		// 同余额按 user_id 升序
		assert.Equal(t, "alice", top[0].UserID)
		assert.Equal(t, "carol", top[1].UserID)
		return nil
	})
}

func testRollback(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		_, err := tx.Accounts().Ensure(ctx, "alice", 100)
		return err
	})

	err := s.Transaction(ctx, func(tx repository.Tx) error {
		if _, err := tx.Accounts().ApplyDelta(ctx, "alice", 100, model.Spend); err != nil {
			return err
		}
		if _, err := tx.Accounts().Ensure(ctx, "bob", 100); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, s.View(ctx, func(tx repository.Tx) error {
		acc, err := tx.Accounts().Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), acc.Balance)

		_, err = tx.Accounts().Get(ctx, "bob")
		assert.ErrorIs(t, err, repository.ErrAccountNotFound)
		return nil
	}))
}

func testCatalog(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		inv := tx.Inventory()

		err := inv.UpsertProduct(ctx, &model.Product{ShopName: "nope", Name: "x", Price: 1})
		assert.ErrorIs(t, err, repository.ErrShopNotFound)

		require.NoError(t, inv.CreateShop(ctx, "general"))
		require.NoError(t, inv.CreateShop(ctx, "general"))
		require.NoError(t, inv.UpsertProduct(ctx, &model.Product{ShopName: "general", Name: "apple", Price: 10, Stock: model.Finite(1)}))
		require.NoError(t, inv.UpsertProduct(ctx, &model.Product{ShopName: "general", Name: "water", Price: 1, Stock: model.UnlimitedStock()}))
		require.NoError(t, inv.UpsertProduct(ctx, &model.Product{ShopName: "general", Name: "badge", Price: 5, Stock: model.Finite(3), RequiredRole: "vip"}))

		all, err := inv.ListProducts(ctx, "general", nil)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		public, err := inv.ListProducts(ctx, "general", model.Capabilities{})
		require.NoError(t, err)
		assert.Len(t, public, 2)

		vip, err := inv.ListProducts(ctx, "general", model.Capabilities{"vip"})
		require.NoError(t, err)
		assert.Len(t, vip, 3)

		require.NoError(t, inv.DecrementStock(ctx, "general", "apple", 1))
		assert.ErrorIs(t, inv.DecrementStock(ctx, "general", "apple", 1), repository.ErrStockNotEnough)
		require.NoError(t, inv.DecrementStock(ctx, "general", "water", 1000))

		water, err := inv.GetProduct(ctx, "general", "water")
		require.NoError(t, err)
		assert.True(t, water.Stock.Unlimited)

		// 覆盖已有商品
		require.NoError(t, inv.UpsertProduct(ctx, &model.Product{ShopName: "general", Name: "apple", Price: 12, Stock: model.Finite(4)}))
		apple, err := inv.GetProduct(ctx, "general", "apple")
		require.NoError(t, err)
		assert.Equal(t, int64(12), apple.Price)
		assert.Equal(t, int64(4), apple.Stock.Remaining)

		require.NoError(t, inv.DeleteShop(ctx, "general"))
		_, err = inv.GetProduct(ctx, "general", "apple")
		assert.ErrorIs(t, err, repository.ErrProductNotFound)

		exists, err := inv.ShopExists(ctx, "general")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
}

func testInventory(t *testing.T, s repository.Store) {
	ctx := context.Background()
	item := model.ItemKey{ShopName: "general", ProductName: "apple"}
	tx(t, s, func(tx repository.Tx) error {
		inv := tx.Inventory()

		n, err := inv.AdjustInventory(ctx, "alice", item, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = inv.AdjustInventory(ctx, "alice", item, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		_, err = inv.AdjustInventory(ctx, "alice", item, -6)
		assert.ErrorIs(t, err, repository.ErrQuantityNotEnough)

		n, err = inv.AdjustInventory(ctx, "alice", item, -5)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		// 数量归零后整行删除
		_, err = inv.GetEntry(ctx, "alice", item)
		assert.ErrorIs(t, err, repository.ErrQuantityNotEnough)

		entries, err := inv.GetInventory(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, entries)

		n, err = inv.AdjustInventory(ctx, "alice", item, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		return nil
	})
}

func testReplace(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		_, err := tx.Accounts().Ensure(ctx, "stale", 1)
		require.NoError(t, err)
		require.NoError(t, tx.Inventory().CreateShop(ctx, "old"))
		return nil
	})

	tx(t, s, func(tx repository.Tx) error {
		require.NoError(t, tx.Accounts().Replace(ctx, []*model.Account{
			{UserID: "alice", Balance: 5, LifetimeEarned: 7, LifetimeSpent: 2},
		}))
		return tx.Inventory().Replace(ctx,
			[]*model.Shop{{Name: "general"}},
			[]*model.Product{{ShopName: "general", Name: "apple", Price: 3, Stock: model.UnlimitedStock()}},
			[]*model.InventoryEntry{{UserID: "alice", ShopName: "general", ProductName: "apple", Quantity: 2}},
		)
	})

	require.NoError(t, s.View(ctx, func(tx repository.Tx) error {
		accounts, err := tx.Accounts().List(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		assert.Equal(t, "alice", accounts[0].UserID)
		assert.Equal(t, int64(7), accounts[0].LifetimeEarned)

		shops, err := tx.Inventory().ListShops(ctx)
		require.NoError(t, err)
		require.Len(t, shops, 1)
		assert.Equal(t, "general", shops[0].Name)

		products, err := tx.Inventory().ListAllProducts(ctx)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.True(t, products[0].Stock.Unlimited)

		entries, err := tx.Inventory().ListAllEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(2), entries[0].Quantity)
		return nil
	}))
}

func testJournal(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		for i, no := range []string{"t1", "t2", "t3"} {
			require.NoError(t, tx.Journal().Create(ctx, &model.AccountTransaction{
				TransactionNo: no,
				UserID:        "alice",
				Amount:        int64(i + 1),
				Type:          model.TransactionTypeCredit,
			}))
		}
		require.NoError(t, tx.Journal().Create(ctx, &model.AccountTransaction{
			TransactionNo: "t4", UserID: "bob", Amount: 1, Type: model.TransactionTypeCredit,
		}))
		return nil
	})

	require.NoError(t, s.View(ctx, func(tx repository.Tx) error {
		list, total, err := tx.Journal().ListByUserID(ctx, "alice", 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, list, 2)
		// 新的在前
		assert.Equal(t, "t3", list[0].TransactionNo)

		list, _, err = tx.Journal().ListByUserID(ctx, "alice", 2, 2)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "t1", list[0].TransactionNo)
		return nil
	}))
}

func testOutbox(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		for _, user := range []string{"alice", "bob", ""} {
			require.NoError(t, tx.Outbox().Enqueue(ctx, "events", &model.LedgerEvent{Type: model.EventCredited, UserID: user}))
		}
		return nil
	})

	var alice, bob, restore *model.OutboxMessage
	require.NoError(t, s.View(ctx, func(tx repository.Tx) error {
		pending, err := tx.Outbox().Pending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		alice, bob, restore = pending[0], pending[1], pending[2]
		return nil
	}))

	// 按用户分区，没有用户时退回 event_id
	assert.Equal(t, "alice", alice.MessageKey)
	assert.Equal(t, "bob", bob.MessageKey)
	var event model.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(restore.Payload), &event))
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, event.EventID, restore.MessageKey)

	tx(t, s, func(tx repository.Tx) error {
		require.NoError(t, tx.Outbox().MarkSent(ctx, alice.ID))

		failed, err := tx.Outbox().RecordFailure(ctx, bob.ID, 2)
		require.NoError(t, err)
		assert.False(t, failed)
		failed, err = tx.Outbox().RecordFailure(ctx, bob.ID, 2)
		require.NoError(t, err)
		assert.True(t, failed)

		// 已离开 PENDING 的消息不再变动
		require.NoError(t, tx.Outbox().MarkSent(ctx, bob.ID))
		failed, err = tx.Outbox().RecordFailure(ctx, alice.ID, 1)
		require.NoError(t, err)
		assert.False(t, failed)
		return nil
	})

	require.NoError(t, s.View(ctx, func(tx repository.Tx) error {
		pending, err := tx.Outbox().Pending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, restore.ID, pending[0].ID)
		return nil
	}))

}

func testLottery(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		_, err := tx.Lotteries().Get(ctx, "weekly")
		assert.ErrorIs(t, err, repository.ErrLotteryNotFound)

		return tx.Lotteries().Save(ctx, &model.Lottery{
			Name:          "weekly",
			TicketPrice:   10,
			LoseRemaining: 5,
			Tiers: []model.LotteryTier{
				{Tier: 2, Label: "二等奖", Prize: 50, Remaining: 2},
				{Tier: 1, Label: "一等奖", Prize: 500, Remaining: 1},
			},
		})
	})

	tx(t, s, func(tx repository.Tx) error {
		lot, err := tx.Lotteries().GetForUpdate(ctx, "weekly")
		require.NoError(t, err)
		assert.Equal(t, int64(8), lot.Remaining())
		require.Len(t, lot.Tiers, 2)
		assert.Equal(t, 1, lot.Tiers[0].Tier)

		require.NoError(t, tx.Lotteries().Consume(ctx, "weekly", map[int]int64{2: 1}, 3))
		return nil
	})

	err := s.Transaction(ctx, func(tx repository.Tx) error {
		return tx.Lotteries().Consume(ctx, "weekly", map[int]int64{1: 2}, 0)
	})
	assert.ErrorIs(t, err, repository.ErrLotteryExhausted)

	require.NoError(t, s.View(ctx, func(tx repository.Tx) error {
		lot, err := tx.Lotteries().Get(ctx, "weekly")
		require.NoError(t, err)
		assert.Equal(t, int64(4), lot.Remaining())
		assert.Equal(t, int64(2), lot.LoseRemaining)
		return nil
	}))
}

func testProfile(t *testing.T, s repository.Store) {
	ctx := context.Background()
	tx(t, s, func(tx repository.Tx) error {
		p, err := tx.Profiles().Get(ctx, "global")
		require.NoError(t, err)
		assert.Nil(t, p)

		require.NoError(t, tx.Profiles().Set(ctx, "global", 2))
		require.NoError(t, tx.Profiles().Set(ctx, "global", 5))

		p, err = tx.Profiles().Get(ctx, "global")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 5, p.Level)
		return nil
	})
}
