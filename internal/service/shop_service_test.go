package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"
	"github.com/Rarurei/Raruin/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedShop(t *testing.T, svc *LedgerService, shop string, products ...*model.Product) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.CreateShop(ctx, shop))
	for _, p := range products {
		p.ShopName = shop
		_, err := svc.UpsertProduct(ctx, p)
		require.NoError(t, err)
	}
}

func buy(svc *LedgerService, user, shop, product string, roles ...string) (*PurchaseResult, error) {
	return svc.Purchase(context.Background(), &PurchaseRequest{
		UserID:      user,
		ShopName:    shop,
		ProductName: product,
		Roles:       roles,
	})
}

func TestPurchase_Success(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, store repository.Store) {
		ctx := context.Background()
		seedShop(t, svc, "Market", &model.Product{Name: "Potion", Price: 250, Stock: model.Finite(3)})

		res, err := buy(svc, "alice", "Market", "Potion")
		require.NoError(t, err)
		assert.Equal(t, int64(750), res.Account.Balance)
		assert.Equal(t, int64(250), res.Account.LifetimeSpent)
		assert.Equal(t, int64(1), res.Quantity)
		assert.Equal(t, int64(2), res.Product.Stock.Remaining)

		res, err = buy(svc, "alice", "Market", "Potion")
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Quantity)

		inv, err := svc.GetInventory(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, inv, 1)
		assert.Equal(t, "Potion", inv[0].ProductName)
		assert.Equal(t, int64(2), inv[0].Quantity)

		products, _, err := svc.ListProducts(ctx, "Market", nil, 1, 10)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, int64(1), products[0].Stock.Remaining)

		list, _, err := svc.ListTransactions(ctx, "alice", 1, 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, model.TransactionTypePurchase, list[0].Type)
		assert.Equal(t, "Market:Potion", list[0].Reference)

		events := pendingEvents(t, store)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventPurchased, events[1].Type)
		assert.Equal(t, "Potion", events[1].Product)
	})
}

func TestPurchase_Failures(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		seedShop(t, svc, "Market",
			&model.Product{Name: "Crown", Price: 100, Stock: model.UnlimitedStock(), RequiredRole: "vip"},
			&model.Product{Name: "Relic", Price: 5000, Stock: model.Finite(1)},
			&model.Product{Name: "Empty", Price: 10, Stock: model.Finite(0)},
		)

		_, err := buy(svc, "alice", "Nowhere", "Potion")
		assert.ErrorIs(t, err, ErrShopNotFound)

		_, err = buy(svc, "alice", "Market", "Potion")
		assert.ErrorIs(t, err, ErrProductNotFound)

		_, err = buy(svc, "alice", "Market", "Crown", "member")
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = buy(svc, "alice", "Market", "Empty")
		assert.ErrorIs(t, err, ErrOutOfStock)

		_, err = buy(svc, "alice", "Market", "Relic")
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		// 余额不足时库存不能被扣
		products, _, err := svc.ListProducts(ctx, "Market", nil, 1, 10)
		require.NoError(t, err)
		for _, p := range products {
			if p.Name == "Relic" {
				assert.Equal(t, int64(1), p.Stock.Remaining)
			}
		}
		acc, err := svc.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)
		inv, err := svc.GetInventory(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, inv)

		res, err := buy(svc, "alice", "Market", "Crown", "member", "vip")
		require.NoError(t, err)
		assert.True(t, res.Product.Stock.Unlimited)
		assert.Equal(t, int64(900), res.Account.Balance)
	})
}

func TestPurchase_LastItemRace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		seedShop(t, svc, "Market", &model.Product{Name: "Potion", Price: 100, Stock: model.Finite(1)})

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(i int, user string) {
				defer wg.Done()
				_, errs[i] = buy(svc, user, "Market", "Potion")
			}(i, user)
		}
		wg.Wait()

		var ok, outOfStock int
		var loser string
		for i, err := range errs {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ErrOutOfStock):
				outOfStock++
				loser = []string{"alice", "bob"}[i]
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, outOfStock)

		acc, err := svc.Get(ctx, loser)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), acc.Balance)
	})
}

func TestPurchase_NoOversell(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		seedShop(t, svc, "Market", &model.Product{Name: "Potion", Price: 10, Stock: model.Finite(3)})

		var wg sync.WaitGroup
		var mu sync.Mutex
		sold := 0
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := buy(svc, fmt.Sprintf("user-%d", i), "Market", "Potion"); err == nil {
					mu.Lock()
					sold++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 3, sold)
		products, _, err := svc.ListProducts(ctx, "Market", nil, 1, 10)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, int64(0), products[0].Stock.Remaining)
	})
}

func TestItems_TransferAndConsume(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, store repository.Store) {
		ctx := context.Background()
		seedShop(t, svc, "Market", &model.Product{Name: "Potion", Price: 10, Stock: model.UnlimitedStock()})
		for i := 0; i < 3; i++ {
			_, err := buy(svc, "alice", "Market", "Potion")
			require.NoError(t, err)
		}

		res, err := svc.TransferItem(ctx, "alice", "bob", "Market", "Potion", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.FromQuantity)
		assert.Equal(t, int64(2), res.ToQuantity)

		_, err = svc.TransferItem(ctx, "alice", "bob", "Market", "Potion", 2)
		assert.ErrorIs(t, err, ErrInsufficientQuantity)
		_, err = svc.TransferItem(ctx, "alice", "alice", "Market", "Potion", 1)
		assert.ErrorIs(t, err, ErrInvalidTarget)
		_, err = svc.TransferItem(ctx, "alice", "bob", "Market", "Potion", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		left, err := svc.ConsumeItem(ctx, "alice", "Market", "Potion", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)

		// 数量归零后整行删除
		inv, err := svc.GetInventory(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, inv)

		_, err = svc.ConsumeItem(ctx, "alice", "Market", "Potion", 1)
		assert.ErrorIs(t, err, ErrInsufficientQuantity)

		events := pendingEvents(t, store)
		last := events[len(events)-1]
		assert.Equal(t, model.EventItemConsumed, last.Type)
		assert.EqualValues(t, 0, last.Detail["remaining"])
	})
}

func TestCatalog_Admin(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()

		_, err := svc.UpsertProduct(ctx, &model.Product{ShopName: "Nowhere", Name: "Potion", Price: 10})
		assert.ErrorIs(t, err, ErrShopNotFound)

		seedShop(t, svc, "Market", &model.Product{Name: "Potion", Price: 10, Stock: model.Finite(5)})
		require.NoError(t, svc.CreateShop(ctx, "Market"))

		_, err = svc.UpsertProduct(ctx, &model.Product{ShopName: "Market", Name: "Bad", Price: 0})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = svc.UpsertProduct(ctx, &model.Product{ShopName: "Market", Name: "Bad", Price: 1, Stock: model.Finite(-1)})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.ErrorIs(t, svc.CreateShop(ctx, ""), ErrInvalidInput)

		saved, err := svc.UpsertProduct(ctx, &model.Product{ShopName: "Market", Name: "Potion", Price: 20, Stock: model.UnlimitedStock()})
		require.NoError(t, err)
		assert.Equal(t, int64(20), saved.Price)
		assert.True(t, saved.Stock.Unlimited)

		_, err = buy(svc, "alice", "Market", "Potion")
		require.NoError(t, err)

		require.NoError(t, svc.DeleteProduct(ctx, "Market", "Potion"))
		require.NoError(t, svc.DeleteProduct(ctx, "Market", "Potion"))
		require.NoError(t, svc.DeleteShop(ctx, "Market"))
		require.NoError(t, svc.DeleteShop(ctx, "Market"))

		shops, info, err := svc.ListShops(ctx, 1, 10)
		require.NoError(t, err)
		assert.Empty(t, shops)
		assert.Equal(t, 1, info.TotalPages)

		// 商店删除后已持有的物品保留
		inv, err := svc.GetInventory(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, inv, 1)
		assert.Equal(t, int64(1), inv[0].Quantity)

		_, _, err = svc.ListProducts(ctx, "Market", nil, 1, 10)
		assert.ErrorIs(t, err, ErrShopNotFound)
	})
}

func TestListProducts_RolesAndPages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *LedgerService, _ repository.Store) {
		ctx := context.Background()
		products := []*model.Product{{Name: "Crown", Price: 1, Stock: model.UnlimitedStock(), RequiredRole: "vip"}}
		for i := 0; i < 12; i++ {
			products = append(products, &model.Product{Name: fmt.Sprintf("Item%02d", i), Price: 1, Stock: model.Finite(1)})
		}
		seedShop(t, svc, "Market", products...)

		all, info, err := svc.ListProducts(ctx, "Market", nil, 1, 100)
		require.NoError(t, err)
		assert.Len(t, all, 13)
		assert.Equal(t, 13, info.Total)

		plain, _, err := svc.ListProducts(ctx, "Market", model.Capabilities{}, 1, 100)
		require.NoError(t, err)
		assert.Len(t, plain, 12)

		vip, _, err := svc.ListProducts(ctx, "Market", model.Capabilities{"vip"}, 1, 100)
		require.NoError(t, err)
		assert.Len(t, vip, 13)

		page, info, err := svc.ListProducts(ctx, "Market", nil, 2, 0)
		require.NoError(t, err)
		assert.Len(t, page, 3)
		assert.Equal(t, PageInfo{Page: 2, PageSize: DefaultPageSize, TotalPages: 2, Total: 13}, info)

		page, info, err = svc.ListProducts(ctx, "Market", nil, 99, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, info.Page)
		assert.Len(t, page, 3)

		page, info, err = svc.ListProducts(ctx, "Market", nil, -3, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, info.Page)
		assert.Equal(t, "Crown", page[0].Name)
	})
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		total, page, size int
		want              PageInfo
		start, end        int
	}{
		{0, 1, 10, PageInfo{Page: 1, PageSize: 10, TotalPages: 1, Total: 0}, 0, 0},
		{25, 3, 10, PageInfo{Page: 3, PageSize: 10, TotalPages: 3, Total: 25}, 20, 25},
		{25, 7, 10, PageInfo{Page: 3, PageSize: 10, TotalPages: 3, Total: 25}, 20, 25},
		{25, 0, 10, PageInfo{Page: 1, PageSize: 10, TotalPages: 3, Total: 25}, 0, 10},
	}
	for _, tt := range tests {
		info, start, end := paginate(tt.total, tt.page, tt.size)
		assert.Equal(t, tt.want, info)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}
}

func TestPurchase_UnknownUser(t *testing.T) {
	svc := newLedger(t, memory.New(), nil)
	_, err := buy(svc, "", "Market", "Potion")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}
