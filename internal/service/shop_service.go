package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"

	"go.uber.org/zap"
)

// ============================================================================
// 商店目录（管理员）
// ============================================================================

func validName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s不能为空", ErrInvalidInput, kind)
	}
	return nil
}

// CreateShop 已存在时无操作
func (s *LedgerService) CreateShop(ctx context.Context, name string) error {
	if err := validName("商店名", name); err != nil {
		return err
	}
	return s.execute(ctx, "create_shop", nil, func(tx repository.Tx) error {
		return tx.Inventory().CreateShop(ctx, name)
	})
}

// DeleteShop 连同商品一起删除，用户已持有的物品保留
func (s *LedgerService) DeleteShop(ctx context.Context, name string) error {
	if err := validName("商店名", name); err != nil {
		return err
	}
	return s.execute(ctx, "delete_shop", nil, func(tx repository.Tx) error {
		return tx.Inventory().DeleteShop(ctx, name)
	})
}

// UpsertProduct 新增或覆盖商品
func (s *LedgerService) UpsertProduct(ctx context.Context, product *model.Product) (*model.Product, error) {
	if err := validName("商店名", product.ShopName); err != nil {
		return nil, err
	}
	if err := validName("商品名", product.Name); err != nil {
		return nil, err
	}
	if product.Price <= 0 {
		return nil, fmt.Errorf("%w: 价格必须大于0", ErrInvalidAmount)
	}
	if !product.Stock.Unlimited && product.Stock.Remaining < 0 {
		return nil, fmt.Errorf("%w: 库存不能为负数", ErrInvalidAmount)
	}

	var saved *model.Product
	err := s.execute(ctx, "upsert_product", nil, func(tx repository.Tx) error {
		if err := tx.Inventory().UpsertProduct(ctx, product); err != nil {
			return err
		}
		var err error
		saved, err = tx.Inventory().GetProduct(ctx, product.ShopName, product.Name)
		return err
	})
	return saved, err
}

// DeleteProduct 不存在时无操作
func (s *LedgerService) DeleteProduct(ctx context.Context, shop, name string) error {
	if err := validName("商店名", shop); err != nil {
		return err
	}
	if err := validName("商品名", name); err != nil {
		return err
	}
	return s.execute(ctx, "delete_product", nil, func(tx repository.Tx) error {
		return tx.Inventory().DeleteProduct(ctx, shop, name)
	})
}

// ============================================================================
// 浏览
// ============================================================================

const DefaultPageSize = 10

// PageInfo 分页信息，page 超出范围时被夹到 [1, TotalPages]
type PageInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	Total      int `json:"total"`
}

func paginate(total, page, pageSize int) (PageInfo, int, int) {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	return PageInfo{Page: page, PageSize: pageSize, TotalPages: pages, Total: total}, start, end
}

func (s *LedgerService) ListShops(ctx context.Context, page, pageSize int) ([]*model.Shop, PageInfo, error) {
	var shops []*model.Shop
	err := s.view(ctx, "list_shops", func(tx repository.Tx) error {
		var err error
		shops, err = tx.Inventory().ListShops(ctx)
		return err
	})
	if err != nil {
		return nil, PageInfo{}, err
	}
	info, start, end := paginate(len(shops), page, pageSize)
	return shops[start:end], info, nil
}

// ListProducts shop 为空列出全部商店的商品；roles 为 nil 不过滤，否则只列出 roles 可购买的商品
func (s *LedgerService) ListProducts(ctx context.Context, shop string, roles model.Capabilities, page, pageSize int) ([]*model.Product, PageInfo, error) {
	var products []*model.Product
	err := s.view(ctx, "list_products", func(tx repository.Tx) error {
		if shop != "" {
			exists, err := tx.Inventory().ShopExists(ctx, shop)
			if err != nil {
				return err
			}
			if !exists {
				return ErrShopNotFound
			}
		}
		var err error
		products, err = tx.Inventory().ListProducts(ctx, shop, roles)
		return err
	})
	if err != nil {
		return nil, PageInfo{}, err
	}
	info, start, end := paginate(len(products), page, pageSize)
	return products[start:end], info, nil
}

// GetInventory 用户持有的全部物品
func (s *LedgerService) GetInventory(ctx context.Context, userID string) ([]*model.InventoryEntry, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	var entries []*model.InventoryEntry
	err := s.view(ctx, "get_inventory", func(tx repository.Tx) error {
		var err error
		entries, err = tx.Inventory().GetInventory(ctx, userID)
		return err
	})
	return entries, err
}

// ============================================================================
// 购买
// ============================================================================

// PurchaseRequest Roles 是调用方解析出的买家当前角色
type PurchaseRequest struct {
	UserID      string             `json:"user_id"`
	ShopName    string             `json:"shop_name"`
	ProductName string             `json:"product_name"`
	Roles       model.Capabilities `json:"roles"`
}

type PurchaseResult struct {
	Account  *model.Account `json:"account"`
	Product  *model.Product `json:"product"`
	Quantity int64          `json:"quantity"` // 购买后的持有数量
}

// Purchase 扣款、扣库存、加持有数量，三者同一事务提交
//
// 失败顺序：ShopNotFound / ProductNotFound -> Forbidden -> OutOfStock -> InsufficientBalance
func (s *LedgerService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	if err := validUser(req.UserID); err != nil {
		return nil, err
	}
	if err := validName("商店名", req.ShopName); err != nil {
		return nil, err
	}
	if err := validName("商品名", req.ProductName); err != nil {
		return nil, err
	}

	result := &PurchaseResult{}
	item := model.ItemKey{ShopName: req.ShopName, ProductName: req.ProductName}
	err := s.execute(ctx, "purchase", []string{req.UserID}, func(tx repository.Tx) error {
		inv := tx.Inventory()

		product, err := inv.GetProduct(ctx, req.ShopName, req.ProductName)
		if errors.Is(err, repository.ErrProductNotFound) {
			exists, existsErr := inv.ShopExists(ctx, req.ShopName)
			if existsErr != nil {
				return existsErr
			}
			if !exists {
				return ErrShopNotFound
			}
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}

		if !req.Roles.Allows(product) {
			return ErrForbidden
		}
		if !product.Stock.Available(1) {
			return ErrOutOfStock
		}

		if err := inv.DecrementStock(ctx, req.ShopName, req.ProductName, 1); err != nil {
			return err
		}
		if !product.Stock.Unlimited {
			product.Stock.Remaining--
		}
		result.Product = product

		if result.Account, err = s.apply(ctx, tx, req.UserID, product.Price, model.Spend, model.TransactionTypePurchase, item.String()); err != nil {
			return err
		}
		if result.Quantity, err = inv.AdjustInventory(ctx, req.UserID, item, 1); err != nil {
			return err
		}

		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:     model.EventPurchased,
			UserID:   req.UserID,
			Amount:   product.Price,
			Balance:  result.Account.Balance,
			ShopName: req.ShopName,
			Product:  req.ProductName,
			Count:    1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("购买成功",
		zap.String("user_id", req.UserID),
		zap.String("item", item.String()),
		zap.Int64("price", result.Product.Price),
		zap.Int64("balance", result.Account.Balance),
	)
	return result, nil
}

// ============================================================================
// 物品
// ============================================================================

type ItemTransferResult struct {
	FromQuantity int64 `json:"from_quantity"`
	ToQuantity   int64 `json:"to_quantity"`
}

// TransferItem 转让物品，发送方数量不足返回 ErrInsufficientQuantity
func (s *LedgerService) TransferItem(ctx context.Context, from, to, shop, product string, count int64) (*ItemTransferResult, error) {
	if err := validUser(from); err != nil {
		return nil, err
	}
	if err := validUser(to); err != nil {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("%w: 不能转让给自己", ErrInvalidTarget)
	}
	if count <= 0 {
		return nil, ErrInvalidAmount
	}

	item := model.ItemKey{ShopName: shop, ProductName: product}
	result := &ItemTransferResult{}
	err := s.execute(ctx, "transfer_item", []string{from, to}, func(tx repository.Tx) error {
		var err error
		if result.FromQuantity, err = tx.Inventory().AdjustInventory(ctx, from, item, -count); err != nil {
			return err
		}
		if result.ToQuantity, err = tx.Inventory().AdjustInventory(ctx, to, item, count); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:     model.EventItemGiven,
			UserID:   from,
			TargetID: to,
			ShopName: shop,
			Product:  product,
			Count:    count,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConsumeItem 使用物品，返回剩余数量
//
// 使用记录作为 item_consumed 事件写入 outbox；事件投递失败不影响扣减
func (s *LedgerService) ConsumeItem(ctx context.Context, userID, shop, product string, count int64) (int64, error) {
	if err := validUser(userID); err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, ErrInvalidAmount
	}

	item := model.ItemKey{ShopName: shop, ProductName: product}
	var remaining int64
	err := s.execute(ctx, "consume_item", []string{userID}, func(tx repository.Tx) error {
		var err error
		if remaining, err = tx.Inventory().AdjustInventory(ctx, userID, item, -count); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:     model.EventItemConsumed,
			UserID:   userID,
			ShopName: shop,
			Product:  product,
			Count:    count,
			Detail:   map[string]any{"remaining": remaining},
		})
	})
	return remaining, err
}
