package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Rarurei/Raruin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ InventoryStore = (*InventoryRepository)(nil)

type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// ============================================================
// 商店
// ============================================================

func (r *InventoryRepository) CreateShop(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Shop{Name: name}).Error
}

func (r *InventoryRepository) DeleteShop(ctx context.Context, name string) error {
	if err := r.db.WithContext(ctx).Where("shop_name = ?", name).Delete(&model.Product{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("name = ?", name).Delete(&model.Shop{}).Error
}

func (r *InventoryRepository) ShopExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Shop{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

func (r *InventoryRepository) ListShops(ctx context.Context) ([]*model.Shop, error) {
	var shops []*model.Shop
	err := r.db.WithContext(ctx).Order("name ASC").Find(&shops).Error
	return shops, err
}

// ============================================================
// 商品
// ============================================================

func (r *InventoryRepository) UpsertProduct(ctx context.Context, product *model.Product) error {
	exists, err := r.ShopExists(ctx, product.ShopName)
	if err != nil {
		return err
	}
	if !exists {
		return ErrShopNotFound
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "shop_name"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "price", "stock_unlimited", "stock_remaining", "required_role", "updated_at",
			}),
		}).
		Create(product).Error
}

func (r *InventoryRepository) DeleteProduct(ctx context.Context, shop, name string) error {
	return r.db.WithContext(ctx).
		Where("shop_name = ? AND name = ?", shop, name).
		Delete(&model.Product{}).Error
}

func (r *InventoryRepository) GetProduct(ctx context.Context, shop, name string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("shop_name = ? AND name = ?", shop, name).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *InventoryRepository) ListProducts(ctx context.Context, shop string, roles model.Capabilities) ([]*model.Product, error) {
	query := r.db.WithContext(ctx).Model(&model.Product{})
	if shop != "" {
		query = query.Where("shop_name = ?", shop)
	}
	if roles != nil {
		if len(roles) == 0 {
			query = query.Where("required_role = ?", "")
		} else {
			query = query.Where("required_role = ? OR required_role IN ?", "", []string(roles))
		}
	}

	var products []*model.Product
	err := query.Order("shop_name ASC").Order("name ASC").Find(&products).Error
	return products, err
}

// DecrementStock 条件扣减，WHERE stock_remaining >= by 保证库存不会被扣成负数
//
// 并发购买最后一件时只有一个 UPDATE 能命中，其余返回 ErrStockNotEnough
func (r *InventoryRepository) DecrementStock(ctx context.Context, shop, name string, by int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("shop_name = ? AND name = ? AND stock_unlimited = ? AND stock_remaining >= ?", shop, name, false, by).
		Update("stock_remaining", gorm.Expr("stock_remaining - ?", by))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	product, err := r.GetProduct(ctx, shop, name)
	if err != nil {
		return err
	}
	if product.Stock.Unlimited {
		return nil
	}
	return ErrStockNotEnough
}

// ============================================================
// 用户持有物品
// ============================================================

func (r *InventoryRepository) GetInventory(ctx context.Context, userID string) ([]*model.InventoryEntry, error) {
	var entries []*model.InventoryEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("shop_name ASC").
		Order("product_name ASC").
		Find(&entries).Error
	return entries, err
}

func (r *InventoryRepository) GetEntry(ctx context.Context, userID string, item model.ItemKey) (*model.InventoryEntry, error) {
	var entry model.InventoryEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND shop_name = ? AND product_name = ?", userID, item.ShopName, item.ProductName).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuantityNotEnough
		}
		return nil, err
	}
	return &entry, nil
}

func (r *InventoryRepository) AdjustInventory(ctx context.Context, userID string, item model.ItemKey, delta int64) (int64, error) {
	switch {
	case delta > 0:
		return r.increase(ctx, userID, item, delta)
	case delta < 0:
		return r.decrease(ctx, userID, item, -delta)
	default:
		entry, err := r.GetEntry(ctx, userID, item)
		if errors.Is(err, ErrQuantityNotEnough) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return entry.Quantity, nil
	}
}

func (r *InventoryRepository) increase(ctx context.Context, userID string, item model.ItemKey, n int64) (int64, error) {
	entry := &model.InventoryEntry{
		UserID:      userID,
		ShopName:    item.ShopName,
		ProductName: item.ProductName,
		Quantity:    n,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "shop_name"}, {Name: "product_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":   gorm.Expr("quantity + ?", n),
				"updated_at": time.Now(),
			}),
		}).
		Create(entry).Error
	if err != nil {
		return 0, err
	}

	current, err := r.GetEntry(ctx, userID, item)
	if err != nil {
		return 0, err
	}
	return current.Quantity, nil
}

func (r *InventoryRepository) decrease(ctx context.Context, userID string, item model.ItemKey, n int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.InventoryEntry{}).
		Where("user_id = ? AND shop_name = ? AND product_name = ? AND quantity >= ?",
			userID, item.ShopName, item.ProductName, n).
		Update("quantity", gorm.Expr("quantity - ?", n))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrQuantityNotEnough
	}

	current, err := r.GetEntry(ctx, userID, item)
	if err != nil {
		return 0, err
	}
	if current.Quantity > 0 {
		return current.Quantity, nil
	}

	err = r.db.WithContext(ctx).
		Where("user_id = ? AND shop_name = ? AND product_name = ? AND quantity = 0",
			userID, item.ShopName, item.ProductName).
		Delete(&model.InventoryEntry{}).Error
	return 0, err
}

// ============================================================
// 备份恢复
// ============================================================

func (r *InventoryRepository) ListAllProducts(ctx context.Context) ([]*model.Product, error) {
	return r.ListProducts(ctx, "", nil)
}

func (r *InventoryRepository) ListAllEntries(ctx context.Context) ([]*model.InventoryEntry, error) {
	var entries []*model.InventoryEntry
	err := r.db.WithContext(ctx).
		Order("user_id ASC").
		Order("shop_name ASC").
		Order("product_name ASC").
		Find(&entries).Error
	return entries, err
}

func (r *InventoryRepository) Replace(ctx context.Context, shops []*model.Shop, products []*model.Product, entries []*model.InventoryEntry) error {
	db := r.db.WithContext(ctx)
	for _, m := range []interface{}{&model.InventoryEntry{}, &model.Product{}, &model.Shop{}} {
		if err := db.Where("1 = 1").Delete(m).Error; err != nil {
			return err
		}
	}

	if len(shops) > 0 {
		if err := db.CreateInBatches(shops, 200).Error; err != nil {
			return err
		}
	}
	if len(products) > 0 {
		if err := db.CreateInBatches(products, 200).Error; err != nil {
			return err
		}
	}
	if len(entries) > 0 {
		if err := db.CreateInBatches(entries, 200).Error; err != nil {
			return err
		}
	}
	return nil
}
