package handler

import (
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/service"
	"github.com/Rarurei/Raruin/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 商店相关接口
// ============================================================

// ListShops GET /api/v1/shops?page=1&page_size=10
func (h *Handler) ListShops(c *gin.Context) {
	shops, info, err := h.ledger.ListShops(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "page_size", service.DefaultPageSize))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": shops, "page": info})
}

type CreateShopRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateShop POST /api/v1/shops（管理员）
func (h *Handler) CreateShop(c *gin.Context) {
	var req CreateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.ledger.CreateShop(c.Request.Context(), req.Name); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"name": req.Name})
}

// DeleteShop DELETE /api/v1/shops/:shop（管理员）
func (h *Handler) DeleteShop(c *gin.Context) {
	if err := h.ledger.DeleteShop(c.Request.Context(), c.Param("shop")); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, nil)
}

// ListProducts GET /api/v1/shops/:shop/products?roles=a,b&page=1
//
// 不带 :shop 时列出全部商店的商品
func (h *Handler) ListProducts(c *gin.Context) {
	products, info, err := h.ledger.ListProducts(c.Request.Context(), c.Param("shop"), queryRoles(c),
		queryInt(c, "page", 1), queryInt(c, "page_size", service.DefaultPageSize))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": products, "page": info})
}

// ProductRequest unlimited 为 true 时忽略 stock
type ProductRequest struct {
	Description  string `json:"description"`
	Price        int64  `json:"price"`
	Stock        int64  `json:"stock"`
	Unlimited    bool   `json:"unlimited"`
	RequiredRole string `json:"required_role"`
}

// UpsertProduct PUT /api/v1/shops/:shop/products/:product（管理员）
func (h *Handler) UpsertProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	stock := model.Finite(req.Stock)
	if req.Unlimited {
		stock = model.UnlimitedStock()
	}
	product, err := h.ledger.UpsertProduct(c.Request.Context(), &model.Product{
		ShopName:     c.Param("shop"),
		Name:         c.Param("product"),
		Description:  req.Description,
		Price:        req.Price,
		Stock:        stock,
		RequiredRole: req.RequiredRole,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, product)
}

// DeleteProduct DELETE /api/v1/shops/:shop/products/:product（管理员）
func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.ledger.DeleteProduct(c.Request.Context(), c.Param("shop"), c.Param("product")); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, nil)
}

type PurchaseRequest struct {
	UserID string   `json:"user_id" binding:"required"`
	Roles  []string `json:"roles"`
}

// Purchase POST /api/v1/shops/:shop/products/:product/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.ledger.Purchase(c.Request.Context(), &service.PurchaseRequest{
		UserID:      req.UserID,
		ShopName:    c.Param("shop"),
		ProductName: c.Param("product"),
		Roles:       req.Roles,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 物品相关接口
// ============================================================

type ItemTransferRequest struct {
	From        string `json:"from" binding:"required"`
	To          string `json:"to" binding:"required"`
	ShopName    string `json:"shop_name" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
	Count       int64  `json:"count"`
}

// TransferItem POST /api/v1/inventory/transfer
func (h *Handler) TransferItem(c *gin.Context) {
	var req ItemTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.ledger.TransferItem(c.Request.Context(), req.From, req.To, req.ShopName, req.ProductName, req.Count)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

type ConsumeItemRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	ShopName    string `json:"shop_name" binding:"required"`
	ProductName string `json:"product_name" binding:"required"`
	Count       int64  `json:"count"`
}

// ConsumeItem POST /api/v1/inventory/consume
func (h *Handler) ConsumeItem(c *gin.Context) {
	var req ConsumeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	remaining, err := h.ledger.ConsumeItem(c.Request.Context(), req.UserID, req.ShopName, req.ProductName, req.Count)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"remaining": remaining})
}
