package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/service"
	"github.com/Rarurei/Raruin/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
//
// 调用方是聊天机器人的指令分发器：user_id 与角色由分发器解析后传入，这里不做身份识别
type Handler struct {
	ledger *service.LedgerService
	gamble *service.GambleService
	logger *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(ledger *service.LedgerService, gamble *service.GambleService, logger *zap.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		gamble: gamble,
		logger: logger,
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// queryRoles ?roles=a,b；参数不存在返回 nil（不过滤），参数为空返回空集合
func queryRoles(c *gin.Context) model.Capabilities {
	raw, ok := c.GetQuery("roles")
	if !ok {
		return nil
	}
	roles := model.Capabilities{}
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// ============================================================
// 账户相关接口
// ============================================================

// GetAccount 查询账户
// GET /api/v1/accounts/:user_id
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.ledger.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

// EnsureAccount 幂等开户
// POST /api/v1/accounts/:user_id/ensure
func (h *Handler) EnsureAccount(c *gin.Context) {
	account, err := h.ledger.Ensure(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

// ListTransactions 用户流水
// GET /api/v1/accounts/:user_id/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	list, total, err := h.ledger.ListTransactions(c.Request.Context(), c.Param("user_id"), page, pageSize)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  list,
		"total": total,
		"page":  page,
	})
}

// GetInventory 用户持有物品
// GET /api/v1/accounts/:user_id/inventory
func (h *Handler) GetInventory(c *gin.Context) {
	entries, err := h.ledger.GetInventory(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, entries)
}

// ============================================================
// 账本相关接口
// ============================================================

type AmountRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount"`
}

// Credit 入账（管理员）
// POST /api/v1/ledger/credit
func (h *Handler) Credit(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	account, err := h.ledger.Credit(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

// Debit 出账（管理员）
// POST /api/v1/ledger/debit
func (h *Handler) Debit(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	account, err := h.ledger.Debit(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

type TransferRequest struct {
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount int64  `json:"amount"`
}

// Transfer 转账
// POST /api/v1/ledger/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.ledger.Transfer(c.Request.Context(), req.From, req.To, req.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

type ResetRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Reset 重置账户（管理员）
// POST /api/v1/ledger/reset
func (h *Handler) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	account, err := h.ledger.AdminReset(c.Request.Context(), req.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

type BatchRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
	Amount  int64    `json:"amount"`
}

// Grant 批量发放（管理员），全部成功或全部失败
// POST /api/v1/ledger/grant
func (h *Handler) Grant(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	accounts, err := h.ledger.GrantMany(c.Request.Context(), req.UserIDs, req.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, accounts)
}

// Deduct 批量扣除（管理员），余额不足的用户跳过
// POST /api/v1/ledger/deduct
func (h *Handler) Deduct(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.ledger.DeductMany(c.Request.Context(), req.UserIDs, req.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// Ranking 余额排行
// GET /api/v1/ledger/ranking?limit=10
func (h *Handler) Ranking(c *gin.Context) {
	accounts, err := h.ledger.Ranking(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, accounts)
}

// ============================================================
// 活动奖励
// ============================================================

type ChatRewardRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Characters int    `json:"characters"`
}

// RewardChat POST /api/v1/rewards/chat
func (h *Handler) RewardChat(c *gin.Context) {
	var req ChatRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	account, err := h.ledger.RewardChat(c.Request.Context(), req.UserID, req.Characters)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

type VoiceRewardRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Seconds int64  `json:"seconds"`
}

// RewardVoice POST /api/v1/rewards/voice
func (h *Handler) RewardVoice(c *gin.Context) {
	var req VoiceRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	account, err := h.ledger.RewardVoice(c.Request.Context(), req.UserID, time.Duration(req.Seconds)*time.Second)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}
