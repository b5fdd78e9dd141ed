package handler

import (
	"net/http"

	"github.com/Rarurei/Raruin/internal/backup"
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/reward"
	"github.com/Rarurei/Raruin/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ============================================================
// 小游戏与抽奖
// ============================================================

type PlayRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Game   string `json:"game" binding:"required"`
	Amount int64  `json:"amount"`
	Choice string `json:"choice"`
}

// Play POST /api/v1/games/play
func (h *Handler) Play(c *gin.Context) {
	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.gamble.Play(c.Request.Context(), req.UserID, reward.Bet{
		Game:   reward.Game(req.Game),
		Amount: req.Amount,
		Choice: req.Choice,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

type LotteryRequest struct {
	TicketPrice   int64               `json:"ticket_price"`
	LoseRemaining int64               `json:"lose_remaining"`
	Tiers         []model.LotteryTier `json:"tiers"`
}

// UpsertLottery PUT /api/v1/lotteries/:name（管理员）
func (h *Handler) UpsertLottery(c *gin.Context) {
	var req LotteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	lottery, err := h.gamble.UpsertLottery(c.Request.Context(), &model.Lottery{
		Name:          c.Param("name"),
		TicketPrice:   req.TicketPrice,
		LoseRemaining: req.LoseRemaining,
		Tiers:         req.Tiers,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, lottery)
}

// GetLottery GET /api/v1/lotteries/:name
func (h *Handler) GetLottery(c *gin.Context) {
	lottery, err := h.gamble.GetLottery(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"lottery": lottery, "remaining": lottery.Remaining()})
}

type DrawRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Tickets int64  `json:"tickets"`
}

// DrawLottery POST /api/v1/lotteries/:name/draw
func (h *Handler) DrawLottery(c *gin.Context) {
	var req DrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.gamble.DrawLottery(c.Request.Context(), req.UserID, c.Param("name"), req.Tickets)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// GetProfile GET /api/v1/gamble/profile
func (h *Handler) GetProfile(c *gin.Context) {
	level, err := h.gamble.ProbabilityLevel(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"level": level})
}

type ProfileRequest struct {
	Level int `json:"level"`
}

// SetProfile PUT /api/v1/gamble/profile（管理员）
func (h *Handler) SetProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.gamble.SetProbabilityLevel(c.Request.Context(), req.Level); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"level": req.Level})
}

// ============================================================
// 备份
// ============================================================

// Serialize GET /api/v1/backup（管理员）
//
// 直接返回快照 JSON；?format=message 时返回可贴进聊天频道的文本
func (h *Handler) Serialize(c *gin.Context) {
	snap, err := h.ledger.Serialize(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}

	if c.Query("format") == "message" {
		text, err := backup.EncodeMessage(snap)
		if err != nil {
			response.ServerError(c, err.Error())
			return
		}
		c.String(http.StatusOK, text)
		return
	}

	data, err := backup.Encode(snap)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// Restore POST /api/v1/backup/restore（管理员）
//
// 请求体为快照 JSON 或聊天消息原文，旧版机器人的导出格式也可以
func (h *Handler) Restore(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "读取请求体失败: "+err.Error())
		return
	}
	snap, err := backup.Decode(body)
	if err != nil {
		response.BusinessError(c, response.CodeInvalidSnapshot, err.Error())
		return
	}
	if err := h.ledger.Restore(c.Request.Context(), snap); err != nil {
		response.Fail(c, err)
		return
	}

	h.logger.Info("通过接口恢复账本", zap.String("client_ip", c.ClientIP()), zap.Int("accounts", len(snap.Accounts)))
	response.Success(c, gin.H{
		"accounts":  len(snap.Accounts),
		"shops":     len(snap.Shops),
		"products":  len(snap.Products),
		"inventory": len(snap.Inventory),
	})
}
