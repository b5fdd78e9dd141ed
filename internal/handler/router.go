package handler

import (
	"net/http"

	"github.com/Rarurei/Raruin/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger.Named("http")))

	admin := AdminMiddleware(cfg.Server.AdminToken)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		accounts := api.Group("/accounts/:user_id")
		{
			accounts.GET("", h.GetAccount)
			accounts.POST("/ensure", h.EnsureAccount)
			accounts.GET("/transactions", h.ListTransactions)
			accounts.GET("/inventory", h.GetInventory)
		}

		// 账本相关
		ledger := api.Group("/ledger")
		{
			ledger.POST("/transfer", h.Transfer)
			ledger.GET("/ranking", h.Ranking)
			ledger.POST("/credit", admin, h.Credit)
			ledger.POST("/debit", admin, h.Debit)
			ledger.POST("/reset", admin, h.Reset)
			ledger.POST("/grant", admin, h.Grant)
			ledger.POST("/deduct", admin, h.Deduct)
		}

		// 活动奖励
		rewards := api.Group("/rewards")
		{
			rewards.POST("/chat", h.RewardChat)
			rewards.POST("/voice", h.RewardVoice)
		}

		// 商店相关
		api.GET("/products", h.ListProducts)
		shops := api.Group("/shops")
		{
			shops.GET("", h.ListShops)
			shops.POST("", admin, h.CreateShop)
			shops.DELETE("/:shop", admin, h.DeleteShop)
			shops.GET("/:shop/products", h.ListProducts)
			shops.PUT("/:shop/products/:product", admin, h.UpsertProduct)
			shops.DELETE("/:shop/products/:product", admin, h.DeleteProduct)
			shops.POST("/:shop/products/:product/purchase", h.Purchase)
		}

		// 物品相关
		inventory := api.Group("/inventory")
		{
			inventory.POST("/transfer", h.TransferItem)
			inventory.POST("/consume", h.ConsumeItem)
		}

		// 小游戏与抽奖
		api.POST("/games/play", h.Play)
		lotteries := api.Group("/lotteries/:name")
		{
			lotteries.GET("", h.GetLottery)
			lotteries.PUT("", admin, h.UpsertLottery)
			lotteries.POST("/draw", h.DrawLottery)
		}
		profile := api.Group("/gamble/profile")
		{
			profile.GET("", h.GetProfile)
			profile.PUT("", admin, h.SetProfile)
		}

		// 备份
		bak := api.Group("/backup", admin)
		{
			bak.GET("", h.Serialize)
			bak.POST("/restore", h.Restore)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
