package model

import (
	"time"
)

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	TransactionTypeCredit      = "CREDIT"       // 管理员或系统入账
	TransactionTypeDebit       = "DEBIT"        // 管理员或系统出账
	TransactionTypeChatReward  = "CHAT_REWARD"  // 聊天奖励
	TransactionTypeVoiceReward = "VOICE_REWARD" // 通话奖励
	TransactionTypeTransferIn  = "TRANSFER_IN"  // 转账收款
	TransactionTypeTransferOut = "TRANSFER_OUT" // 转账付款
	TransactionTypePurchase    = "PURCHASE"     // 商店购买
	TransactionTypeGamble      = "GAMBLE"       // 小游戏输赢
	TransactionTypeLottery     = "LOTTERY"      // 抽奖（购票与奖金分两条）
	TransactionTypeReset       = "RESET"        // 管理员重置
)

// ============================================================================
// 账户流水实体
// ============================================================================

// AccountTransaction 账户流水表
// 与余额变动在同一事务内写入，只追加不修改
//
// 这不是复式记账：聊天奖励、游戏赢钱等凭空铸币，流水只用于排查
type AccountTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Reference     string    `gorm:"type:varchar(256)" json:"reference,omitempty"` // 对手方、商品、游戏等
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
