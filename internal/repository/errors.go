package repository

import "errors"

// 存储层哨兵错误，由 service 层映射为账本错误
var (
	ErrAccountNotFound   = errors.New("账户不存在")
	ErrBalanceNotEnough  = errors.New("余额不足")
	ErrStockNotEnough    = errors.New("库存不足")
	ErrQuantityNotEnough = errors.New("持有数量不足")
	ErrShopNotFound      = errors.New("商店不存在")
	ErrProductNotFound   = errors.New("商品不存在")
	ErrLotteryNotFound   = errors.New("抽奖池不存在")
	ErrLotteryExhausted  = errors.New("抽奖池剩余不足")
)
