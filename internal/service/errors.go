package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rarurei/Raruin/internal/repository"
)

// ============================================================================
// 账本错误
// ============================================================================
//
// 余额不足、库存不足这类是正常的业务结果，调用方直接展示给用户；
// 只有 StorageError 才算运维事故，需要记录 Error 日志。

var (
	ErrInvalidAmount        = errors.New("金额必须大于0")
	ErrInsufficientBalance  = errors.New("余额不足")
	ErrInsufficientQuantity = errors.New("持有数量不足")
	ErrOutOfStock           = errors.New("库存不足")
	ErrShopNotFound         = errors.New("商店不存在")
	ErrProductNotFound      = errors.New("商品不存在")
	ErrInvalidTarget        = errors.New("无效的目标用户")
	ErrForbidden            = errors.New("没有购买该商品所需的角色")
	ErrInvalidBet           = errors.New("无效的下注")
	ErrInvalidLevel         = errors.New("概率档位必须在 1-6 之间")
	ErrLotteryNotFound      = errors.New("抽奖池不存在")
	ErrInvalidSnapshot      = errors.New("备份数据无效")
	ErrInvalidInput         = errors.New("参数无效")

	// ErrStorage 用于 errors.Is 判断存储类错误
	ErrStorage = errors.New("存储错误")
)

// StorageError 底层存储的 I/O、超时、约束冲突
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStorage.Error(), e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Timeout 是否因为超时失败
func (e *StorageError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsBusinessError 是否为可预期的业务拒绝
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInsufficientBalance, ErrInsufficientQuantity,
		ErrOutOfStock, ErrShopNotFound, ErrProductNotFound, ErrInvalidTarget,
		ErrForbidden, ErrInvalidBet, ErrInvalidLevel, ErrLotteryNotFound,
		ErrInvalidSnapshot, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// translate 把存储层哨兵错误映射为账本错误，其余一律包装成 StorageError
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsBusinessError(err):
		return err
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return ErrInsufficientBalance
	case errors.Is(err, repository.ErrStockNotEnough), errors.Is(err, repository.ErrLotteryExhausted):
		return ErrOutOfStock
	case errors.Is(err, repository.ErrQuantityNotEnough):
		return ErrInsufficientQuantity
	case errors.Is(err, repository.ErrShopNotFound):
		return ErrShopNotFound
	case errors.Is(err, repository.ErrProductNotFound):
		return ErrProductNotFound
	case errors.Is(err, repository.ErrLotteryNotFound):
		return ErrLotteryNotFound
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrInvalidTarget
	}

	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
