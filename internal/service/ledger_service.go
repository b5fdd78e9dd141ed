package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Rarurei/Raruin/internal/config"
	"github.com/Rarurei/Raruin/internal/infrastructure/lock"
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// 账本引擎
// ============================================================================
//
// 每个复合操作都是三段：
//
//	Validating  入参校验，失败直接返回，不开事务
//	Applying    加用户锁 -> 开事务 -> 按 user_id 升序锁账户行 -> 条件更新 + 流水 + 通知
//	Committed   事务提交
//
// Applying 阶段任何一步失败，整个事务回滚，不会出现 "扣了钱没发货"。
//
// 【关键点】并发控制分三层：
//  1. Locker：同一用户的请求在进入数据库前排队（本地互斥或 Redis）
//  2. Accounts().Lock：SELECT ... FOR UPDATE，多用户按升序加锁，反向转账不会死锁
//  3. 条件更新：WHERE balance >= ? / stock_remaining >= ?，即便前两层缺失也不会超扣
//
// 通知写入 outbox 表，和账本变更同一事务提交，由 OutboxSender 异步投递；
// 投递失败不会回滚账本。

type LedgerService struct {
	store  repository.Store
	locker lock.Locker
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewLedgerService(store repository.Store, locker lock.Locker, cfg *config.Config, logger *zap.Logger) *LedgerService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		store:  store,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// ============================================================================
// 事务骨架
// ============================================================================

// execute Applying 阶段：加锁、开事务、提交，错误统一翻译
func (s *LedgerService) execute(ctx context.Context, op string, users []string, fn func(tx repository.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Ledger.OperationTimeout)
	defer cancel()

	keys := make([]string, len(users))
	for i, u := range users {
		keys[i] = lock.UserKey(u)
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return s.fail(op, &StorageError{Op: op, Err: fmt.Errorf("获取用户锁失败: %w", err)})
	}
	defer release()

	err = s.store.Transaction(ctx, func(tx repository.Tx) error {
		if len(users) > 0 {
			if err := tx.Accounts().Lock(ctx, users...); err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return s.fail(op, translate(op, err))
}

// view 只读操作
func (s *LedgerService) view(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Ledger.OperationTimeout)
	defer cancel()
	return s.fail(op, translate(op, s.store.View(ctx, fn)))
}

// fail 存储错误记 Error 日志，业务拒绝只记 Debug
func (s *LedgerService) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		s.logger.Error("账本操作失败", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Debug("账本操作被拒绝", zap.String("op", op), zap.Error(err))
	}
	return err
}

// apply 变更余额并写流水，账户不存在时按默认余额创建
func (s *LedgerService) apply(ctx context.Context, tx repository.Tx, userID string, amount int64, kind model.DeltaKind, txType, reference string) (*model.Account, error) {
	current, err := tx.Accounts().Ensure(ctx, userID, s.cfg.Ledger.DefaultStartingBalance)
	if err != nil {
		return nil, err
	}
	// 【关键点】余额和累计值都是 int64，入账前先挡住溢出，不交给存储层
	switch kind {
	case model.Earn:
		if amount > math.MaxInt64-current.Balance || amount > math.MaxInt64-current.LifetimeEarned {
			return nil, fmt.Errorf("%w: 入账后金额溢出", ErrInvalidAmount)
		}
	case model.Spend:
		if amount > math.MaxInt64-current.LifetimeSpent {
			return nil, fmt.Errorf("%w: 累计支出溢出", ErrInvalidAmount)
		}
	}
	account, err := tx.Accounts().ApplyDelta(ctx, userID, amount, kind)
	if err != nil {
		return nil, err
	}

	signed := amount
	if kind == model.Spend {
		signed = -amount
	}
	if err := s.journal(ctx, tx, account, signed, txType, reference); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *LedgerService) journal(ctx context.Context, tx repository.Tx, account *model.Account, signed int64, txType, reference string) error {
	err := tx.Journal().Create(ctx, &model.AccountTransaction{
		TransactionNo: uuid.NewString(),
		UserID:        account.UserID,
		Amount:        signed,
		Type:          txType,
		BalanceBefore: account.Balance - signed,
		BalanceAfter:  account.Balance,
		Reference:     reference,
	})
	if err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}
	return nil
}

// emit 写入 outbox，与账本变更同一事务
func (s *LedgerService) emit(ctx context.Context, tx repository.Tx, event *model.LedgerEvent) error {
	event.OccurredAt = s.now().UTC()
	if err := tx.Outbox().Enqueue(ctx, s.cfg.Kafka.Topic.Events, event); err != nil {
		return fmt.Errorf("写入通知失败: %w", err)
	}
	return nil
}

func validUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id 不能为空", ErrInvalidTarget)
	}
	return nil
}

// ============================================================================
// 账户
// ============================================================================

// Get 查询账户
//
// 账户不存在时返回默认余额的视图但不落库；只有写操作才会创建账户
func (s *LedgerService) Get(ctx context.Context, userID string) (*model.Account, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}

	var account *model.Account
	err := s.view(ctx, "get", func(tx repository.Tx) error {
		a, err := tx.Accounts().Get(ctx, userID)
		if errors.Is(err, repository.ErrAccountNotFound) {
			account = model.NewAccount(userID, s.cfg.Ledger.DefaultStartingBalance)
			return nil
		}
		account = a
		return err
	})
	return account, err
}

// Ensure 幂等创建账户
func (s *LedgerService) Ensure(ctx context.Context, userID string) (*model.Account, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}

	var account *model.Account
	err := s.execute(ctx, "ensure", []string{userID}, func(tx repository.Tx) error {
		var err error
		account, err = tx.Accounts().Ensure(ctx, userID, s.cfg.Ledger.DefaultStartingBalance)
		return err
	})
	return account, err
}

// Credit 入账
func (s *LedgerService) Credit(ctx context.Context, userID string, amount int64) (*model.Account, error) {
	return s.credit(ctx, "credit", userID, amount, model.TransactionTypeCredit, "")
}

func (s *LedgerService) credit(ctx context.Context, op, userID string, amount int64, txType, reference string) (*model.Account, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var account *model.Account
	err := s.execute(ctx, op, []string{userID}, func(tx repository.Tx) error {
		var err error
		if account, err = s.apply(ctx, tx, userID, amount, model.Earn, txType, reference); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:    model.EventCredited,
			UserID:  userID,
			Amount:  amount,
			Balance: account.Balance,
			Detail:  map[string]any{"reason": txType},
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Debit 出账，余额不足返回 ErrInsufficientBalance 且余额不变
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int64) (*model.Account, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var account *model.Account
	err := s.execute(ctx, "debit", []string{userID}, func(tx repository.Tx) error {
		var err error
		if account, err = s.apply(ctx, tx, userID, amount, model.Spend, model.TransactionTypeDebit, ""); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:    model.EventDebited,
			UserID:  userID,
			Amount:  amount,
			Balance: account.Balance,
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

type TransferResult struct {
	From *model.Account `json:"from"`
	To   *model.Account `json:"to"`
}

// Transfer 转账：同一事务内先扣 from 再加 to
func (s *LedgerService) Transfer(ctx context.Context, from, to string, amount int64) (*TransferResult, error) {
	if err := validUser(from); err != nil {
		return nil, err
	}
	if err := validUser(to); err != nil {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("%w: 不能给自己转账", ErrInvalidTarget)
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	result := &TransferResult{}
	err := s.execute(ctx, "transfer", []string{from, to}, func(tx repository.Tx) error {
		var err error
		if result.From, err = s.apply(ctx, tx, from, amount, model.Spend, model.TransactionTypeTransferOut, to); err != nil {
			return err
		}
		if result.To, err = s.apply(ctx, tx, to, amount, model.Earn, model.TransactionTypeTransferIn, from); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:     model.EventTransferred,
			UserID:   from,
			TargetID: to,
			Amount:   amount,
			Balance:  result.From.Balance,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminReset 管理员重置账户
//
// 余额回到默认值；ledger.reset_lifetime_counters 为 true 时累计计数清零，否则保留
func (s *LedgerService) AdminReset(ctx context.Context, userID string) (*model.Account, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}

	var account *model.Account
	err := s.execute(ctx, "admin_reset", []string{userID}, func(tx repository.Tx) error {
		before, err := tx.Accounts().Ensure(ctx, userID, s.cfg.Ledger.DefaultStartingBalance)
		if err != nil {
			return err
		}

		earned, spent := before.LifetimeEarned, before.LifetimeSpent
		if s.cfg.Ledger.ResetLifetimeCounters {
			earned, spent = 0, 0
		}
		if account, err = tx.Accounts().Reset(ctx, userID, s.cfg.Ledger.DefaultStartingBalance, earned, spent); err != nil {
			return err
		}

		if err := s.journal(ctx, tx, account, account.Balance-before.Balance, model.TransactionTypeReset, "admin"); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type:    model.EventAccountReset,
			UserID:  userID,
			Balance: account.Balance,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("账户已重置", zap.String("user_id", userID), zap.Int64("balance", account.Balance))
	return account, nil
}

// ============================================================================
// 批量操作与排行
// ============================================================================

// GrantMany 给多个用户入账，全部成功或全部失败
func (s *LedgerService) GrantMany(ctx context.Context, userIDs []string, amount int64) ([]*model.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	users, err := uniqueUsers(userIDs)
	if err != nil {
		return nil, err
	}

	accounts := make([]*model.Account, 0, len(users))
	err = s.execute(ctx, "grant_many", users, func(tx repository.Tx) error {
		for _, u := range users {
			account, err := s.apply(ctx, tx, u, amount, model.Earn, model.TransactionTypeCredit, "grant")
			if err != nil {
				return err
			}
			accounts = append(accounts, account)
			if err := s.emit(ctx, tx, &model.LedgerEvent{
				Type:    model.EventCredited,
				UserID:  u,
				Amount:  amount,
				Balance: account.Balance,
				Detail:  map[string]any{"reason": "grant"},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

type DeductResult struct {
	Applied []*model.Account `json:"applied"`
	Skipped []string         `json:"skipped"` // 余额不足被跳过的用户
}

// DeductMany 逐个扣款，每个用户独立事务，余额不足的用户跳过
func (s *LedgerService) DeductMany(ctx context.Context, userIDs []string, amount int64) (*DeductResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	users, err := uniqueUsers(userIDs)
	if err != nil {
		return nil, err
	}

	result := &DeductResult{Applied: []*model.Account{}, Skipped: []string{}}
	for _, u := range users {
		account, err := s.Debit(ctx, u, amount)
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			result.Skipped = append(result.Skipped, u)
		case err != nil:
			return result, err
		default:
			result.Applied = append(result.Applied, account)
		}
	}
	return result, nil
}

func uniqueUsers(userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一个用户", ErrInvalidTarget)
	}
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, u := range userIDs {
		if err := validUser(u); err != nil {
			return nil, err
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

const defaultRankingSize = 10

// Ranking 余额排行
func (s *LedgerService) Ranking(ctx context.Context, limit int) ([]*model.Account, error) {
	if limit <= 0 {
		limit = defaultRankingSize
	}
	var accounts []*model.Account
	err := s.view(ctx, "ranking", func(tx repository.Tx) error {
		var err error
		accounts, err = tx.Accounts().Top(ctx, limit)
		return err
	})
	return accounts, err
}

// ListTransactions 用户流水，按时间倒序
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	if err := validUser(userID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var list []*model.AccountTransaction
	var total int64
	err := s.view(ctx, "list_transactions", func(tx repository.Tx) error {
		var err error
		list, total, err = tx.Journal().ListByUserID(ctx, userID, page, pageSize)
		return err
	})
	return list, total, err
}

// ============================================================================
// 活动奖励
// ============================================================================

// RewardChat 聊天奖励：字数 × chat_reward_per_character，配置为 0 时关闭
func (s *LedgerService) RewardChat(ctx context.Context, userID string, characters int) (*model.Account, error) {
	if characters < 0 {
		return nil, ErrInvalidAmount
	}
	amount := int64(characters) * s.cfg.Rewards.ChatRewardPerCharacter
	if amount == 0 {
		return s.Get(ctx, userID)
	}
	return s.credit(ctx, "reward_chat", userID, amount, model.TransactionTypeChatReward, fmt.Sprintf("chars=%d", characters))
}

// RewardVoice 通话奖励：max(1, 分钟数) × voice_reward_per_minute
func (s *LedgerService) RewardVoice(ctx context.Context, userID string, duration time.Duration) (*model.Account, error) {
	if duration < 0 {
		return nil, ErrInvalidAmount
	}
	minutes := int64(duration / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	amount := minutes * s.cfg.Rewards.VoiceRewardPerMinute
	if amount == 0 {
		return s.Get(ctx, userID)
	}
	return s.credit(ctx, "reward_voice", userID, amount, model.TransactionTypeVoiceReward, fmt.Sprintf("minutes=%d", minutes))
}
