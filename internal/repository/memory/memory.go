package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"
)

// =============================================================================
// MEMORY STORE
// =============================================================================
//
// 事务通过一把全局写锁 + 快照实现：进入事务时复制整个状态，
// fn 返回错误或 panic 时恢复快照。所有写事务天然串行。

var _ repository.Store = (*Store)(nil)

// Store 进程内存储，用于测试和单机开发
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if r := recover(); r != nil {
			s.st = snapshot
			panic(r)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	if err = fn(view{st: s.st}); err != nil {
		return err
	}
	// 事务期间超时同样回滚
	return ctx.Err()
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{st: s.st})
}

// =============================================================================
// STATE
// =============================================================================

type entryKey struct {
	UserID string
	Item   model.ItemKey
}

type state struct {
	accounts      map[string]*model.Account
	shops         map[string]*model.Shop
	products      map[model.ItemKey]*model.Product
	entries       map[entryKey]*model.InventoryEntry
	journal       []*model.AccountTransaction
	outbox        []*model.OutboxMessage
	lotteries     map[string]*model.Lottery
	profiles      map[string]*model.GambleProfile
	nextAccountID int64
	nextJournalID int64
	nextOutboxID  int64
}

func newState() *state {
	return &state{
		accounts:  make(map[string]*model.Account),
		shops:     make(map[string]*model.Shop),
		products:  make(map[model.ItemKey]*model.Product),
		entries:   make(map[entryKey]*model.InventoryEntry),
		lotteries: make(map[string]*model.Lottery),
		profiles:  make(map[string]*model.GambleProfile),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		a := *v
		c.accounts[k] = &a
	}
	for k, v := range s.shops {
		sh := *v
		c.shops[k] = &sh
	}
	for k, v := range s.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range s.entries {
		e := *v
		c.entries[k] = &e
	}
	for _, v := range s.journal {
		j := *v
		c.journal = append(c.journal, &j)
	}
	for _, v := range s.outbox {
		m := *v
		c.outbox = append(c.outbox, &m)
	}
	for k, v := range s.lotteries {
		c.lotteries[k] = copyLottery(v)
	}
	for k, v := range s.profiles {
		p := *v
		c.profiles[k] = &p
	}
	c.nextAccountID = s.nextAccountID
	c.nextJournalID = s.nextJournalID
	c.nextOutboxID = s.nextOutboxID
	return c
}

func copyLottery(l *model.Lottery) *model.Lottery {
	c := *l
	c.Tiers = append([]model.LotteryTier(nil), l.Tiers...)
	return &c
}

type view struct {
	st *state
}

func (v view) Accounts() repository.AccountStore { return accounts{v.st} }
func (v view) Inventory() repository.InventoryStore { return inventory{v.st} }
func (v view) Journal() repository.JournalStore { return journal{v.st} }
func (v view) Outbox() repository.OutboxStore { return outbox{v.st} }
func (v view) Lotteries() repository.LotteryStore { return lotteries{v.st} }
func (v view) Profiles() repository.ProfileStore { return profiles{v.st} }

// =============================================================================
// ACCOUNTS
// =============================================================================

type accounts struct{ st *state }

func (a accounts) Get(_ context.Context, userID string) (*model.Account, error) {
	acc, ok := a.st.accounts[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

func (a accounts) Ensure(ctx context.Context, userID string, startingBalance int64) (*model.Account, error) {
	if _, ok := a.st.accounts[userID]; !ok {
		a.st.nextAccountID++
		now := time.Now()
		acc := model.NewAccount(userID, startingBalance)
		acc.ID = a.st.nextAccountID
		acc.CreatedAt = now
		acc.UpdatedAt = now
		a.st.accounts[userID] = acc
	}
	return a.Get(ctx, userID)
}

// Lock 写事务已经持有全局锁
func (a accounts) Lock(context.Context, ...string) error {
	return nil
}

func (a accounts) ApplyDelta(ctx context.Context, userID string, amount int64, kind model.DeltaKind) (*model.Account, error) {
	acc, ok := a.st.accounts[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	switch kind {
	case model.Earn:
		acc.Balance += amount
		acc.LifetimeEarned += amount
	case model.Spend:
		if acc.Balance < amount {
			return nil, repository.ErrBalanceNotEnough
		}
		acc.Balance -= amount
		acc.LifetimeSpent += amount
	}
	acc.Version++
	acc.UpdatedAt = time.Now()
	return a.Get(ctx, userID)
}

func (a accounts) Reset(ctx context.Context, userID string, balance, earned, spent int64) (*model.Account, error) {
	if _, err := a.Ensure(ctx, userID, balance); err != nil {
		return nil, err
	}
	acc := a.st.accounts[userID]
	acc.Balance = balance
	acc.LifetimeEarned = earned
	acc.LifetimeSpent = spent
	acc.Version++
	acc.UpdatedAt = time.Now()
	return a.Get(ctx, userID)
}

func (a accounts) Top(ctx context.Context, limit int) ([]*model.Account, error) {
	all, _ := a.List(ctx)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Balance > all[j].Balance
	})
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (a accounts) List(context.Context) ([]*model.Account, error) {
	out := make([]*model.Account, 0, len(a.st.accounts))
	for _, acc := range a.st.accounts {
		c := *acc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (a accounts) Replace(_ context.Context, list []*model.Account) error {
	a.st.accounts = make(map[string]*model.Account, len(list))
	for _, acc := range list {
		a.st.nextAccountID++
		c := *acc
		c.ID = a.st.nextAccountID
		a.st.accounts[c.UserID] = &c
	}
	return nil
}

// =============================================================================
// INVENTORY
// =============================================================================

type inventory struct{ st *state }

func (i inventory) CreateShop(_ context.Context, name string) error {
	if _, ok := i.st.shops[name]; !ok {
		i.st.shops[name] = &model.Shop{Name: name, CreatedAt: time.Now()}
	}
	return nil
}

func (i inventory) DeleteShop(_ context.Context, name string) error {
	for k := range i.st.products {
		if k.ShopName == name {
			delete(i.st.products, k)
		}
	}
	delete(i.st.shops, name)
	return nil
}

func (i inventory) ShopExists(_ context.Context, name string) (bool, error) {
	_, ok := i.st.shops[name]
	return ok, nil
}

func (i inventory) ListShops(context.Context) ([]*model.Shop, error) {
	out := make([]*model.Shop, 0, len(i.st.shops))
	for _, s := range i.st.shops {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (i inventory) UpsertProduct(_ context.Context, product *model.Product) error {
	if _, ok := i.st.shops[product.ShopName]; !ok {
		return repository.ErrShopNotFound
	}
	key := model.ItemKey{ShopName: product.ShopName, ProductName: product.Name}
	now := time.Now()
	c := *product
	if existing, ok := i.st.products[key]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	i.st.products[key] = &c
	return nil
}

func (i inventory) DeleteProduct(_ context.Context, shop, name string) error {
	delete(i.st.products, model.ItemKey{ShopName: shop, ProductName: name})
	return nil
}

func (i inventory) GetProduct(_ context.Context, shop, name string) (*model.Product, error) {
	p, ok := i.st.products[model.ItemKey{ShopName: shop, ProductName: name}]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (i inventory) ListProducts(_ context.Context, shop string, roles model.Capabilities) ([]*model.Product, error) {
	out := make([]*model.Product, 0)
	for _, p := range i.st.products {
		if shop != "" && p.ShopName != shop {
			continue
		}
		if roles != nil && !roles.Allows(p) {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ShopName != out[b].ShopName {
			return out[a].ShopName < out[b].ShopName
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

func (i inventory) DecrementStock(_ context.Context, shop, name string, by int64) error {
	p, ok := i.st.products[model.ItemKey{ShopName: shop, ProductName: name}]
	if !ok {
		return repository.ErrProductNotFound
	}
	if p.Stock.Unlimited {
		return nil
	}
	if p.Stock.Remaining < by {
		return repository.ErrStockNotEnough
	}
	p.Stock.Remaining -= by
	p.UpdatedAt = time.Now()
	return nil
}

func (i inventory) GetInventory(_ context.Context, userID string) ([]*model.InventoryEntry, error) {
	out := make([]*model.InventoryEntry, 0)
	for k, e := range i.st.entries {
		if k.UserID != userID {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sortEntries(out)
	return out, nil
}

func (i inventory) GetEntry(_ context.Context, userID string, item model.ItemKey) (*model.InventoryEntry, error) {
	e, ok := i.st.entries[entryKey{UserID: userID, Item: item}]
	if !ok {
		return nil, repository.ErrQuantityNotEnough
	}
	c := *e
	return &c, nil
}

func (i inventory) AdjustInventory(_ context.Context, userID string, item model.ItemKey, delta int64) (int64, error) {
	key := entryKey{UserID: userID, Item: item}
	e, ok := i.st.entries[key]
	current := int64(0)
	if ok {
		current = e.Quantity
	}

	next := current + delta
	if next < 0 {
		return 0, repository.ErrQuantityNotEnough
	}
	if next == 0 {
		delete(i.st.entries, key)
		return 0, nil
	}
	if !ok {
		e = &model.InventoryEntry{UserID: userID, ShopName: item.ShopName, ProductName: item.ProductName}
		i.st.entries[key] = e
	}
	e.Quantity = next
	e.UpdatedAt = time.Now()
	return next, nil
}

func (i inventory) ListAllProducts(ctx context.Context) ([]*model.Product, error) {
	return i.ListProducts(ctx, "", nil)
}

func (i inventory) ListAllEntries(context.Context) ([]*model.InventoryEntry, error) {
	out := make([]*model.InventoryEntry, 0, len(i.st.entries))
	for _, e := range i.st.entries {
		c := *e
		out = append(out, &c)
	}
	sortEntries(out)
	return out, nil
}

func (i inventory) Replace(_ context.Context, shops []*model.Shop, products []*model.Product, entries []*model.InventoryEntry) error {
	i.st.shops = make(map[string]*model.Shop, len(shops))
	i.st.products = make(map[model.ItemKey]*model.Product, len(products))
	i.st.entries = make(map[entryKey]*model.InventoryEntry, len(entries))
	for _, s := range shops {
		c := *s
		i.st.shops[c.Name] = &c
	}
	for _, p := range products {
		c := *p
		i.st.products[model.ItemKey{ShopName: c.ShopName, ProductName: c.Name}] = &c
	}
	for _, e := range entries {
		c := *e
		i.st.entries[entryKey{UserID: c.UserID, Item: model.ItemKey{ShopName: c.ShopName, ProductName: c.ProductName}}] = &c
	}
	return nil
}

func sortEntries(out []*model.InventoryEntry) {
	sort.Slice(out, func(a, b int) bool {
		if out[a].UserID != out[b].UserID {
			return out[a].UserID < out[b].UserID
		}
		if out[a].ShopName != out[b].ShopName {
			return out[a].ShopName < out[b].ShopName
		}
		return out[a].ProductName < out[b].ProductName
	})
}

// =============================================================================
// JOURNAL / OUTBOX
// =============================================================================

type journal struct{ st *state }

func (j journal) Create(_ context.Context, trans *model.AccountTransaction) error {
	j.st.nextJournalID++
	trans.ID = j.st.nextJournalID
	trans.CreatedAt = time.Now()
	c := *trans
	j.st.journal = append(j.st.journal, &c)
	return nil
}

func (j journal) ListByUserID(_ context.Context, userID string, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var matched []*model.AccountTransaction
	for idx := len(j.st.journal) - 1; idx >= 0; idx-- {
		if t := j.st.journal[idx]; t.UserID == userID {
			c := *t
			matched = append(matched, &c)
		}
	}
	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []*model.AccountTransaction{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

type outbox struct{ st *state }

func (o outbox) Enqueue(_ context.Context, topic string, event *model.LedgerEvent) error {
	msg, err := model.NewEventMessage(topic, event)
	if err != nil {
		return err
	}
	o.st.nextOutboxID++
	msg.ID = o.st.nextOutboxID
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	o.st.outbox = append(o.st.outbox, msg)
	return nil
}

func (o outbox) Pending(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	var out []*model.OutboxMessage
	for _, m := range o.st.outbox {
		if len(out) >= limit {
			break
		}
		if m.Status == model.OutboxStatusPending {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

// pending 找不到或已离开 PENDING 时返回 nil
func (o outbox) pending(id int64) *model.OutboxMessage {
	for _, m := range o.st.outbox {
		if m.ID == id && m.Status == model.OutboxStatusPending {
			return m
		}
	}
	return nil
}

func (o outbox) MarkSent(_ context.Context, id int64) error {
	if m := o.pending(id); m != nil {
		m.Status = model.OutboxStatusSent
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (o outbox) RecordFailure(_ context.Context, id int64, maxRetry int) (bool, error) {
	m := o.pending(id)
	if m == nil {
		return false, nil
	}
	m.RetryCount++
	m.UpdatedAt = time.Now()
	if m.RetryCount >= maxRetry {
		m.Status = model.OutboxStatusFailed
		return true, nil
	}
	return false, nil
}

// =============================================================================
// LOTTERIES / PROFILES
// =============================================================================

type lotteries struct{ st *state }

func (l lotteries) Get(_ context.Context, name string) (*model.Lottery, error) {
	lot, ok := l.st.lotteries[name]
	if !ok {
		return nil, repository.ErrLotteryNotFound
	}
	return copyLottery(lot), nil
}

func (l lotteries) GetForUpdate(ctx context.Context, name string) (*model.Lottery, error) {
	return l.Get(ctx, name)
}

func (l lotteries) Save(_ context.Context, lottery *model.Lottery) error {
	c := copyLottery(lottery)
	for idx := range c.Tiers {
		c.Tiers[idx].LotteryName = c.Name
	}
	sort.Slice(c.Tiers, func(a, b int) bool { return c.Tiers[a].Tier < c.Tiers[b].Tier })
	now := time.Now()
	if existing, ok := l.st.lotteries[c.Name]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	l.st.lotteries[c.Name] = c
	return nil
}

func (l lotteries) Consume(_ context.Context, name string, perTier map[int]int64, lose int64) error {
	lot, ok := l.st.lotteries[name]
	if !ok {
		return repository.ErrLotteryNotFound
	}
	for tier, n := range perTier {
		if n <= 0 {
			continue
		}
		idx := findTier(lot, tier)
		if idx < 0 || lot.Tiers[idx].Remaining < n {
			return repository.ErrLotteryExhausted
		}
		lot.Tiers[idx].Remaining -= n
	}
	if lose > 0 {
		if lot.LoseRemaining < lose {
			return repository.ErrLotteryExhausted
		}
		lot.LoseRemaining -= lose
	}
	return nil
}

func findTier(lot *model.Lottery, tier int) int {
	for idx := range lot.Tiers {
		if lot.Tiers[idx].Tier == tier {
			return idx
		}
	}
	return -1
}

type profiles struct{ st *state }

func (p profiles) Get(_ context.Context, scope string) (*model.GambleProfile, error) {
	prof, ok := p.st.profiles[scope]
	if !ok {
		return nil, nil
	}
	c := *prof
	return &c, nil
}

func (p profiles) Set(_ context.Context, scope string, level int) error {
	p.st.profiles[scope] = &model.GambleProfile{Scope: scope, Level: level, UpdatedAt: time.Now()}
	return nil
}
