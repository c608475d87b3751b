package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/models"
)

// MemoryStore is an in-memory Store. It backs the test suites and is handy
// for ad-hoc tooling; it provides the same ordering guarantees as the SQLite
// adapter but only best-effort transactionality (RunInTx runs fn directly
// against the store; it neither isolates callers nor rolls back).
type MemoryStore struct {
	mu           sync.Mutex
	securities   map[string]*models.Security
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	positions    map[string]*models.Position
	fxRates      map[string]models.FXRate
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		securities:   make(map[string]*models.Security),
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
		positions:    make(map[string]*models.Position),
		fxRates:      make(map[string]models.FXRate),
	}
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *MemoryStore) CreateSecurity(ctx context.Context, s *models.Security) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.securities[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSecurity(ctx context.Context, id string) (*models.Security, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.securities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSecurities(ctx context.Context) ([]*models.Security, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Security
	for _, s := range m.securities {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneTransaction(t *models.Transaction) *models.Transaction {
	cp := *t
	if t.CapitalGain != nil {
		g := *t.CapitalGain
		cp.CapitalGain = &g
	}
	if t.Flags != nil {
		cp.Flags = append([]string(nil), t.Flags...)
	}
	if t.Details != nil {
		d := *t.Details
		d.Steps = append([]models.AuditStep(nil), t.Details.Steps...)
		if t.Details.SuperficialLoss != nil {
			sl := *t.Details.SuperficialLoss
			sl.RelatedTransactionIDs = append([]string(nil), sl.RelatedTransactionIDs...)
			d.SuperficialLoss = &sl
		}
		cp.Details = &d
	}
	return &cp
}

// replayLess orders by (trade date asc, created_at asc), the replay order.
func replayLess(a, b *models.Transaction) bool {
	if c := a.TradeDate.Compare(b.TradeDate); c != 0 {
		return c < 0
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (m *MemoryStore) collect(match func(*models.Transaction) bool) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range m.transactions {
		if match(t) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return replayLess(out[i], out[j]) })
	return out
}

func (m *MemoryStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.collect(func(t *models.Transaction) bool {
		if f.SecurityID != "" && t.SecurityID != f.SecurityID {
			return false
		}
		if f.AccountID != "" && t.AccountID != f.AccountID {
			return false
		}
		return true
	})
	// presentation order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *MemoryStore) FindSeries(ctx context.Context, securityID, accountID string) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(t *models.Transaction) bool {
		return t.SecurityID == securityID && t.AccountID == accountID
	}), nil
}

func (m *MemoryStore) FindSeriesFrom(ctx context.Context, securityID, accountID string, from models.Date) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(t *models.Transaction) bool {
		return t.SecurityID == securityID && t.AccountID == accountID && !t.TradeDate.Before(from)
	}), nil
}

func (m *MemoryStore) FindPrevBefore(ctx context.Context, securityID, accountID string, date models.Date) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.collect(func(t *models.Transaction) bool {
		return t.SecurityID == securityID && t.AccountID == accountID && t.TradeDate.Before(date)
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[len(matches)-1], nil
}

func (m *MemoryStore) FindAnyAfter(ctx context.Context, securityID, accountID string, date models.Date) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.collect(func(t *models.Transaction) bool {
		return t.SecurityID == securityID && t.AccountID == accountID && t.TradeDate.After(date)
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (m *MemoryStore) FindInWindow(ctx context.Context, securityID string, start, end models.Date, types []models.TransactionType) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	typeSet := make(map[models.TransactionType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return m.collect(func(t *models.Transaction) bool {
		if t.SecurityID != securityID {
			return false
		}
		if t.TradeDate.Before(start) || t.TradeDate.After(end) {
			return false
		}
		return len(types) == 0 || typeSet[t.Type]
	}), nil
}

func (m *MemoryStore) FindLatestOnOrBefore(ctx context.Context, securityID string, date models.Date) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.collect(func(t *models.Transaction) bool {
		return t.SecurityID == securityID && !t.TradeDate.After(date)
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[len(matches)-1], nil
}

func (m *MemoryStore) UpsertTransaction(ctx context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = cloneTransaction(t)
	return nil
}

func (m *MemoryStore) DeleteTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.transactions, id)
	return cloneTransaction(t), nil
}

func posKey(securityID, accountID string) string { return securityID + "|" + accountID }

func (m *MemoryStore) GetPosition(ctx context.Context, securityID, accountID string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[posKey(securityID, accountID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPositions(ctx context.Context) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SecurityID != out[j].SecurityID {
			return out[i].SecurityID < out[j].SecurityID
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (m *MemoryStore) UpsertPosition(ctx context.Context, securityID, accountID string, shares, totalAcb decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[posKey(securityID, accountID)] = &models.Position{
		SecurityID: securityID,
		AccountID:  accountID,
		Shares:     shares,
		TotalAcb:   totalAcb,
		UpdatedAt:  time.Now().UTC(),
	}
	return nil
}

func fxKey(r models.FXRate) string { return r.Date.String() + "|" + r.From + "|" + r.To }

func (m *MemoryStore) InsertFXRate(ctx context.Context, r models.FXRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fxKey(r)
	if _, exists := m.fxRates[key]; !exists {
		m.fxRates[key] = r
	}
	return nil
}

func (m *MemoryStore) FindFXRateOnOrBefore(ctx context.Context, date models.Date, from, to string, lookbackDays int) (*models.FXRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i <= lookbackDays; i++ {
		key := date.Add(-i).String() + "|" + from + "|" + to
		if r, ok := m.fxRates[key]; ok {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

var _ Store = (*MemoryStore)(nil)
