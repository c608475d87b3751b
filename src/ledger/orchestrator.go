package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/store"
)

// FxOracle resolves an exchange rate for a calendar date. Implementations
// fall back to the nearest prior observation; a miss is ErrFxUnavailable
// territory for the orchestrator.
type FxOracle interface {
	Rate(ctx context.Context, date models.Date, from, to string) (decimal.Decimal, error)
}

// Orchestrator owns the mutating lifecycle of the ledger. Every create,
// update, or delete locates the affected (security, account) series, replays
// the affected suffix through the algebra in (trade date, created at) order,
// and writes the terminal state into the Position cache. All writes of one
// operation happen in a single store transaction.
//
// Requests are serialized per series; mutations on different series proceed
// in parallel. The FX oracle is consulted before the series lock is taken so
// a slow rate source never stalls unrelated writes.
type Orchestrator struct {
	store store.Store
	fx    FxOracle

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewOrchestrator builds an orchestrator over the given store and FX oracle.
func NewOrchestrator(st store.Store, fx FxOracle) *Orchestrator {
	return &Orchestrator{
		store: st,
		fx:    fx,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func seriesKey(securityID, accountID string) string {
	return securityID + "|" + accountID
}

// lockSeries acquires the mutexes of the given series keys in sorted order
// and returns the matching unlock.
func (o *Orchestrator) lockSeries(keys ...string) func() {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, k := range sorted {
		o.mu.Lock()
		m, ok := o.locks[k]
		if !ok {
			m = &sync.Mutex{}
			o.locks[k] = m
		}
		o.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Create validates the input against the current series state, persists the
// new transaction, and replays the series. The replay starts 30 days before
// the trade date so loss-producing sells whose window covers the new row are
// re-examined by the detector. For a spinoff
// naming a new security it also emits the paired transfer_in that opens the
// spun-off series with the carved-out ACB.
func (o *Orchestrator) Create(ctx context.Context, input *models.CreateTransactionInput) (*models.Transaction, error) {
	sec, err := o.getSecurity(ctx, input.SecurityID)
	if err != nil {
		return nil, err
	}
	if _, err := o.getAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	keys := []string{seriesKey(input.SecurityID, input.AccountID)}
	if input.Type == models.TypeSpinoff && input.NewSecurityID != "" {
		if _, err := o.getSecurity(ctx, input.NewSecurityID); err != nil {
			return nil, err
		}
		keys = append(keys, seriesKey(input.NewSecurityID, input.AccountID))
	}

	settle := input.TradeDate
	if input.SettlementDate != nil {
		settle = *input.SettlementDate
	}
	fxRate, err := o.resolveFxRate(ctx, sec, input.FxRate, settle)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:                    o.newID(),
		SecurityID:            input.SecurityID,
		AccountID:             input.AccountID,
		Type:                  input.Type,
		TradeDate:             input.TradeDate,
		SettlementDate:        settle,
		CreatedAt:             o.now().UTC(),
		Quantity:              input.Quantity,
		Price:                 input.Price,
		Fees:                  input.Fees,
		FxRate:                fxRate,
		Ratio:                 input.Ratio,
		RocPerShare:           input.RocPerShare,
		NewSecurityAcbPercent: input.NewSecurityAcbPercent,
		CashPerShare:          input.CashPerShare,
		NewSecurityID:         input.NewSecurityID,
		Notes:                 input.Notes,
	}

	unlock := o.lockSeries(keys...)
	defer unlock()

	err = o.store.RunInTx(ctx, func(st store.Store) error {
		before, err := o.positionStateAt(ctx, st, tx.SecurityID, tx.AccountID, tx.TradeDate)
		if err != nil {
			return err
		}
		if _, err := Apply(before, tx); err != nil {
			return err
		}
		if err := st.UpsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("persisting transaction: %w", err)
		}
		if err := o.replay(ctx, st, tx.SecurityID, tx.AccountID, tx.TradeDate.Add(-superficialWindowDays)); err != nil {
			return err
		}
		if tx.Type == models.TypeSpinoff && tx.NewSecurityID != "" {
			if err := o.emitSpinoffTransfer(ctx, st, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.InfoFromContext(ctx, "Transaction created",
		"transactionID", tx.ID, "type", string(tx.Type),
		"securityID", tx.SecurityID, "accountID", tx.AccountID)
	return o.getTransaction(ctx, tx.ID)
}

// Update is delete-then-create with merged fields inside one store
// transaction, so a change to the date, type, quantity, or fxRate re-derives
// the affected suffix. The merged row keeps its id but receives a fresh
// creation timestamp and therefore sorts after previously existing
// transactions on the same trade date, exactly like a backdated insert.
func (o *Orchestrator) Update(ctx context.Context, id string, patch *models.UpdateTransactionInput) (*models.Transaction, error) {
	existing, err := o.getTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	sec, err := o.getSecurity(ctx, existing.SecurityID)
	if err != nil {
		return nil, err
	}

	merged := mergePatch(existing, patch)
	merged.CreatedAt = o.now().UTC()

	// Re-resolve the rate only when the patch moved the dates without
	// pinning a rate; otherwise the stored one stands.
	if patch.FxRate != nil {
		merged.FxRate = *patch.FxRate
	} else if merged.SettlementDate.Compare(existing.SettlementDate) != 0 {
		rate, err := o.resolveFxRate(ctx, sec, nil, merged.SettlementDate)
		if err != nil {
			return nil, err
		}
		merged.FxRate = rate
	}

	unlock := o.lockSeries(seriesKey(existing.SecurityID, existing.AccountID))
	defer unlock()

	err = o.store.RunInTx(ctx, func(st store.Store) error {
		if _, err := st.DeleteTransaction(ctx, id); err != nil {
			return fmt.Errorf("removing transaction %s: %w", id, err)
		}
		before, err := o.positionStateAt(ctx, st, merged.SecurityID, merged.AccountID, merged.TradeDate)
		if err != nil {
			return err
		}
		if _, err := Apply(before, merged); err != nil {
			return err
		}
		if err := st.UpsertTransaction(ctx, merged); err != nil {
			return fmt.Errorf("persisting transaction: %w", err)
		}
		from := merged.TradeDate
		if existing.TradeDate.Before(from) {
			from = existing.TradeDate
		}
		return o.replay(ctx, st, merged.SecurityID, merged.AccountID, from.Add(-superficialWindowDays))
	})
	if err != nil {
		return nil, err
	}

	logger.InfoFromContext(ctx, "Transaction updated", "transactionID", id)
	return o.getTransaction(ctx, id)
}

// Delete removes the transaction and replays the series from 30 days before its
// trade date.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	target, err := o.getTransaction(ctx, id)
	if err != nil {
		return err
	}

	unlock := o.lockSeries(seriesKey(target.SecurityID, target.AccountID))
	defer unlock()

	err = o.store.RunInTx(ctx, func(st store.Store) error {
		removed, err := st.DeleteTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("removing transaction %s: %w", id, err)
		}
		if removed == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return o.replay(ctx, st, target.SecurityID, target.AccountID, target.TradeDate.Add(-superficialWindowDays))
	})
	if err != nil {
		return err
	}
	logger.InfoFromContext(ctx, "Transaction deleted", "transactionID", id)
	return nil
}

// Replay re-derives a series suffix under the series lock. Mutations run it
// internally; this entry point exists for consistency repair and tests.
func (o *Orchestrator) Replay(ctx context.Context, securityID, accountID string, from models.Date) error {
	unlock := o.lockSeries(seriesKey(securityID, accountID))
	defer unlock()
	return o.store.RunInTx(ctx, func(st store.Store) error {
		return o.replay(ctx, st, securityID, accountID, from)
	})
}

// replay re-derives the series from the given date inclusive and finally
// writes the Position cache. It must run inside a store transaction with the
// series lock held.
//
// Two passes. The first applies the algebra only, so every row's share count
// is current. The second repeats the walk consulting the superficial-loss
// detector, whose still-held test reads the sharesAfter of rows later than
// the sell being examined; those are stale until the first pass has run.
func (o *Orchestrator) replay(ctx context.Context, st store.Store, securityID, accountID string, from models.Date) error {
	acc, err := o.getAccountFrom(ctx, st, accountID)
	if err != nil {
		return err
	}
	if err := o.replayPass(ctx, st, securityID, accountID, from, acc, false); err != nil {
		return err
	}
	return o.replayPass(ctx, st, securityID, accountID, from, acc, true)
}

func (o *Orchestrator) replayPass(ctx context.Context, st store.Store, securityID, accountID string, from models.Date, acc *models.Account, detect bool) error {
	state, err := o.positionStateAt(ctx, st, securityID, accountID, from)
	if err != nil {
		return err
	}

	rows, err := st.FindSeriesFrom(ctx, securityID, accountID, from)
	if err != nil {
		return fmt.Errorf("loading series suffix: %w", err)
	}

	// Denied-loss amounts waiting to be folded into a later repurchase's ACB.
	pending := make(map[string]decimal.Decimal)
	if detect {
		if err := o.seedPendingAdjustments(ctx, st, securityID, accountID, from, pending); err != nil {
			return err
		}
	}

	for _, tx := range rows {
		tx.SharesBefore = state.Shares
		tx.AcbBefore = state.Acb

		res, err := Apply(state, tx)
		if err != nil {
			return err
		}
		if res.After.Shares.IsNegative() || res.After.Acb.IsNegative() {
			return fmt.Errorf("%w: replay of %s produced shares=%s acb=%s",
				ErrInvariantViolation, tx.ID,
				res.After.Shares.String(), res.After.Acb.String())
		}

		tx.SharesAfter = res.After.Shares
		tx.AcbAfter = res.After.Acb
		tx.CapitalGain = res.CapitalGain
		tx.Details = res.Details
		tx.ClearFlag(models.FlagSuperficialLoss)

		if adj, ok := pending[tx.ID]; ok {
			delete(pending, tx.ID)
			adjusted := dec.RoundMoney(tx.AcbAfter.Add(adj))
			tx.Details.AddStep("Add denied superficial loss to ACB", "acbAfter + deniedLoss",
				map[string]string{
					"acbAfter":   dec.MoneyString(tx.AcbAfter),
					"deniedLoss": dec.MoneyString(adj),
				}, dec.MoneyString(adjusted))
			tx.AcbAfter = adjusted
			tx.SetFlag(models.FlagSuperficialLoss)
		}

		if detect && tx.Type == models.TypeSell && res.CapitalGain != nil && res.CapitalGain.IsNegative() {
			verdict, adjustments, err := detectSuperficialLoss(ctx, st, tx, acc, *res.CapitalGain)
			if err != nil {
				return err
			}
			tx.Details.SuperficialLoss = verdict
			if verdict.IsSuperficial {
				tx.SetFlag(models.FlagSuperficialLoss)
				if len(adjustments) == 0 {
					// No later same-series repurchase to carry the
					// addition; the retained shares absorb it.
					adjusted := dec.RoundMoney(tx.AcbAfter.Add(verdict.LossAmount))
					tx.Details.AddStep("Add denied loss to retained ACB", "acbAfter + deniedLoss",
						map[string]string{
							"acbAfter":   dec.MoneyString(tx.AcbAfter),
							"deniedLoss": dec.MoneyString(verdict.LossAmount),
						}, dec.MoneyString(adjusted))
					tx.AcbAfter = adjusted
				}
				for _, a := range adjustments {
					pending[a.TransactionID] = pending[a.TransactionID].Add(a.Amount)
				}
			}
		}

		if tx.Type == models.TypeSell && acc.Registration.IsRegistered() {
			// Sells inside registered accounts are not reportable.
			tx.CapitalGain = nil
		}

		if err := st.UpsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("writing replayed transaction %s: %w", tx.ID, err)
		}
		state = State{Shares: tx.SharesAfter, Acb: tx.AcbAfter}
	}

	if err := st.UpsertPosition(ctx, securityID, accountID, state.Shares, state.Acb); err != nil {
		return fmt.Errorf("writing position: %w", err)
	}
	return nil
}

// seedPendingAdjustments rebuilds the denied-loss additions owed to rows in
// the replay range by sells dated just before it. Those sells are not being
// re-derived, but their stored verdicts say where their denied amounts went.
func (o *Orchestrator) seedPendingAdjustments(ctx context.Context, st store.Store, securityID, accountID string, from models.Date, pending map[string]decimal.Decimal) error {
	earlier, err := st.FindSeriesFrom(ctx, securityID, accountID, from.Add(-superficialWindowDays))
	if err != nil {
		return fmt.Errorf("loading prior sells: %w", err)
	}
	for _, prior := range earlier {
		if !prior.TradeDate.Before(from) {
			break
		}
		if prior.Type != models.TypeSell || prior.Details == nil {
			continue
		}
		verdict := prior.Details.SuperficialLoss
		if verdict == nil || !verdict.IsSuperficial {
			continue
		}
		acquisitions, err := st.FindInWindow(ctx, securityID,
			prior.TradeDate.Add(-superficialWindowDays), prior.TradeDate.Add(superficialWindowDays),
			[]models.TransactionType{models.TypeBuy, models.TypeDrip})
		if err != nil {
			return fmt.Errorf("loading prior sell window: %w", err)
		}
		for _, adj := range distributeDeniedLoss(verdict.LossAmount, prior, acquisitions) {
			pending[adj.TransactionID] = pending[adj.TransactionID].Add(adj.Amount)
		}
	}
	return nil
}

// positionStateAt returns the (sharesAfter, acbAfter) of the latest
// transaction of the series dated strictly before the given date, or the
// zero state when the series has nothing earlier.
func (o *Orchestrator) positionStateAt(ctx context.Context, st store.Store, securityID, accountID string, date models.Date) (State, error) {
	prev, err := st.FindPrevBefore(ctx, securityID, accountID, date)
	if err != nil {
		return State{}, fmt.Errorf("loading prior state: %w", err)
	}
	if prev == nil {
		return State{Shares: decimal.Zero, Acb: decimal.Zero}, nil
	}
	return State{Shares: prev.SharesAfter, Acb: prev.AcbAfter}, nil
}

// emitSpinoffTransfer opens the spun-off security's series with the ACB
// carved out of the parent, as a synthetic transfer_in on the same trade
// date. It runs after the parent replay so the carve-out reads the final
// AcbBefore of the spinoff row.
func (o *Orchestrator) emitSpinoffTransfer(ctx context.Context, st store.Store, spinoff *models.Transaction) error {
	parent, err := st.GetTransaction(ctx, spinoff.ID)
	if err != nil {
		return fmt.Errorf("re-reading spinoff row: %w", err)
	}
	allocated := dec.RoundMoney(parent.AcbBefore.Mul(parent.NewSecurityAcbPercent))

	paired := &models.Transaction{
		ID:             o.newID(),
		SecurityID:     spinoff.NewSecurityID,
		AccountID:      spinoff.AccountID,
		Type:           models.TypeTransferIn,
		TradeDate:      spinoff.TradeDate,
		SettlementDate: spinoff.SettlementDate,
		CreatedAt:      o.now().UTC(),
		Quantity:       spinoff.Quantity,
		Price:          dec.SafeDivide(allocated, spinoff.Quantity),
		Fees:           decimal.Zero,
		FxRate:         dec.One,
		Notes:          fmt.Sprintf("Opening ACB from spinoff (transaction %s)", spinoff.ID),
	}
	if err := st.UpsertTransaction(ctx, paired); err != nil {
		return fmt.Errorf("persisting spinoff transfer: %w", err)
	}
	return o.replay(ctx, st, paired.SecurityID, paired.AccountID, paired.TradeDate.Add(-superficialWindowDays))
}

// resolveFxRate picks the transaction's rate: caller-supplied wins, CAD
// securities are always 1, everything else asks the oracle for the
// settlement date. This runs before the series lock is acquired.
func (o *Orchestrator) resolveFxRate(ctx context.Context, sec *models.Security, supplied *decimal.Decimal, settle models.Date) (decimal.Decimal, error) {
	if supplied != nil {
		return *supplied, nil
	}
	if strings.EqualFold(sec.Currency, "CAD") {
		return dec.One, nil
	}
	rate, err := o.fx.Rate(ctx, settle, sec.Currency, "CAD")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s to CAD on %s: %v",
			ErrFxUnavailable, sec.Currency, settle, err)
	}
	return rate, nil
}

func mergePatch(existing *models.Transaction, patch *models.UpdateTransactionInput) *models.Transaction {
	merged := *existing
	merged.Flags = nil
	merged.Details = nil
	merged.CapitalGain = nil

	if patch.Type != nil {
		merged.Type = *patch.Type
	}
	if patch.TradeDate != nil {
		merged.TradeDate = *patch.TradeDate
		if patch.SettlementDate == nil && existing.SettlementDate.Compare(existing.TradeDate) == 0 {
			merged.SettlementDate = *patch.TradeDate
		}
	}
	if patch.SettlementDate != nil {
		merged.SettlementDate = *patch.SettlementDate
	}
	if patch.Quantity != nil {
		merged.Quantity = *patch.Quantity
	}
	if patch.Price != nil {
		merged.Price = *patch.Price
	}
	if patch.Fees != nil {
		merged.Fees = *patch.Fees
	}
	if patch.Ratio != nil {
		merged.Ratio = *patch.Ratio
	}
	if patch.RocPerShare != nil {
		merged.RocPerShare = *patch.RocPerShare
	}
	if patch.NewSecurityAcbPercent != nil {
		merged.NewSecurityAcbPercent = *patch.NewSecurityAcbPercent
	}
	if patch.CashPerShare != nil {
		merged.CashPerShare = *patch.CashPerShare
	}
	if patch.NewSecurityID != nil {
		merged.NewSecurityID = *patch.NewSecurityID
	}
	if patch.Notes != nil {
		merged.Notes = *patch.Notes
	}
	return &merged
}

func (o *Orchestrator) getSecurity(ctx context.Context, id string) (*models.Security, error) {
	sec, err := o.store.GetSecurity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("security %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading security %s: %w", id, err)
	}
	return sec, nil
}

func (o *Orchestrator) getAccount(ctx context.Context, id string) (*models.Account, error) {
	return o.getAccountFrom(ctx, o.store, id)
}

func (o *Orchestrator) getAccountFrom(ctx context.Context, st store.Store, id string) (*models.Account, error) {
	acc, err := st.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return acc, nil
}

func (o *Orchestrator) getTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := o.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", id, err)
	}
	return tx, nil
}
