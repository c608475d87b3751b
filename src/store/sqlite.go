package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/models"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a database/sql handle opened with the
// modernc sqlite driver.
type SQLiteStore struct {
	db *sql.DB
	q  dbtx
	tx *sql.Tx
}

// NewSQLiteStore wraps an already-opened database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, q: db}
}

func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &SQLiteStore{db: s.db, q: tx, tx: tx}
	if err := fn(bound); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- securities ---

func (s *SQLiteStore) CreateSecurity(ctx context.Context, sec *models.Security) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO securities (id, symbol, name, currency, kind, exchange, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sec.ID, sec.Symbol, sec.Name, sec.Currency, string(sec.Kind), sec.Exchange,
		sec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert security %s: %w", sec.Symbol, err)
	}
	return nil
}

func (s *SQLiteStore) GetSecurity(ctx context.Context, id string) (*models.Security, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, symbol, name, currency, kind, exchange, created_at
		FROM securities WHERE id = ?`, id)
	return scanSecurity(row)
}

func (s *SQLiteStore) ListSecurities(ctx context.Context) ([]*models.Security, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, symbol, name, currency, kind, exchange, created_at
		FROM securities ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query securities: %w", err)
	}
	defer rows.Close()

	var out []*models.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSecurity(r rowScanner) (*models.Security, error) {
	var sec models.Security
	var kind, createdAt string
	err := r.Scan(&sec.ID, &sec.Symbol, &sec.Name, &sec.Currency, &kind, &sec.Exchange, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan security: %w", err)
	}
	sec.Kind = models.SecurityKind(kind)
	sec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &sec, nil
}

// --- accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, name, registration, created_at)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Registration), a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, registration, created_at FROM accounts WHERE id = ?`, id)
	var a models.Account
	var reg, createdAt string
	err := row.Scan(&a.ID, &a.Name, &reg, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Registration = models.RegistrationKind(reg)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, registration, created_at FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		var a models.Account
		var reg, createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &reg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Registration = models.RegistrationKind(reg)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- transactions ---

const txColumns = `id, security_id, account_id, type, trade_date, settlement_date, created_at,
	quantity, price, fees, fx_rate,
	ratio, roc_per_share, new_security_acb_percent, cash_per_share, new_security_id,
	shares_before, shares_after, acb_before, acb_after, capital_gain, flags, notes, details`

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions`
	var conds []string
	var args []any
	if f.SecurityID != "" {
		conds = append(conds, "security_id = ?")
		args = append(args, f.SecurityID)
	}
	if f.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY trade_date DESC, created_at DESC"
	return s.queryTransactions(ctx, query, args...)
}

func (s *SQLiteStore) FindSeries(ctx context.Context, securityID, accountID string) ([]*models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE security_id = ? AND account_id = ?
		ORDER BY trade_date ASC, created_at ASC`, securityID, accountID)
}

func (s *SQLiteStore) FindSeriesFrom(ctx context.Context, securityID, accountID string, from models.Date) ([]*models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE security_id = ? AND account_id = ? AND trade_date >= ?
		ORDER BY trade_date ASC, created_at ASC`, securityID, accountID, from.String())
}

func (s *SQLiteStore) FindPrevBefore(ctx context.Context, securityID, accountID string, date models.Date) (*models.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE security_id = ? AND account_id = ? AND trade_date < ?
		ORDER BY trade_date DESC, created_at DESC LIMIT 1`, securityID, accountID, date.String())
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) FindAnyAfter(ctx context.Context, securityID, accountID string, date models.Date) (*models.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE security_id = ? AND account_id = ? AND trade_date > ?
		ORDER BY trade_date ASC, created_at ASC LIMIT 1`, securityID, accountID, date.String())
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) FindInWindow(ctx context.Context, securityID string, start, end models.Date, types []models.TransactionType) ([]*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE security_id = ? AND trade_date >= ? AND trade_date <= ?`
	args := []any{securityID, start.String(), end.String()}
	if len(types) > 0 {
		query += " AND type IN (?" + strings.Repeat(",?", len(types)-1) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += " ORDER BY trade_date ASC, created_at ASC"
	return s.queryTransactions(ctx, query, args...)
}

func (s *SQLiteStore) FindLatestOnOrBefore(ctx context.Context, securityID string, date models.Date) (*models.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE security_id = ? AND trade_date <= ?
		ORDER BY trade_date DESC, created_at DESC LIMIT 1`, securityID, date.String())
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) UpsertTransaction(ctx context.Context, t *models.Transaction) error {
	var details string
	if t.Details != nil {
		b, err := json.Marshal(t.Details)
		if err != nil {
			return fmt.Errorf("marshal calculation details: %w", err)
		}
		details = string(b)
	}
	var gain string
	if t.CapitalGain != nil {
		gain = t.CapitalGain.String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			security_id = excluded.security_id,
			account_id = excluded.account_id,
			type = excluded.type,
			trade_date = excluded.trade_date,
			settlement_date = excluded.settlement_date,
			created_at = excluded.created_at,
			quantity = excluded.quantity,
			price = excluded.price,
			fees = excluded.fees,
			fx_rate = excluded.fx_rate,
			ratio = excluded.ratio,
			roc_per_share = excluded.roc_per_share,
			new_security_acb_percent = excluded.new_security_acb_percent,
			cash_per_share = excluded.cash_per_share,
			new_security_id = excluded.new_security_id,
			shares_before = excluded.shares_before,
			shares_after = excluded.shares_after,
			acb_before = excluded.acb_before,
			acb_after = excluded.acb_after,
			capital_gain = excluded.capital_gain,
			flags = excluded.flags,
			notes = excluded.notes,
			details = excluded.details`,
		t.ID, t.SecurityID, t.AccountID, string(t.Type),
		t.TradeDate.String(), t.SettlementDate.String(),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.Quantity.String(), t.Price.String(), t.Fees.String(), t.FxRate.String(),
		decToCol(t.Ratio), decToCol(t.RocPerShare), decToCol(t.NewSecurityAcbPercent), decToCol(t.CashPerShare), t.NewSecurityID,
		t.SharesBefore.String(), t.SharesAfter.String(), t.AcbBefore.String(), t.AcbAfter.String(),
		gain, strings.Join(t.Flags, ";"), t.Notes, details)
	if err != nil {
		return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(r rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var typ, tradeDate, settlementDate, createdAt string
	var quantity, price, fees, fxRate string
	var ratio, rocPerShare, acbPercent, cashPerShare string
	var sharesBefore, sharesAfter, acbBefore, acbAfter string
	var gain, flags, details string

	err := r.Scan(&t.ID, &t.SecurityID, &t.AccountID, &typ, &tradeDate, &settlementDate, &createdAt,
		&quantity, &price, &fees, &fxRate,
		&ratio, &rocPerShare, &acbPercent, &cashPerShare, &t.NewSecurityID,
		&sharesBefore, &sharesAfter, &acbBefore, &acbAfter, &gain, &flags, &t.Notes, &details)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Type = models.TransactionType(typ)
	if t.TradeDate, err = models.ParseDate(tradeDate); err != nil {
		return nil, err
	}
	if t.SettlementDate, err = models.ParseDate(settlementDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}

	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity %q: %w", quantity, err)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if t.Fees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("parse fees %q: %w", fees, err)
	}
	if t.FxRate, err = decimal.NewFromString(fxRate); err != nil {
		return nil, fmt.Errorf("parse fx_rate %q: %w", fxRate, err)
	}
	t.Ratio = colToDec(ratio)
	t.RocPerShare = colToDec(rocPerShare)
	t.NewSecurityAcbPercent = colToDec(acbPercent)
	t.CashPerShare = colToDec(cashPerShare)
	t.SharesBefore = colToDec(sharesBefore)
	t.SharesAfter = colToDec(sharesAfter)
	t.AcbBefore = colToDec(acbBefore)
	t.AcbAfter = colToDec(acbAfter)

	if gain != "" {
		g, err := decimal.NewFromString(gain)
		if err != nil {
			return nil, fmt.Errorf("parse capital_gain %q: %w", gain, err)
		}
		t.CapitalGain = &g
	}
	if flags != "" {
		t.Flags = strings.Split(flags, ";")
	}
	if details != "" {
		var d models.CalculationDetails
		if err := json.Unmarshal([]byte(details), &d); err != nil {
			return nil, fmt.Errorf("unmarshal calculation details: %w", err)
		}
		t.Details = &d
	}
	return &t, nil
}

func decToCol(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func colToDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// --- positions ---

func (s *SQLiteStore) GetPosition(ctx context.Context, securityID, accountID string) (*models.Position, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT security_id, account_id, shares, total_acb, updated_at
		FROM positions WHERE security_id = ? AND account_id = ?`, securityID, accountID)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]*models.Position, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT security_id, account_id, shares, total_acb, updated_at
		FROM positions ORDER BY security_id, account_id`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(r rowScanner) (*models.Position, error) {
	var p models.Position
	var shares, acb, updatedAt string
	err := r.Scan(&p.SecurityID, &p.AccountID, &shares, &acb, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}
	p.Shares = colToDec(shares)
	p.TotalAcb = colToDec(acb)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

func (s *SQLiteStore) UpsertPosition(ctx context.Context, securityID, accountID string, shares, totalAcb decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO positions (security_id, account_id, shares, total_acb, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(security_id, account_id) DO UPDATE SET
			shares = excluded.shares,
			total_acb = excluded.total_acb,
			updated_at = excluded.updated_at`,
		securityID, accountID, shares.String(), totalAcb.String(),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert position (%s, %s): %w", securityID, accountID, err)
	}
	return nil
}

// --- fx rates ---

func (s *SQLiteStore) InsertFXRate(ctx context.Context, r models.FXRate) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO fx_rates (rate_date, from_currency, to_currency, rate, source)
		VALUES (?, ?, ?, ?, ?)`,
		r.Date.String(), r.From, r.To, r.Rate.String(), r.Source)
	if err != nil {
		return fmt.Errorf("insert fx rate %s/%s@%s: %w", r.From, r.To, r.Date, err)
	}
	return nil
}

func (s *SQLiteStore) FindFXRateOnOrBefore(ctx context.Context, date models.Date, from, to string, lookbackDays int) (*models.FXRate, error) {
	earliest := date.Add(-lookbackDays)
	row := s.q.QueryRowContext(ctx, `
		SELECT rate_date, from_currency, to_currency, rate, source
		FROM fx_rates
		WHERE from_currency = ? AND to_currency = ? AND rate_date <= ? AND rate_date >= ?
		ORDER BY rate_date DESC LIMIT 1`,
		from, to, date.String(), earliest.String())

	var r models.FXRate
	var rateDate, rate string
	err := row.Scan(&rateDate, &r.From, &r.To, &rate, &r.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fx rate: %w", err)
	}
	if r.Date, err = models.ParseDate(rateDate); err != nil {
		return nil, err
	}
	r.Rate = colToDec(rate)
	return &r, nil
}

var _ Store = (*SQLiteStore)(nil)
