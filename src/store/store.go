// Package store defines the persistence contract used by the ledger core and
// its SQLite implementation. The core depends only on this interface; the
// query vocabulary of the underlying database never leaks past it.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/models"
)

// ErrNotFound is returned by Get* methods when the entity does not exist.
var ErrNotFound = errors.New("not found")

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	SecurityID string
	AccountID  string
}

// Store is the persistence contract. Find* methods that return a single row
// yield (nil, nil) when no row matches; Get* methods return ErrNotFound.
//
// Series queries order by (trade_date asc, created_at asc), the replay
// order. ListTransactions orders descending for presentation.
type Store interface {
	CreateSecurity(ctx context.Context, s *models.Security) error
	GetSecurity(ctx context.Context, id string) (*models.Security, error)
	ListSecurities(ctx context.Context) ([]*models.Security, error)

	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error)
	FindSeries(ctx context.Context, securityID, accountID string) ([]*models.Transaction, error)
	FindSeriesFrom(ctx context.Context, securityID, accountID string, from models.Date) ([]*models.Transaction, error)
	FindPrevBefore(ctx context.Context, securityID, accountID string, date models.Date) (*models.Transaction, error)
	FindAnyAfter(ctx context.Context, securityID, accountID string, date models.Date) (*models.Transaction, error)
	FindInWindow(ctx context.Context, securityID string, start, end models.Date, types []models.TransactionType) ([]*models.Transaction, error)
	FindLatestOnOrBefore(ctx context.Context, securityID string, date models.Date) (*models.Transaction, error)
	UpsertTransaction(ctx context.Context, t *models.Transaction) error
	DeleteTransaction(ctx context.Context, id string) (*models.Transaction, error)

	GetPosition(ctx context.Context, securityID, accountID string) (*models.Position, error)
	ListPositions(ctx context.Context) ([]*models.Position, error)
	UpsertPosition(ctx context.Context, securityID, accountID string, shares, totalAcb decimal.Decimal) error

	// InsertFXRate is insert-or-ignore on (date, from, to).
	InsertFXRate(ctx context.Context, r models.FXRate) error
	// FindFXRateOnOrBefore walks back at most lookbackDays calendar days.
	FindFXRateOnOrBefore(ctx context.Context, date models.Date, from, to string, lookbackDays int) (*models.FXRate, error)

	// RunInTx executes fn against a transaction-bound Store. All writes made
	// by fn commit atomically, or none do. Calling RunInTx on a store that is
	// already transaction-bound runs fn in the same transaction.
	RunInTx(ctx context.Context, fn func(Store) error) error
}
