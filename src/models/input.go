package models

import "github.com/shopspring/decimal"

// CreateSecurityInput is the request body for creating a security.
type CreateSecurityInput struct {
	Symbol   string       `json:"symbol"`
	Name     string       `json:"name"`
	Currency string       `json:"currency"`
	Kind     SecurityKind `json:"kind"`
	Exchange string       `json:"exchange,omitempty"`
}

// CreateAccountInput is the request body for creating an account.
type CreateAccountInput struct {
	Name         string           `json:"name"`
	Registration RegistrationKind `json:"registration"`
}

// CreateTransactionInput is the request body for creating a transaction.
// Decimal fields accept JSON numbers or numeric strings. FxRate is optional:
// when absent the FX oracle resolves it from the settlement date.
type CreateTransactionInput struct {
	SecurityID string          `json:"securityId"`
	AccountID  string          `json:"accountId"`
	Type       TransactionType `json:"type"`

	TradeDate      Date  `json:"tradeDate"`
	SettlementDate *Date `json:"settlementDate,omitempty"`

	Quantity decimal.Decimal  `json:"quantity"`
	Price    decimal.Decimal  `json:"price"`
	Fees     decimal.Decimal  `json:"fees"`
	FxRate   *decimal.Decimal `json:"fxRate,omitempty"`

	Ratio                 decimal.Decimal `json:"ratio,omitempty"`
	RocPerShare           decimal.Decimal `json:"rocPerShare,omitempty"`
	NewSecurityAcbPercent decimal.Decimal `json:"newSecurityAcbPercent,omitempty"`
	CashPerShare          decimal.Decimal `json:"cashPerShare,omitempty"`
	NewSecurityID         string          `json:"newSecurityId,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// UpdateTransactionInput is the request body for updating a transaction. Nil
// fields keep the stored value; the update is executed as delete-then-create
// so the affected suffix of the series is re-derived.
type UpdateTransactionInput struct {
	Type *TransactionType `json:"type,omitempty"`

	TradeDate      *Date `json:"tradeDate,omitempty"`
	SettlementDate *Date `json:"settlementDate,omitempty"`

	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Fees     *decimal.Decimal `json:"fees,omitempty"`
	FxRate   *decimal.Decimal `json:"fxRate,omitempty"`

	Ratio                 *decimal.Decimal `json:"ratio,omitempty"`
	RocPerShare           *decimal.Decimal `json:"rocPerShare,omitempty"`
	NewSecurityAcbPercent *decimal.Decimal `json:"newSecurityAcbPercent,omitempty"`
	CashPerShare          *decimal.Decimal `json:"cashPerShare,omitempty"`
	NewSecurityID         *string          `json:"newSecurityId,omitempty"`

	Notes *string `json:"notes,omitempty"`
}
