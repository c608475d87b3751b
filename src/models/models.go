// Package models holds the domain records of the ACB ledger: securities,
// accounts, the transaction rows that form each (security, account) series,
// derived positions, and FX rate observations.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tags the eleven supported ledger events.
type TransactionType string

const (
	TypeBuy           TransactionType = "buy"
	TypeSell          TransactionType = "sell"
	TypeDividend      TransactionType = "dividend"
	TypeDrip          TransactionType = "drip"
	TypeRoc           TransactionType = "roc"
	TypeSplit         TransactionType = "split"
	TypeConsolidation TransactionType = "consolidation"
	TypeMerger        TransactionType = "merger"
	TypeSpinoff       TransactionType = "spinoff"
	TypeTransferIn    TransactionType = "transfer_in"
	TypeTransferOut   TransactionType = "transfer_out"
)

var allTransactionTypes = map[TransactionType]bool{
	TypeBuy: true, TypeSell: true, TypeDividend: true, TypeDrip: true,
	TypeRoc: true, TypeSplit: true, TypeConsolidation: true, TypeMerger: true,
	TypeSpinoff: true, TypeTransferIn: true, TypeTransferOut: true,
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool { return allTransactionTypes[t] }

// IsAcquisition reports whether t acquires shares for the purposes of the
// superficial-loss window test. Transfers do not count.
func (t TransactionType) IsAcquisition() bool { return t == TypeBuy || t == TypeDrip }

// IsDisposition reports whether t reduces the share count.
func (t TransactionType) IsDisposition() bool { return t == TypeSell || t == TypeTransferOut }

// SecurityKind classifies a security.
type SecurityKind string

const (
	KindStock      SecurityKind = "stock"
	KindETF        SecurityKind = "etf"
	KindBond       SecurityKind = "bond"
	KindMutualFund SecurityKind = "mutual-fund"
)

// Valid reports whether k is a known security kind.
func (k SecurityKind) Valid() bool {
	switch k {
	case KindStock, KindETF, KindBond, KindMutualFund:
		return true
	}
	return false
}

// RegistrationKind is the tax registration of an account.
type RegistrationKind string

const (
	RegNonRegistered RegistrationKind = "non-registered"
	RegTFSA          RegistrationKind = "TFSA"
	RegRRSP          RegistrationKind = "RRSP"
	RegRESP          RegistrationKind = "RESP"
	RegLIRA          RegistrationKind = "LIRA"
	RegRRIF          RegistrationKind = "RRIF"
)

// Valid reports whether k is a known registration kind.
func (k RegistrationKind) Valid() bool {
	switch k {
	case RegNonRegistered, RegTFSA, RegRRSP, RegRESP, RegLIRA, RegRRIF:
		return true
	}
	return false
}

// IsRegistered is true for every kind except non-registered. Registered
// accounts exempt sells from capital-gain reporting and from superficial-loss
// denial.
func (k RegistrationKind) IsRegistered() bool { return k != RegNonRegistered }

// Security identifies a tradeable instrument. Immutable once referenced by a
// transaction.
type Security struct {
	ID        string       `json:"id"`
	Symbol    string       `json:"symbol"`
	Name      string       `json:"name"`
	Currency  string       `json:"currency"`
	Kind      SecurityKind `json:"kind"`
	Exchange  string       `json:"exchange,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Account is a brokerage account holding securities.
type Account struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Registration RegistrationKind `json:"registration"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// FlagSuperficialLoss marks a sell whose capital loss was denied under the
// CRA superficial-loss rule, and each repurchase whose ACB absorbed part of
// the denied amount.
const FlagSuperficialLoss = "superficial_loss"

// Transaction is one ledger row. Quantity is stored non-negative; the sign is
// implied by the type. SharesBefore/AcbBefore must equal the SharesAfter/
// AcbAfter of the immediately prior transaction of the same series.
type Transaction struct {
	ID         string          `json:"id"`
	SecurityID string          `json:"securityId"`
	AccountID  string          `json:"accountId"`
	Type       TransactionType `json:"type"`

	TradeDate      Date `json:"tradeDate"`
	SettlementDate Date `json:"settlementDate"`
	// CreatedAt breaks ties between transactions sharing a trade date; it has
	// no other meaning in the ledger.
	CreatedAt time.Time `json:"createdAt"`

	Quantity decimal.Decimal `json:"quantity"`
	// Price is per share, in the security's denominating currency.
	Price decimal.Decimal `json:"price"`
	// Fees are in CAD.
	Fees decimal.Decimal `json:"fees"`
	// FxRate is CAD per unit of the security's currency; 1 for CAD securities.
	FxRate decimal.Decimal `json:"fxRate"`

	// Corporate-action parameters; zero when not applicable.
	Ratio                 decimal.Decimal `json:"ratio,omitempty"`
	RocPerShare           decimal.Decimal `json:"rocPerShare,omitempty"`
	NewSecurityAcbPercent decimal.Decimal `json:"newSecurityAcbPercent,omitempty"`
	CashPerShare          decimal.Decimal `json:"cashPerShare,omitempty"`
	NewSecurityID         string          `json:"newSecurityId,omitempty"`

	SharesBefore decimal.Decimal `json:"sharesBefore"`
	SharesAfter  decimal.Decimal `json:"sharesAfter"`
	AcbBefore    decimal.Decimal `json:"acbBefore"`
	AcbAfter     decimal.Decimal `json:"acbAfter"`

	// CapitalGain is set only on sells in non-registered accounts, on RoC
	// distributions exceeding ACB, and on mergers with cash consideration.
	// CAD, signed.
	CapitalGain *decimal.Decimal `json:"capitalGain,omitempty"`

	Flags []string            `json:"flags,omitempty"`
	Notes string              `json:"notes,omitempty"`
	Details *CalculationDetails `json:"calculationDetails,omitempty"`
}

// HasFlag reports whether the transaction carries the given flag.
func (t *Transaction) HasFlag(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SetFlag adds a flag if not already present.
func (t *Transaction) SetFlag(flag string) {
	if !t.HasFlag(flag) {
		t.Flags = append(t.Flags, flag)
	}
}

// ClearFlag removes a flag if present.
func (t *Transaction) ClearFlag(flag string) {
	out := t.Flags[:0]
	for _, f := range t.Flags {
		if f != flag {
			out = append(out, f)
		}
	}
	t.Flags = out
}

// Position caches the terminal (shares, totalAcb) of one (security, account)
// series. Created on first transaction, never deleted.
type Position struct {
	SecurityID string          `json:"securityId"`
	AccountID  string          `json:"accountId"`
	Shares     decimal.Decimal `json:"shares"`
	TotalAcb   decimal.Decimal `json:"totalAcb"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// FXRate is one observed exchange rate: CAD per unit of From when To is CAD.
type FXRate struct {
	Date   Date            `json:"date"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source,omitempty"`
}
