package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/models"
)

// ErrValidationFailed classifies every rejection from this package. Handlers
// map it to a 400 response.
var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	MaxNameLength     = 255
	MaxSymbolLength   = 12
	MaxNotesLength    = 1024
	CurrencyCodeLength = 3
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateCurrencyCode checks the string against the ISO-4217 registry.
func ValidateCurrencyCode(code, fieldName string) error {
	if len(code) != CurrencyCodeLength {
		return fmt.Errorf("%w: %s must be a 3-letter currency code", ErrValidationFailed, fieldName)
	}
	if money.GetCurrency(strings.ToUpper(code)) == nil {
		return fmt.Errorf("%w: %s ('%s') is not a known ISO-4217 currency", ErrValidationFailed, fieldName, code)
	}
	return nil
}

// ValidateNonNegative rejects negative decimal inputs.
func ValidateNonNegative(d decimal.Decimal, fieldName string) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s cannot be negative", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidatePositive rejects zero or negative decimal inputs.
func ValidatePositive(d decimal.Decimal, fieldName string) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateSecurityInput checks and sanitizes a create-security request.
func ValidateSecurityInput(input *models.CreateSecurityInput) error {
	input.Symbol = strings.ToUpper(SanitizeFreeText(input.Symbol))
	input.Name = SanitizeFreeText(input.Name)
	input.Exchange = SanitizeFreeText(input.Exchange)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))

	if err := ValidateStringNotEmpty(input.Symbol, "symbol"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(input.Symbol, MaxSymbolLength, "symbol"); err != nil {
		return err
	}
	if !symbolPattern.MatchString(input.Symbol) {
		return fmt.Errorf("%w: symbol may contain only letters, digits, dots, and dashes", ErrValidationFailed)
	}
	if err := ValidateStringNotEmpty(input.Name, "name"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(input.Name, MaxNameLength, "name"); err != nil {
		return err
	}
	if err := ValidateCurrencyCode(input.Currency, "currency"); err != nil {
		return err
	}
	if !input.Kind.Valid() {
		return fmt.Errorf("%w: unknown security kind '%s'", ErrValidationFailed, input.Kind)
	}
	return nil
}

// ValidateAccountInput checks and sanitizes a create-account request.
func ValidateAccountInput(input *models.CreateAccountInput) error {
	input.Name = SanitizeFreeText(input.Name)

	if err := ValidateStringNotEmpty(input.Name, "name"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(input.Name, MaxNameLength, "name"); err != nil {
		return err
	}
	if !input.Registration.Valid() {
		return fmt.Errorf("%w: unknown registration kind '%s'", ErrValidationFailed, input.Registration)
	}
	return nil
}

// ValidateTransactionInput checks and sanitizes a create-transaction request.
// Per-type arithmetic constraints (sell feasibility, ratio bounds) belong to
// the ledger algebra; this layer rejects only what is malformed on its face.
func ValidateTransactionInput(input *models.CreateTransactionInput) error {
	input.Notes = SanitizeFreeText(input.Notes)

	if err := ValidateStringNotEmpty(input.SecurityID, "securityId"); err != nil {
		return err
	}
	if err := ValidateStringNotEmpty(input.AccountID, "accountId"); err != nil {
		return err
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type '%s'", ErrValidationFailed, input.Type)
	}
	if input.TradeDate.IsZero() {
		return fmt.Errorf("%w: tradeDate is required", ErrValidationFailed)
	}
	if input.SettlementDate != nil && input.SettlementDate.Before(input.TradeDate) {
		return fmt.Errorf("%w: settlementDate cannot precede tradeDate", ErrValidationFailed)
	}
	if err := ValidateNonNegative(input.Quantity, "quantity"); err != nil {
		return err
	}
	if err := ValidateNonNegative(input.Price, "price"); err != nil {
		return err
	}
	if err := ValidateNonNegative(input.Fees, "fees"); err != nil {
		return err
	}
	if input.FxRate != nil {
		if err := ValidatePositive(*input.FxRate, "fxRate"); err != nil {
			return err
		}
	}
	if err := ValidateStringMaxLength(input.Notes, MaxNotesLength, "notes"); err != nil {
		return err
	}

	switch input.Type {
	case models.TypeBuy, models.TypeSell, models.TypeDrip, models.TypeTransferIn, models.TypeTransferOut:
		if err := ValidatePositive(input.Quantity, "quantity"); err != nil {
			return err
		}
	case models.TypeRoc:
		if err := ValidatePositive(input.RocPerShare, "rocPerShare"); err != nil {
			return err
		}
	case models.TypeSplit, models.TypeConsolidation, models.TypeMerger:
		if err := ValidatePositive(input.Ratio, "ratio"); err != nil {
			return err
		}
	case models.TypeSpinoff:
		if input.NewSecurityAcbPercent.IsNegative() || input.NewSecurityAcbPercent.GreaterThan(decimal.New(1, 0)) {
			return fmt.Errorf("%w: newSecurityAcbPercent must be within [0, 1]", ErrValidationFailed)
		}
	}
	return nil
}
