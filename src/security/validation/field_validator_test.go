package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func validSecurityInput() *models.CreateSecurityInput {
	return &models.CreateSecurityInput{
		Symbol:   "xeqt",
		Name:     "iShares Core Equity ETF",
		Currency: "cad",
		Kind:     models.KindETF,
	}
}

func TestValidateSecurityInput(t *testing.T) {
	input := validSecurityInput()
	if err := ValidateSecurityInput(input); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if input.Symbol != "XEQT" {
		t.Errorf("symbol not upper-cased: %q", input.Symbol)
	}
	if input.Currency != "CAD" {
		t.Errorf("currency not normalized: %q", input.Currency)
	}

	testCases := []struct {
		name   string
		mutate func(*models.CreateSecurityInput)
	}{
		{"empty symbol", func(i *models.CreateSecurityInput) { i.Symbol = "  " }},
		{"symbol too long", func(i *models.CreateSecurityInput) { i.Symbol = strings.Repeat("A", 13) }},
		{"symbol with spaces", func(i *models.CreateSecurityInput) { i.Symbol = "BRK B" }},
		{"empty name", func(i *models.CreateSecurityInput) { i.Name = "" }},
		{"name too long", func(i *models.CreateSecurityInput) { i.Name = strings.Repeat("x", 256) }},
		{"bad currency length", func(i *models.CreateSecurityInput) { i.Currency = "CA" }},
		{"unknown currency", func(i *models.CreateSecurityInput) { i.Currency = "ZZZ" }},
		{"unknown kind", func(i *models.CreateSecurityInput) { i.Kind = "crypto" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := validSecurityInput()
			tc.mutate(input)
			err := ValidateSecurityInput(input)
			if !errors.Is(err, ErrValidationFailed) {
				t.Errorf("err = %v, want ErrValidationFailed", err)
			}
		})
	}
}

func TestValidateSecurityInputStripsHTML(t *testing.T) {
	input := validSecurityInput()
	input.Name = "<script>alert(1)</script>Vanguard"
	if err := ValidateSecurityInput(input); err != nil {
		t.Fatalf("ValidateSecurityInput: %v", err)
	}
	if input.Name != "Vanguard" {
		t.Errorf("name = %q, want HTML stripped", input.Name)
	}
}

func TestValidateAccountInput(t *testing.T) {
	input := &models.CreateAccountInput{Name: "  Margin  ", Registration: models.RegTFSA}
	if err := ValidateAccountInput(input); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if input.Name != "Margin" {
		t.Errorf("name not trimmed: %q", input.Name)
	}

	bad := &models.CreateAccountInput{Name: "Margin", Registration: "401k"}
	if err := ValidateAccountInput(bad); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("unknown registration accepted: %v", err)
	}
}

func validTransactionInput() *models.CreateTransactionInput {
	return &models.CreateTransactionInput{
		SecurityID: "sec-1",
		AccountID:  "acc-1",
		Type:       models.TypeBuy,
		TradeDate:  models.MustParseDate("2024-01-15"),
		Quantity:   d("100"),
		Price:      d("50"),
		Fees:       d("10"),
	}
}

func TestValidateTransactionInput(t *testing.T) {
	if err := ValidateTransactionInput(validTransactionInput()); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	negRate := d("-1.35")
	settleBefore := models.MustParseDate("2024-01-10")

	testCases := []struct {
		name   string
		mutate func(*models.CreateTransactionInput)
	}{
		{"missing security", func(i *models.CreateTransactionInput) { i.SecurityID = "" }},
		{"missing account", func(i *models.CreateTransactionInput) { i.AccountID = "" }},
		{"unknown type", func(i *models.CreateTransactionInput) { i.Type = "short" }},
		{"missing trade date", func(i *models.CreateTransactionInput) { i.TradeDate = models.Date{} }},
		{"settlement before trade", func(i *models.CreateTransactionInput) { i.SettlementDate = &settleBefore }},
		{"negative quantity", func(i *models.CreateTransactionInput) { i.Quantity = d("-1") }},
		{"negative price", func(i *models.CreateTransactionInput) { i.Price = d("-1") }},
		{"negative fees", func(i *models.CreateTransactionInput) { i.Fees = d("-1") }},
		{"non-positive fx rate", func(i *models.CreateTransactionInput) { i.FxRate = &negRate }},
		{"zero quantity buy", func(i *models.CreateTransactionInput) { i.Quantity = decimal.Zero }},
		{"notes too long", func(i *models.CreateTransactionInput) { i.Notes = strings.Repeat("n", 1025) }},
		{"roc without rate", func(i *models.CreateTransactionInput) {
			i.Type = models.TypeRoc
			i.RocPerShare = decimal.Zero
		}},
		{"split without ratio", func(i *models.CreateTransactionInput) {
			i.Type = models.TypeSplit
			i.Ratio = decimal.Zero
		}},
		{"merger negative ratio", func(i *models.CreateTransactionInput) {
			i.Type = models.TypeMerger
			i.Ratio = d("-2")
		}},
		{"spinoff percent above one", func(i *models.CreateTransactionInput) {
			i.Type = models.TypeSpinoff
			i.Quantity = decimal.Zero
			i.NewSecurityAcbPercent = d("1.5")
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := validTransactionInput()
			tc.mutate(input)
			err := ValidateTransactionInput(input)
			if !errors.Is(err, ErrValidationFailed) {
				t.Errorf("err = %v, want ErrValidationFailed", err)
			}
		})
	}
}

func TestValidateTransactionInputZeroQuantityCorporateActions(t *testing.T) {
	// Corporate actions apply to the whole position; quantity stays zero.
	for _, typ := range []models.TransactionType{models.TypeSplit, models.TypeConsolidation, models.TypeMerger} {
		input := validTransactionInput()
		input.Type = typ
		input.Quantity = decimal.Zero
		input.Ratio = d("2")
		if err := ValidateTransactionInput(input); err != nil {
			t.Errorf("%s with zero quantity rejected: %v", typ, err)
		}
	}
}

func TestSanitizeForFormulaInjection(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"=SUM(A1:A9)", "'=SUM(A1:A9)"},
		{"+1234", "'+1234"},
		{"-note", "'-note"},
		{"@cmd", "'@cmd"},
		{"plain text", "plain text"},
		{"", ""},
	}
	for _, tc := range testCases {
		if got := SanitizeForFormulaInjection(tc.in); got != tc.want {
			t.Errorf("SanitizeForFormulaInjection(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFreeText(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"html stripped", "<b>bold</b> move", "bold move"},
		{"script stripped", "<script>x</script>ok", "ok"},
		{"control chars dropped", "a\x00b\x1fc", "abc"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{"newlines kept", "line1\nline2", "line1\nline2"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeFreeText(tc.in); got != tc.want {
				t.Errorf("SanitizeFreeText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
