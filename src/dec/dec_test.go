package dec

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfUp(t *testing.T) {
	testCases := []struct {
		name  string
		in    string
		scale int32
		want  string
	}{
		{"no change needed", "1.25", 2, "1.25"},
		{"tie rounds up", "2.5", 0, "3"},
		{"negative tie rounds toward positive", "-2.5", 0, "-2"},
		{"money tie", "10.005", 2, "10.01"},
		{"negative money tie", "-10.005", 2, "-10"},
		{"below tie rounds down", "10.004", 2, "10"},
		{"above tie rounds up", "10.006", 2, "10.01"},
		{"zero", "0", 2, "0"},
		{"six decimal shares", "33.3333335", 6, "33.333334"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundHalfUp(MustFromString(tc.in), tc.scale)
			if got.String() != tc.want {
				t.Errorf("RoundHalfUp(%s, %d) = %s, want %s", tc.in, tc.scale, got, tc.want)
			}
		})
	}
}

func TestRoundMoney(t *testing.T) {
	got := RoundMoney(MustFromString("6749.999"))
	if got.String() != "6750" {
		t.Errorf("RoundMoney = %s, want 6750", got)
	}
}

func TestRoundFX(t *testing.T) {
	got := RoundFX(MustFromString("1.3500004"))
	if got.String() != "1.35" {
		t.Errorf("RoundFX = %s, want 1.35", got)
	}
	got = RoundFX(MustFromString("1.3500005"))
	if got.String() != "1.350001" {
		t.Errorf("RoundFX = %s, want 1.350001", got)
	}
}

func TestSafeDivide(t *testing.T) {
	if got := SafeDivide(MustFromString("10"), MustFromString("4")); got.String() != "2.5" {
		t.Errorf("SafeDivide(10, 4) = %s, want 2.5", got)
	}
	if got := SafeDivide(MustFromString("10"), decimal.Zero); !got.IsZero() {
		t.Errorf("SafeDivide(10, 0) = %s, want 0", got)
	}
}

func TestMinMax(t *testing.T) {
	a, b := MustFromString("1.5"), MustFromString("2")
	if got := Min(a, b); !got.Equal(a) {
		t.Errorf("Min = %s, want %s", got, a)
	}
	if got := Max(a, b); !got.Equal(b) {
		t.Errorf("Max = %s, want %s", got, b)
	}
	if got := Min(a, a); !got.Equal(a) {
		t.Errorf("Min of equals = %s, want %s", got, a)
	}
}

func TestFromFloatExact(t *testing.T) {
	got, err := FromFloatExact(50.25)
	if err != nil {
		t.Fatalf("FromFloatExact(50.25) error: %v", err)
	}
	if got.String() != "50.25" {
		t.Errorf("FromFloatExact(50.25) = %s", got)
	}

	if _, err := FromFloatExact(0.1234567890123456); !errors.Is(err, ErrPrecisionLoss) {
		t.Errorf("want ErrPrecisionLoss, got %v", err)
	}
}

func TestMoneyString(t *testing.T) {
	if got := MoneyString(MustFromString("980")); got != "980.00" {
		t.Errorf("MoneyString(980) = %q, want 980.00", got)
	}
	if got := MoneyString(MustFromString("-0.005")); got != "0.00" {
		t.Errorf("MoneyString(-0.005) = %q, want 0.00", got)
	}
}

func TestSharesString(t *testing.T) {
	if got := SharesString(MustFromString("100.000000")); got != "100" {
		t.Errorf("SharesString(100.000000) = %q, want 100", got)
	}
	if got := SharesString(MustFromString("0.123456789")); got != "0.123457" {
		t.Errorf("SharesString = %q, want 0.123457", got)
	}
}
