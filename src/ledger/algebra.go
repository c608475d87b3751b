package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/models"
)

// State is the running (shares, totalAcb) of one (security, account) series.
// Both values are stored rounded: shares at scale 6, ACB at scale 2.
type State struct {
	Shares decimal.Decimal
	Acb    decimal.Decimal
}

// Result is the outcome of applying one event to a State.
type Result struct {
	After State
	// CapitalGain is nil when the event realizes no gain or loss.
	CapitalGain *decimal.Decimal
	Details     *models.CalculationDetails
}

// Apply runs the per-type ACB algebra on an immutable input state. It is a
// pure function: no I/O, no store access, no mutation of tx. All monetary
// inputs are converted to CAD at tx.FxRate before entering the arithmetic;
// intermediate values stay unrounded, and rounding happens only on the values
// placed into the Result.
func Apply(before State, tx *models.Transaction) (Result, error) {
	switch tx.Type {
	case models.TypeBuy:
		return applyBuy(before, tx)
	case models.TypeSell:
		return applySell(before, tx)
	case models.TypeDividend:
		return applyDividend(before, tx)
	case models.TypeDrip:
		return applyDrip(before, tx)
	case models.TypeRoc:
		return applyRoc(before, tx)
	case models.TypeSplit, models.TypeConsolidation:
		return applyRatioChange(before, tx)
	case models.TypeMerger:
		return applyMerger(before, tx)
	case models.TypeSpinoff:
		return applySpinoff(before, tx)
	case models.TypeTransferIn:
		return applyTransferIn(before, tx)
	case models.TypeTransferOut:
		return applyTransferOut(before, tx)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedType, tx.Type)
	}
}

func newDetails(t models.TransactionType) *models.CalculationDetails {
	return &models.CalculationDetails{Type: t}
}

func applyBuy(before State, tx *models.Transaction) (Result, error) {
	d := newDetails(tx.Type)

	costCad := tx.Price.Mul(tx.Quantity).Mul(tx.FxRate)
	d.AddStep("Convert purchase cost to CAD", "price * quantity * fxRate", map[string]string{
		"price":    tx.Price.String(),
		"quantity": dec.SharesString(tx.Quantity),
		"fxRate":   tx.FxRate.String(),
	}, dec.MoneyString(costCad))

	totalCost := costCad.Add(tx.Fees)
	d.AddStep("Add fees to arrive at total cost", "costCad + fees", map[string]string{
		"costCad": dec.MoneyString(costCad),
		"fees":    dec.MoneyString(tx.Fees),
	}, dec.MoneyString(totalCost))

	after := State{
		Shares: dec.RoundShares(before.Shares.Add(tx.Quantity)),
		Acb:    dec.RoundMoney(before.Acb.Add(totalCost)),
	}
	d.AddStep("New ACB", "acbBefore + totalCost", map[string]string{
		"acbBefore": dec.MoneyString(before.Acb),
		"totalCost": dec.MoneyString(totalCost),
	}, dec.MoneyString(after.Acb))

	d.Summary = fmt.Sprintf("Bought %s shares for %s CAD; ACB is now %s.",
		dec.SharesString(tx.Quantity), dec.MoneyString(totalCost), dec.MoneyString(after.Acb))
	return Result{After: after, Details: d}, nil
}

func applySell(before State, tx *models.Transaction) (Result, error) {
	if tx.Quantity.GreaterThan(before.Shares) {
		return Result{}, fmt.Errorf("%w: selling %s of %s held",
			ErrInsufficientShares, dec.SharesString(tx.Quantity), dec.SharesString(before.Shares))
	}
	d := newDetails(tx.Type)

	acbPerShare := dec.SafeDivide(before.Acb, before.Shares)
	d.AddStep("ACB per share", "acbBefore / sharesBefore", map[string]string{
		"acbBefore":    dec.MoneyString(before.Acb),
		"sharesBefore": dec.SharesString(before.Shares),
	}, acbPerShare.StringFixed(dec.ScalePerShareDisplay))

	acbDisposed := acbPerShare.Mul(tx.Quantity)
	d.AddStep("ACB of shares disposed", "acbPerShare * quantity", map[string]string{
		"acbPerShare": acbPerShare.StringFixed(dec.ScalePerShareDisplay),
		"quantity":    dec.SharesString(tx.Quantity),
	}, dec.MoneyString(acbDisposed))

	proceeds := tx.Price.Mul(tx.Quantity).Mul(tx.FxRate)
	netProceeds := proceeds.Sub(tx.Fees)
	d.AddStep("Net proceeds in CAD", "price * quantity * fxRate - fees", map[string]string{
		"price":    tx.Price.String(),
		"quantity": dec.SharesString(tx.Quantity),
		"fxRate":   tx.FxRate.String(),
		"fees":     dec.MoneyString(tx.Fees),
	}, dec.MoneyString(netProceeds))

	gain := dec.RoundMoney(netProceeds.Sub(acbDisposed))
	d.AddStep("Capital gain or loss", "netProceeds - acbDisposed", map[string]string{
		"netProceeds": dec.MoneyString(netProceeds),
		"acbDisposed": dec.MoneyString(acbDisposed),
	}, dec.MoneyString(gain))

	after := State{
		Shares: dec.RoundShares(before.Shares.Sub(tx.Quantity)),
		Acb:    dec.RoundMoney(before.Acb.Sub(acbDisposed)),
	}
	verb := "gain"
	if gain.IsNegative() {
		verb = "loss"
	}
	d.Summary = fmt.Sprintf("Sold %s shares for a capital %s of %s CAD.",
		dec.SharesString(tx.Quantity), verb, dec.MoneyString(gain.Abs()))
	return Result{After: after, CapitalGain: &gain, Details: d}, nil
}

func applyDividend(before State, tx *models.Transaction) (Result, error) {
	d := newDetails(tx.Type)
	total := tx.Price.Mul(before.Shares).Mul(tx.FxRate)
	d.AddStep("Cash dividend received", "ratePerShare * sharesHeld * fxRate", map[string]string{
		"ratePerShare": tx.Price.String(),
		"sharesHeld":   dec.SharesString(before.Shares),
		"fxRate":       tx.FxRate.String(),
	}, dec.MoneyString(total))
	d.Summary = fmt.Sprintf("Cash dividend of %s CAD; shares and ACB unchanged.", dec.MoneyString(total))
	return Result{After: before, Details: d}, nil
}

func applyDrip(before State, tx *models.Transaction) (Result, error) {
	d := newDetails(tx.Type)

	reinvested := tx.Price.Mul(before.Shares).Mul(tx.FxRate)
	d.AddStep("Dividend reinvested in CAD", "ratePerShare * sharesHeld * fxRate", map[string]string{
		"ratePerShare": tx.Price.String(),
		"sharesHeld":   dec.SharesString(before.Shares),
		"fxRate":       tx.FxRate.String(),
	}, dec.MoneyString(reinvested))

	totalCost := reinvested.Add(tx.Fees)
	d.AddStep("Total cost of reinvestment", "reinvested + residualCash", map[string]string{
		"reinvested":   dec.MoneyString(reinvested),
		"residualCash": dec.MoneyString(tx.Fees),
	}, dec.MoneyString(totalCost))

	after := State{
		Shares: dec.RoundShares(before.Shares.Add(tx.Quantity)),
		Acb:    dec.RoundMoney(before.Acb.Add(totalCost)),
	}
	d.AddStep("New ACB", "acbBefore + totalCost", map[string]string{
		"acbBefore": dec.MoneyString(before.Acb),
		"totalCost": dec.MoneyString(totalCost),
	}, dec.MoneyString(after.Acb))

	d.Summary = fmt.Sprintf("DRIP acquired %s shares for %s CAD.",
		dec.SharesString(tx.Quantity), dec.MoneyString(totalCost))
	return Result{After: after, Details: d}, nil
}

func applyRoc(before State, tx *models.Transaction) (Result, error) {
	d := newDetails(tx.Type)

	rocTotal := tx.RocPerShare.Mul(before.Shares).Mul(tx.FxRate)
	d.AddStep("Return of capital in CAD", "rocPerShare * sharesHeld * fxRate", map[string]string{
		"rocPerShare": tx.RocPerShare.String(),
		"sharesHeld":  dec.SharesString(before.Shares),
		"fxRate":      tx.FxRate.String(),
	}, dec.MoneyString(rocTotal))

	after := State{Shares: before.Shares}
	var gain *decimal.Decimal
	if rocTotal.GreaterThan(before.Acb) {
		excess := dec.RoundMoney(rocTotal.Sub(before.Acb))
		d.AddStep("RoC exceeds ACB; excess is an immediate capital gain",
			"rocTotal - acbBefore", map[string]string{
				"rocTotal":  dec.MoneyString(rocTotal),
				"acbBefore": dec.MoneyString(before.Acb),
			}, dec.MoneyString(excess))
		after.Acb = decimal.Zero
		gain = &excess
		d.Summary = fmt.Sprintf("Return of capital of %s CAD exceeded ACB; ACB reduced to 0.00 and %s CAD realized as gain.",
			dec.MoneyString(rocTotal), dec.MoneyString(excess))
	} else {
		after.Acb = dec.RoundMoney(before.Acb.Sub(rocTotal))
		d.AddStep("Reduce ACB by return of capital", "acbBefore - rocTotal", map[string]string{
			"acbBefore": dec.MoneyString(before.Acb),
			"rocTotal":  dec.MoneyString(rocTotal),
		}, dec.MoneyString(after.Acb))
		d.Summary = fmt.Sprintf("Return of capital of %s CAD reduced ACB to %s.",
			dec.MoneyString(rocTotal), dec.MoneyString(after.Acb))
	}
	return Result{After: after, CapitalGain: gain, Details: d}, nil
}

func applyRatioChange(before State, tx *models.Transaction) (Result, error) {
	if !tx.Ratio.IsPositive() {
		return Result{}, fmt.Errorf("%w: ratio %s must be positive", ErrInvalidRatio, tx.Ratio)
	}
	if tx.Type == models.TypeSplit && !tx.Ratio.GreaterThan(decimal.New(1, 0)) {
		return Result{}, fmt.Errorf("%w: split ratio %s must exceed 1", ErrInvalidRatio, tx.Ratio)
	}
	if tx.Type == models.TypeConsolidation && !tx.Ratio.LessThan(decimal.New(1, 0)) {
		return Result{}, fmt.Errorf("%w: consolidation ratio %s must be below 1", ErrInvalidRatio, tx.Ratio)
	}
	d := newDetails(tx.Type)

	after := State{
		Shares: dec.RoundShares(before.Shares.Mul(tx.Ratio)),
		Acb:    before.Acb,
	}
	d.AddStep("Adjust share count by ratio", "sharesBefore * ratio", map[string]string{
		"sharesBefore": dec.SharesString(before.Shares),
		"ratio":        tx.Ratio.String(),
	}, dec.SharesString(after.Shares))
	d.AddStep("Total ACB unchanged", "", nil, dec.MoneyString(after.Acb))

	word := "Split"
	if tx.Type == models.TypeConsolidation {
		word = "Consolidation"
	}
	d.Summary = fmt.Sprintf("%s at ratio %s; now %s shares, ACB unchanged at %s CAD.",
		word, tx.Ratio.String(), dec.SharesString(after.Shares), dec.MoneyString(after.Acb))
	return Result{After: after, Details: d}, nil
}

func applyMerger(before State, tx *models.Transaction) (Result, error) {
	if !tx.Ratio.IsPositive() {
		return Result{}, fmt.Errorf("%w: merger ratio %s must be positive", ErrInvalidRatio, tx.Ratio)
	}
	d := newDetails(tx.Type)

	newShares := before.Shares.Mul(tx.Ratio)
	d.AddStep("Shares in successor", "sharesBefore * ratio", map[string]string{
		"sharesBefore": dec.SharesString(before.Shares),
		"ratio":        tx.Ratio.String(),
	}, dec.SharesString(newShares))

	after := State{Shares: dec.RoundShares(newShares)}
	var gain *decimal.Decimal

	if tx.CashPerShare.IsZero() {
		after.Acb = before.Acb
		d.AddStep("All-stock merger; ACB carries over", "", nil, dec.MoneyString(after.Acb))
		d.Summary = fmt.Sprintf("Merger at ratio %s; ACB carried over at %s CAD.",
			tx.Ratio.String(), dec.MoneyString(after.Acb))
		return Result{After: after, Details: d}, nil
	}

	cashTotal := tx.CashPerShare.Mul(before.Shares).Mul(tx.FxRate)
	d.AddStep("Cash consideration in CAD", "cashPerShare * sharesBefore * fxRate", map[string]string{
		"cashPerShare": tx.CashPerShare.String(),
		"sharesBefore": dec.SharesString(before.Shares),
		"fxRate":       tx.FxRate.String(),
	}, dec.MoneyString(cashTotal))

	stockValue := newShares.Mul(tx.Price).Mul(tx.FxRate)
	cashProp := dec.SafeDivide(cashTotal, cashTotal.Add(stockValue))
	d.AddStep("Cash proportion of total consideration", "cashTotal / (cashTotal + newShares * price * fxRate)",
		map[string]string{
			"cashTotal":  dec.MoneyString(cashTotal),
			"stockValue": dec.MoneyString(stockValue),
		}, cashProp.StringFixed(dec.ScaleFX))

	acbToCash := before.Acb.Mul(cashProp)
	g := dec.RoundMoney(cashTotal.Sub(acbToCash))
	d.AddStep("Gain on the cash portion", "cashTotal - acbBefore * cashProp", map[string]string{
		"cashTotal": dec.MoneyString(cashTotal),
		"acbToCash": dec.MoneyString(acbToCash),
	}, dec.MoneyString(g))

	after.Acb = dec.RoundMoney(before.Acb.Sub(acbToCash))
	d.AddStep("ACB of successor shares", "acbBefore - acbBefore * cashProp", map[string]string{
		"acbBefore": dec.MoneyString(before.Acb),
		"acbToCash": dec.MoneyString(acbToCash),
	}, dec.MoneyString(after.Acb))

	gain = &g
	d.Summary = fmt.Sprintf("Merger with %s CAD cash consideration; gain %s CAD, remaining ACB %s CAD.",
		dec.MoneyString(cashTotal), dec.MoneyString(g), dec.MoneyString(after.Acb))
	return Result{After: after, CapitalGain: gain, Details: d}, nil
}

func applySpinoff(before State, tx *models.Transaction) (Result, error) {
	pct := tx.NewSecurityAcbPercent
	if pct.IsNegative() || pct.GreaterThan(decimal.New(1, 0)) {
		return Result{}, fmt.Errorf("%w: spinoff ACB percent %s must be within [0, 1]", ErrInvalidRatio, pct)
	}
	d := newDetails(tx.Type)

	allocated := before.Acb.Mul(pct)
	d.AddStep("ACB allocated to the spun-off security", "acbBefore * newSecurityAcbPercent",
		map[string]string{
			"acbBefore":             dec.MoneyString(before.Acb),
			"newSecurityAcbPercent": pct.String(),
		}, dec.MoneyString(allocated))

	after := State{
		Shares: before.Shares,
		Acb:    dec.RoundMoney(before.Acb.Sub(allocated)),
	}
	d.AddStep("Remaining ACB of the parent", "acbBefore - allocated", map[string]string{
		"acbBefore": dec.MoneyString(before.Acb),
		"allocated": dec.MoneyString(allocated),
	}, dec.MoneyString(after.Acb))

	d.Summary = fmt.Sprintf("Spinoff carved out %s CAD of ACB; parent retains %s CAD.",
		dec.MoneyString(allocated), dec.MoneyString(after.Acb))
	return Result{After: after, Details: d}, nil
}

func applyTransferIn(before State, tx *models.Transaction) (Result, error) {
	d := newDetails(tx.Type)

	// Price is the per-share CAD ACB carried from the source series, so no FX
	// conversion applies here.
	carried := tx.Price.Mul(tx.Quantity)
	d.AddStep("ACB carried in", "acbPerShareCad * quantity", map[string]string{
		"acbPerShareCad": tx.Price.StringFixed(dec.ScalePerShareDisplay),
		"quantity":       dec.SharesString(tx.Quantity),
	}, dec.MoneyString(carried))

	after := State{
		Shares: dec.RoundShares(before.Shares.Add(tx.Quantity)),
		Acb:    dec.RoundMoney(before.Acb.Add(carried)),
	}
	d.Summary = fmt.Sprintf("Transferred in %s shares carrying %s CAD of ACB.",
		dec.SharesString(tx.Quantity), dec.MoneyString(carried))
	return Result{After: after, Details: d}, nil
}

func applyTransferOut(before State, tx *models.Transaction) (Result, error) {
	if tx.Quantity.GreaterThan(before.Shares) {
		return Result{}, fmt.Errorf("%w: transferring %s of %s held",
			ErrInsufficientShares, dec.SharesString(tx.Quantity), dec.SharesString(before.Shares))
	}
	d := newDetails(tx.Type)

	acbPerShare := dec.SafeDivide(before.Acb, before.Shares)
	d.AddStep("ACB per share", "acbBefore / sharesBefore", map[string]string{
		"acbBefore":    dec.MoneyString(before.Acb),
		"sharesBefore": dec.SharesString(before.Shares),
	}, acbPerShare.StringFixed(dec.ScalePerShareDisplay))

	acbOut := acbPerShare.Mul(tx.Quantity)
	d.AddStep("ACB leaving the series", "acbPerShare * quantity", map[string]string{
		"acbPerShare": acbPerShare.StringFixed(dec.ScalePerShareDisplay),
		"quantity":    dec.SharesString(tx.Quantity),
	}, dec.MoneyString(acbOut))

	after := State{
		Shares: dec.RoundShares(before.Shares.Sub(tx.Quantity)),
		Acb:    dec.RoundMoney(before.Acb.Sub(acbOut)),
	}
	d.Summary = fmt.Sprintf("Transferred out %s shares carrying %s CAD of ACB; no gain realized.",
		dec.SharesString(tx.Quantity), dec.MoneyString(acbOut))
	return Result{After: after, Details: d}, nil
}
