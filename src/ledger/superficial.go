package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/store"
)

// superficialWindowDays is the CRA look-around in calendar days on each side
// of a loss-producing sell.
const superficialWindowDays = 30

// AcbAdjustment is an addition the orchestrator must fold into one
// repurchase's acbAfter when a denied loss is redistributed.
type AcbAdjustment struct {
	TransactionID string
	Amount        decimal.Decimal
}

// detectSuperficialLoss applies the CRA denial test to a sell that realized
// gain < 0. It must be called with gain already computed and negative.
//
// The denial test: the account is non-registered, at least one acquiring
// event (buy or drip) of the same security exists in [D-30, D+30] across any
// account, and the security is still held at D+30. When fewer shares are
// reacquired than sold, the denied amount is prorated by min(k, N)/N.
//
// The denied amount is distributed proportionally by quantity across the
// in-window acquisitions of the same series that replay after the sell; when
// the series has none, it is added back to the sell's own retained ACB.
func detectSuperficialLoss(ctx context.Context, st store.Store, sell *models.Transaction, account *models.Account, gain decimal.Decimal) (*models.SuperficialLossResult, []AcbAdjustment, error) {
	loss := gain.Abs()

	if account.Registration.IsRegistered() {
		return &models.SuperficialLossResult{
			IsSuperficial: false,
			LossAmount:    loss,
			Explanation: fmt.Sprintf("Losses in a %s account are not reportable, so the superficial-loss rule does not apply.",
				account.Registration),
		}, nil, nil
	}

	windowStart := sell.TradeDate.Add(-superficialWindowDays)
	windowEnd := sell.TradeDate.Add(superficialWindowDays)

	acquisitions, err := st.FindInWindow(ctx, sell.SecurityID, windowStart, windowEnd,
		[]models.TransactionType{models.TypeBuy, models.TypeDrip})
	if err != nil {
		return nil, nil, fmt.Errorf("querying acquisition window: %w", err)
	}

	if len(acquisitions) == 0 {
		return &models.SuperficialLossResult{
			IsSuperficial: false,
			LossAmount:    loss,
			Explanation: fmt.Sprintf("No acquisition of the security between %s and %s; the loss is allowed.",
				windowStart, windowEnd),
		}, nil, nil
	}

	latest, err := st.FindLatestOnOrBefore(ctx, sell.SecurityID, windowEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("querying terminal holding: %w", err)
	}
	if latest == nil || !latest.SharesAfter.IsPositive() {
		return &models.SuperficialLossResult{
			IsSuperficial: false,
			LossAmount:    loss,
			Explanation: fmt.Sprintf("The security is no longer held at %s, so the loss is allowed.",
				windowEnd),
		}, nil, nil
	}

	repurchased := decimal.Zero
	related := make([]string, 0, len(acquisitions))
	for _, a := range acquisitions {
		repurchased = repurchased.Add(a.Quantity)
		related = append(related, a.ID)
	}

	denied := dec.RoundMoney(loss.Mul(dec.Min(repurchased, sell.Quantity)).Div(sell.Quantity))

	result := &models.SuperficialLossResult{
		IsSuperficial:         true,
		LossAmount:            denied,
		RelatedTransactionIDs: related,
		Explanation: fmt.Sprintf("%s of %s shares reacquired within 30 days of the %s sale and still held at %s; %s CAD of the %s CAD loss is denied.",
			dec.SharesString(dec.Min(repurchased, sell.Quantity)), dec.SharesString(sell.Quantity),
			sell.TradeDate, windowEnd, dec.MoneyString(denied), dec.MoneyString(loss)),
		AdjustmentRequired: fmt.Sprintf("Add %s CAD to the ACB of the reacquired shares.", dec.MoneyString(denied)),
	}

	adjustments := distributeDeniedLoss(denied, sell, acquisitions)
	return result, adjustments, nil
}

// distributeDeniedLoss splits the denied amount across the same-series
// acquisitions that sort after the sell in replay order, proportionally by
// quantity, with the last target absorbing the rounding residue. An empty
// slice means the caller keeps the denied amount on the sell itself.
func distributeDeniedLoss(denied decimal.Decimal, sell *models.Transaction, acquisitions []*models.Transaction) []AcbAdjustment {
	var targets []*models.Transaction
	for _, a := range acquisitions {
		if a.AccountID != sell.AccountID {
			continue
		}
		if a.TradeDate.Before(sell.TradeDate) {
			continue
		}
		if a.TradeDate.Compare(sell.TradeDate) == 0 && !a.CreatedAt.After(sell.CreatedAt) {
			continue
		}
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return nil
	}

	totalQty := decimal.Zero
	for _, t := range targets {
		totalQty = totalQty.Add(t.Quantity)
	}

	out := make([]AcbAdjustment, 0, len(targets))
	remaining := denied
	for i, t := range targets {
		var share decimal.Decimal
		if i == len(targets)-1 {
			share = remaining
		} else {
			share = dec.RoundMoney(denied.Mul(dec.SafeDivide(t.Quantity, totalQty)))
			remaining = remaining.Sub(share)
		}
		out = append(out, AcbAdjustment{TransactionID: t.ID, Amount: share})
	}
	return out
}
