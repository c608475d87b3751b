package models

import "github.com/shopspring/decimal"

// AuditStep records one computed intermediate of the ACB algebra, in
// execution order.
type AuditStep struct {
	Description string            `json:"description"`
	Formula     string            `json:"formula,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
	Result      string            `json:"result,omitempty"`
}

// SuperficialLossResult is the detector's verdict on a loss-producing sell.
type SuperficialLossResult struct {
	IsSuperficial         bool            `json:"isSuperficial"`
	LossAmount            decimal.Decimal `json:"lossAmount"`
	RelatedTransactionIDs []string        `json:"relatedTransactionIds,omitempty"`
	Explanation           string          `json:"explanation"`
	AdjustmentRequired    string          `json:"adjustmentRequired,omitempty"`
}

// CalculationDetails is the audit trail embedded in a transaction. It is
// purely informational and must be reproducible by re-running the algebra on
// the stored inputs.
type CalculationDetails struct {
	Type            TransactionType        `json:"type"`
	Steps           []AuditStep            `json:"steps"`
	Summary         string                 `json:"summary"`
	SuperficialLoss *SuperficialLossResult `json:"superficialLoss,omitempty"`
}

// AddStep appends an audit step.
func (c *CalculationDetails) AddStep(description, formula string, values map[string]string, result string) {
	c.Steps = append(c.Steps, AuditStep{
		Description: description,
		Formula:     formula,
		Values:      values,
		Result:      result,
	})
}
