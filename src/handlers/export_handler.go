package handlers

import (
	"net/http"
	"strings"

	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/security/validation"
	"github.com/username/acbfolio/backend/src/store"
	"github.com/username/acbfolio/backend/src/utils"
)

type ExportHandler struct {
	store store.Store
}

func NewExportHandler(st store.Store) *ExportHandler {
	return &ExportHandler{store: st}
}

// csvHeader is the fixed column order of the CSV export.
var csvHeader = []string{
	"Date", "Settlement Date", "Type", "Security", "Account",
	"Quantity", "Price", "Currency", "FX Rate",
	"ACB Before", "ACB After", "Shares Before", "Shares After",
	"Capital Gain/Loss", "Flags", "Notes",
}

// HandleExportCSV writes the whole ledger as CSV: one header line, every
// field quoted, rows separated by \n.
func (h *ExportHandler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	transactions, securities, accounts, err := h.loadAll(r)
	if err != nil {
		logger.ErrorFromContext(ctx, "Failed to load data for CSV export", "error", err)
		writeLedgerError(w, err)
		return
	}

	var b strings.Builder
	writeCSVRow(&b, csvHeader)
	for _, tx := range transactions {
		symbol := ""
		if sec, ok := securities[tx.SecurityID]; ok {
			symbol = sec.Symbol
		}
		accountName := ""
		if acc, ok := accounts[tx.AccountID]; ok {
			accountName = acc.Name
		}
		currency := "CAD"
		if sec, ok := securities[tx.SecurityID]; ok {
			currency = sec.Currency
		}
		gain := ""
		if tx.CapitalGain != nil {
			gain = dec.MoneyString(*tx.CapitalGain)
		}

		writeCSVRow(&b, []string{
			tx.TradeDate.String(),
			tx.SettlementDate.String(),
			string(tx.Type),
			symbol,
			accountName,
			dec.SharesString(tx.Quantity),
			tx.Price.String(),
			currency,
			dec.RoundFX(tx.FxRate).String(),
			dec.MoneyString(tx.AcbBefore),
			dec.MoneyString(tx.AcbAfter),
			dec.SharesString(tx.SharesBefore),
			dec.SharesString(tx.SharesAfter),
			gain,
			strings.Join(tx.Flags, ";"),
			validation.SanitizeForFormulaInjection(tx.Notes),
		})
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="acb-ledger.csv"`)
	if _, err := w.Write([]byte(b.String())); err != nil {
		logger.ErrorFromContext(ctx, "Failed to write CSV export", "error", err)
	}
}

// writeCSVRow appends one \n-terminated row with every field quoted and
// embedded quotes doubled.
func writeCSVRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

// HandleExportJSON writes the full data set as one JSON document.
func (h *ExportHandler) HandleExportJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	securities, err := h.store.ListSecurities(ctx)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	transactions, err := h.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	positions, err := h.store.ListPositions(ctx)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="acb-ledger.json"`)
	utils.SendJSON(w, map[string]any{
		"securities":   securities,
		"accounts":     accounts,
		"transactions": transactions,
		"positions":    positions,
	}, http.StatusOK)
}

func (h *ExportHandler) loadAll(r *http.Request) ([]*models.Transaction, map[string]*models.Security, map[string]*models.Account, error) {
	ctx := r.Context()

	transactions, err := h.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return nil, nil, nil, err
	}
	securityList, err := h.store.ListSecurities(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	accountList, err := h.store.ListAccounts(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	securities := make(map[string]*models.Security, len(securityList))
	for _, s := range securityList {
		securities[s.ID] = s
	}
	accounts := make(map[string]*models.Account, len(accountList))
	for _, a := range accountList {
		accounts[a.ID] = a
	}
	return transactions, securities, accounts, nil
}
