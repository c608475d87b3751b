package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
)

// ValetProvider fetches daily noon rates from the Bank of Canada Valet API.
// Series FX{CUR}CAD quotes CAD per unit of CUR.
type ValetProvider struct {
	baseURL string
	client  *http.Client
}

// NewValetProvider builds a provider against the given base URL, typically
// https://www.bankofcanada.ca/valet.
func NewValetProvider(baseURL string, timeout time.Duration) *ValetProvider {
	return &ValetProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// valetResponse is the subset of the Valet observations payload we read.
// Each observation maps the series name to {"v": "<rate>"}.
type valetResponse struct {
	Observations []map[string]json.RawMessage `json:"observations"`
}

type valetValue struct {
	V string `json:"v"`
}

// FetchRange pulls every observation of FX{currency}CAD in [start, end].
// Weekends and bank holidays simply have no observation; the caller's
// look-back handles those gaps.
func (p *ValetProvider) FetchRange(ctx context.Context, currency string, start, end models.Date) ([]models.FXRate, error) {
	series := fmt.Sprintf("FX%sCAD", currency)
	url := fmt.Sprintf("%s/observations/%s/json?start_date=%s&end_date=%s",
		p.baseURL, series, start, end)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building valet request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling valet API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown series: the currency has no CAD cross on Valet.
		return nil, fmt.Errorf("no valet series for %s", currency)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("valet API returned %s", resp.Status)
	}

	var payload valetResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding valet response: %w", err)
	}

	rates := make([]models.FXRate, 0, len(payload.Observations))
	for _, obs := range payload.Observations {
		var dateStr string
		if raw, ok := obs["d"]; ok {
			if err := json.Unmarshal(raw, &dateStr); err != nil {
				continue
			}
		}
		raw, ok := obs[series]
		if !ok {
			continue
		}
		var val valetValue
		if err := json.Unmarshal(raw, &val); err != nil {
			continue
		}

		date, err := models.ParseDate(dateStr)
		if err != nil {
			logger.FromContext(ctx).Warn("Skipping valet observation with bad date", "date", dateStr, "series", series)
			continue
		}
		rate, err := dec.FromString(val.V)
		if err != nil {
			logger.FromContext(ctx).Warn("Skipping valet observation with bad value", "value", val.V, "series", series)
			continue
		}
		rates = append(rates, models.FXRate{
			Date:   date,
			From:   currency,
			To:     "CAD",
			Rate:   dec.RoundFX(rate),
			Source: "bank-of-canada-valet",
		})
	}
	return rates, nil
}
