// Package fx resolves exchange rates for the ledger. Lookups go through an
// in-process cache, then the fx_rates table, and only then the external
// provider; fetched observations are written back insert-or-ignore so the
// table converges regardless of retry interleaving.
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/store"
)

// LookbackDays bounds the walk to the nearest prior observation. Rates older
// than this relative to the requested date are treated as unavailable.
const LookbackDays = 10

// ErrRateNotAvailable is returned when no observation exists within the
// look-back window, even after asking the provider.
var ErrRateNotAvailable = errors.New("exchange rate not available")

// Provider fetches rate observations from an external source. Rates are CAD
// per unit of the given currency.
type Provider interface {
	FetchRange(ctx context.Context, currency string, start, end models.Date) ([]models.FXRate, error)
}

// Oracle answers Rate queries. Idempotent and safe to retry; cross-currency
// requests pivot through CAD.
type Oracle struct {
	store    store.Store
	provider Provider
	cache    *cache.Cache
}

// NewOracle builds an oracle over the given store and provider.
func NewOracle(st store.Store, provider Provider) *Oracle {
	return &Oracle{
		store:    st,
		provider: provider,
		cache:    cache.New(24*time.Hour, 48*time.Hour),
	}
}

// Rate returns the exchange rate converting one unit of from into to on the
// given date, falling back to the nearest prior observation within
// LookbackDays. Fails with ErrRateNotAvailable when no observation exists.
func (o *Oracle) Rate(ctx context.Context, date models.Date, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return dec.One, nil
	}

	fromCad, err := o.toCad(ctx, date, from)
	if err != nil {
		return decimal.Decimal{}, err
	}
	toCad, err := o.toCad(ctx, date, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	// CAD per from, divided by CAD per to.
	return dec.SafeDivide(fromCad, toCad), nil
}

// toCad resolves CAD per unit of currency on the given date.
func (o *Oracle) toCad(ctx context.Context, date models.Date, currency string) (decimal.Decimal, error) {
	if currency == "CAD" {
		return dec.One, nil
	}

	cacheKey := fmt.Sprintf("rate-%s-%s", currency, date)
	if v, found := o.cache.Get(cacheKey); found {
		return v.(decimal.Decimal), nil
	}

	rate, err := o.lookup(ctx, date, currency)
	if err == nil {
		o.cache.Set(cacheKey, rate, cache.DefaultExpiration)
		return rate, nil
	}
	if !errors.Is(err, ErrRateNotAvailable) {
		return decimal.Decimal{}, err
	}

	// Miss: pull the provider's observations for the whole look-back range
	// and retry. Insert-or-ignore keeps concurrent fetches harmless.
	observations, fetchErr := o.provider.FetchRange(ctx, currency, date.Add(-LookbackDays), date)
	if fetchErr != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: fetching %s: %v", ErrRateNotAvailable, currency, fetchErr)
	}
	for _, obs := range observations {
		if err := o.store.InsertFXRate(ctx, obs); err != nil {
			return decimal.Decimal{}, fmt.Errorf("storing fetched rate: %w", err)
		}
	}
	logger.FromContext(ctx).Debug("Fetched exchange rate observations",
		"currency", currency, "date", date.String(), "count", len(observations))

	rate, err = o.lookup(ctx, date, currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	o.cache.Set(cacheKey, rate, cache.DefaultExpiration)
	return rate, nil
}

func (o *Oracle) lookup(ctx context.Context, date models.Date, currency string) (decimal.Decimal, error) {
	r, err := o.store.FindFXRateOnOrBefore(ctx, date, currency, "CAD", LookbackDays)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("querying fx_rates: %w", err)
	}
	if r == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s to CAD on or before %s", ErrRateNotAvailable, currency, date)
	}
	return r.Rate, nil
}
