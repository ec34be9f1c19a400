// Package rates talks to the external exchange-rate oracle. Conversion
// happens once, at submission time; nothing in here caches or retries.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trasferte/internal/core"
)

var (
	// ErrUnavailable means the oracle could not be reached at all.
	ErrUnavailable = errors.New("rate oracle unavailable")
	// ErrBadResponse means the oracle answered with something unusable.
	ErrBadResponse = errors.New("rate oracle returned a malformed response")
)

// Oracle converts an amount between currencies.
type Oracle interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to core.Currency) (decimal.Decimal, error)
}

// HTTPOracle calls an exchangerate.host-compatible /convert endpoint.
type HTTPOracle struct {
	client    *http.Client
	baseURL   string
	accessKey string
}

func NewHTTPOracle(baseURL, accessKey string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
	}
}

type convertResponse struct {
	Success bool             `json:"success"`
	Result  *decimal.Decimal `json:"result"`
}

func (o *HTTPOracle) Convert(ctx context.Context, amount decimal.Decimal, from, to core.Currency) (decimal.Decimal, error) {
	// Identity conversion needs no oracle.
	if from == to {
		return amount, nil
	}

	q := url.Values{}
	q.Set("from", string(from))
	q.Set("to", string(to))
	q.Set("amount", amount.String())
	if o.accessKey != "" {
		q.Set("access_key", o.accessKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/convert?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build convert request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !body.Success || body.Result == nil {
		return decimal.Zero, fmt.Errorf("%w: missing result", ErrBadResponse)
	}

	slog.DebugContext(ctx, "Converted amount via rate oracle",
		"from", from, "to", to,
		"amount", amount.String(), "result", body.Result.String())

	return *body.Result, nil
}

// StaticOracle converts with a fixed USD rate table. Used in tests and when
// no oracle endpoint is configured (offline development).
type StaticOracle struct {
	// USDRates maps a currency to its value in USD per unit.
	USDRates map[core.Currency]decimal.Decimal
}

// NewStaticOracle returns an oracle with a reasonable fixed rate table.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{USDRates: map[core.Currency]decimal.Decimal{
		core.USD: decimal.NewFromInt(1),
		core.EUR: decimal.RequireFromString("1.08"),
		core.GBP: decimal.RequireFromString("1.27"),
		core.JPY: decimal.RequireFromString("0.0067"),
	}}
}

func (o *StaticOracle) Convert(_ context.Context, amount decimal.Decimal, from, to core.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	fromRate, ok := o.USDRates[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", ErrBadResponse, from)
	}
	toRate, ok := o.USDRates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", ErrBadResponse, to)
	}
	return amount.Mul(fromRate).DivRound(toRate, 2), nil
}
