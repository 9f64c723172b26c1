package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"market-pulse/internal/market"
)

//go:generate mockgen -destination=mock_adapter_test.go -package=fetcher . Adapter

// ErrNotConfigured is returned by adapters missing credentials or endpoints.
// Adapters return it before any I/O so the failover moves on immediately.
var ErrNotConfigured = errors.New("fetcher: adapter not configured")

// Adapter converts one provider's response into quotes.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) ([]market.Quote, error)
}

// SymbolMap maps canonical symbols to provider tickers.
type SymbolMap map[string]string

// To returns the provider ticker for a canonical symbol.
func (m SymbolMap) To(symbol string) string {
	if mapped, ok := m[symbol]; ok {
		return mapped
	}
	return symbol
}

// From returns the canonical symbol for a provider ticker.
func (m SymbolMap) From(ticker string) string {
	for canonical, mapped := range m {
		if mapped == ticker {
			return canonical
		}
	}
	return ticker
}

// statusError describes a non-2xx provider response.
type statusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// doJSON executes req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, provider string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Provider: provider, Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}
