/**
 * @description
 * Client for the exchange-rate service. Rates are quoted in USD as an integer plus a
 * decimal exponent, the way the IC exchange-rate canister reports them.
 */
package priceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const quoteSymbol = "USD"

// MaxRateDecimals bounds the exponent of a quoted rate.
const MaxRateDecimals = 36

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Rate is rate / 10^decimals USD for one unit of the base asset.
type Rate struct {
	Symbol    string `json:"symbol"`
	Rate      uint64 `json:"rate"`
	Decimals  uint32 `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetRate fetches the USD rate of symbol.
func (c *Client) GetRate(ctx context.Context, symbol string) (*Rate, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("price service base url is empty")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is empty")
	}

	query := url.Values{}
	query.Set("base", symbol)
	query.Set("quote", quoteSymbol)
	endpoint := fmt.Sprintf("%s/api/v1/rates?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("x-api-key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute rate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		log.Printf("level=warn component=price_client op=get_rate symbol=%s status=%d err=%q", symbol, resp.StatusCode, errResp.Error)
		return nil, fmt.Errorf("price service returned error status %d for %s", resp.StatusCode, symbol)
	}

	var rate Rate
	if err := json.NewDecoder(resp.Body).Decode(&rate); err != nil {
		return nil, fmt.Errorf("failed to decode rate response: %w", err)
	}
	if rate.Rate == 0 {
		return nil, fmt.Errorf("price service returned a zero rate for %s", symbol)
	}
	if rate.Decimals > MaxRateDecimals {
		return nil, fmt.Errorf("price service returned %d decimals for %s, max is %d", rate.Decimals, symbol, MaxRateDecimals)
	}
	rate.Symbol = symbol
	return &rate, nil
}
