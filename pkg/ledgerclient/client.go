/**
 * @description
 * Client for the token ledger gateway. The gateway fronts the ICRC-1 ledgers the wheel
 * pays prizes from: it signs transfers from the service account and answers balance
 * queries.
 *
 * @notes
 * - Amounts are ledger base units sent as decimal strings; they can exceed 64 bits.
 * - A 4xx response is an explicit rejection by the ledger. Anything else (timeouts, 5xx)
 *   leaves the transfer outcome unknown.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the ledger gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ledger gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Account is an ICRC-1 account. Subaccount is hex encoded when set.
type Account struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

// TransferRequest is the payload of an ICRC-1 transfer.
type TransferRequest struct {
	To     Account `json:"to"`
	Amount string  `json:"amount"`
	Memo   string  `json:"memo,omitempty"`
}

// TransferResponse carries the block index of a committed transfer.
type TransferResponse struct {
	BlockIndex string `json:"block_index"`
}

type BalanceResponse struct {
	Balance string `json:"balance"`
}

// ErrorResponse represents an error from the ledger gateway.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("ledger api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("ledger api error (status %d)", e.StatusCode)
}

// IsExplicitRejection reports whether the ledger refused the request, as opposed to an
// outcome that is unknown.
func (e *ErrorResponse) IsExplicitRejection() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Transfer sends amount base units of ledgerID to the owner principal. memo is attached
// to the ledger block.
func (c *Client) Transfer(ctx context.Context, ledgerID, to string, amount *big.Int, memo []byte) (*TransferResponse, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	payload := TransferRequest{
		To:     Account{Owner: to},
		Amount: amount.String(),
	}
	if len(memo) > 0 {
		payload.Memo = base64.StdEncoding.EncodeToString(memo)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/ledgers/%s/transfers", c.BaseURL, url.PathEscape(ledgerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var transferResp TransferResponse
	if err := c.do(req, "transfer", ledgerID, &transferResp); err != nil {
		return nil, err
	}
	return &transferResp, nil
}

// BalanceOf returns the balance of owner on ledgerID, in base units.
func (c *Client) BalanceOf(ctx context.Context, ledgerID, owner string) (*big.Int, error) {
	endpoint := fmt.Sprintf("%s/api/v1/ledgers/%s/accounts/%s/balance", c.BaseURL, url.PathEscape(ledgerID), url.PathEscape(owner))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}

	var balanceResp BalanceResponse
	if err := c.do(req, "balance_of", ledgerID, &balanceResp); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(balanceResp.Balance), 10)
	if !ok || balance.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance %q from ledger %s", balanceResp.Balance, ledgerID)
	}
	return balance, nil
}

func (c *Client) do(req *http.Request, op, ledgerID string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.APIKey) != "" {
		req.Header.Set("x-api-key", strings.TrimSpace(c.APIKey))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=ledger_client op=%s ledger_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, ledgerID, resp.StatusCode)
			return &ErrorResponse{StatusCode: resp.StatusCode}
		}
		log.Printf("level=warn component=ledger_client op=%s ledger_id=%s status=%d title=%q detail=%q", op, ledgerID, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
