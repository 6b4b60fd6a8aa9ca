/**
 * @description
 * Client for the user-profile service, used when operator profiles are not stored in the
 * wheel database.
 */
package profileclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user profile not found")

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UserProfile is the profile service's view of an operator.
type UserProfile struct {
	ID          uuid.UUID `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
}

// GetUserByPrincipal returns ErrUserNotFound when the service has no profile for principal.
func (c *Client) GetUserByPrincipal(ctx context.Context, principal string) (*UserProfile, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("profile service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/users/by-principal/%s", c.baseURL, url.PathEscape(strings.TrimSpace(principal)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("profile service returned error status %d", resp.StatusCode)
	}

	var profile UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &profile, nil
}
