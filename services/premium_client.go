package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"progression-engine/utils"
)

// SubscriptionClient reads premium status from the subscription service.
type SubscriptionClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// PremiumChange is one user's premium state as reported by the subscription service.
type PremiumChange struct {
	UserID     string    `json:"user_id"`
	IsPremium  bool      `json:"is_premium"`
	Multiplier float64   `json:"xp_multiplier"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewSubscriptionClient(baseURL, token string) *SubscriptionClient {
	return &SubscriptionClient{BaseURL: baseURL, Token: token, Client: utils.HTTPClient}
}

// PremiumStatus implements PremiumStatusProvider.
func (c *SubscriptionClient) PremiumStatus(ctx context.Context, userID string) (PremiumStatus, error) {
	var out PremiumStatus
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/public/subscriptions/%s", c.BaseURL, url.PathEscape(userID)), &out)
	return out, err
}

// ChangedSince lists premium changes after since.
func (c *SubscriptionClient) ChangedSince(ctx context.Context, since time.Time) ([]PremiumChange, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/subscriptions", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	var response struct {
		Subscriptions []PremiumChange `json:"subscriptions"`
	}
	if err := c.getJSON(ctx, u.String(), &response); err != nil {
		return nil, err
	}
	return response.Subscriptions, nil
}

func (c *SubscriptionClient) getJSON(ctx context.Context, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call subscription service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("subscription service returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode subscription response: %w", err)
	}
	return nil
}
