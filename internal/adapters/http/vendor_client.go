package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// VendorEndpoints locates the vendor balance API.
type VendorEndpoints struct {
	TokenURL       string
	RefreshURL     string
	BalanceURL     string // prefix; "<userid>/balance/" is appended
	ConsumptionURL string
}

// VendorCredentials are the fixed service credentials used for login.
type VendorCredentials struct {
	Username string
	Password string
}

// VendorClient implements ports.AuthAPI and ports.BalanceAPI over HTTP.
type VendorClient struct {
	client    ports.HTTPClient
	endpoints VendorEndpoints
	creds     VendorCredentials
	logger    log.Logger
}

var (
	_ ports.AuthAPI    = (*VendorClient)(nil)
	_ ports.BalanceAPI = (*VendorClient)(nil)
)

// NewVendorClient creates a vendor API client.
func NewVendorClient(client ports.HTTPClient, endpoints VendorEndpoints, creds VendorCredentials, logger log.Logger) *VendorClient {
	return &VendorClient{
		client:    client,
		endpoints: endpoints,
		creds:     creds,
		logger:    logger.With(log.String("component", "vendor-api")),
	}
}

// Login exchanges the service credentials for a token pair.
func (c *VendorClient) Login(ctx context.Context) (domain.TokenPair, error) {
	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	body := map[string]string{"username": c.creds.Username, "password": c.creds.Password}
	if err := c.do(ctx, http.MethodPost, c.endpoints.TokenURL, "", body, &resp); err != nil {
		return domain.TokenPair{}, fmt.Errorf("login: %w", err)
	}
	if resp.Access == "" {
		return domain.TokenPair{}, fmt.Errorf("login: response carried no access token")
	}
	return domain.TokenPair{Access: resp.Access, Refresh: resp.Refresh}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *VendorClient) Refresh(ctx context.Context, refresh string) (string, error) {
	var resp struct {
		Access string `json:"access"`
	}
	if err := c.do(ctx, http.MethodPost, c.endpoints.RefreshURL, "", map[string]string{"refresh": refresh}, &resp); err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	if resp.Access == "" {
		return "", fmt.Errorf("refresh: response carried no access token")
	}
	return resp.Access, nil
}

// Balance reads the balance of userID. A missing or non-numeric balance
// yields domain.ErrInvalidBalance.
func (c *VendorClient) Balance(ctx context.Context, access, userID string) (float64, error) {
	var resp struct {
		Balance any `json:"balance"`
	}
	endpoint := c.endpoints.BalanceURL + url.PathEscape(userID) + "/balance/"
	if err := c.do(ctx, http.MethodGet, endpoint, access, nil, &resp); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	balance, ok := resp.Balance.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidBalance, resp.Balance)
	}
	return balance, nil
}

// RecordConsumption posts one consumption record.
func (c *VendorClient) RecordConsumption(ctx context.Context, access string, consumption ports.Consumption) error {
	if err := c.do(ctx, http.MethodPost, c.endpoints.ConsumptionURL, access, consumption, nil); err != nil {
		return fmt.Errorf("record consumption: %w", err)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. A 401 answer wraps domain.ErrUnauthorized.
func (c *VendorClient) do(ctx context.Context, method, endpoint, access string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Debug("vendor API call", log.String("method", method), log.String("url", endpoint), log.Int("status", resp.StatusCode))

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
