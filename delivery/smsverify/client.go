// Package smsverify holds an authority.SMSVerifier over an HTTP phone
// verification API of the start/check kind: starting a verification sends a
// code to the phone and returns a provider session id, checking submits the
// code against that session.
package smsverify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config names the provider endpoint. BaseURL has no trailing slash.
type Config struct {
	BaseURL string
	APIKey  string

	// DryRun skips the provider entirely: SendCode hands back a fixed
	// handle and CheckCode accepts "000000". For tests and local runs.
	DryRun bool

	// HTTPClient overrides the default client (10s timeout) when set.
	HTTPClient *http.Client
}

// Client implements authority.SMSVerifier.
type Client struct {
	cfg  Config
	http *http.Client
}

const dryRunHandle = "dry-run"

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type checkResponse struct {
	Status  string `json:"status"`
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// SendCode starts a verification for the phone number and returns the
// provider's session handle.
func (c *Client) SendCode(ctx context.Context, phoneNumber string) (string, error) {
	if c.cfg.DryRun {
		return dryRunHandle, nil
	}

	form := url.Values{
		"api_key": {c.cfg.APIKey},
		"to":      {phoneNumber},
		"channel": {"sms"},
	}
	var out startResponse
	if err := c.postForm(ctx, "/verifications", form, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("verification start rejected: %s", out.Message)
	}
	return out.SessionID, nil
}

// CheckCode submits a code against a pending verification. A false return
// with nil error means the provider reached a verdict and the code was
// wrong; errors are transport or provider failures.
func (c *Client) CheckCode(ctx context.Context, sessionHandle, phoneNumber, code string) (bool, error) {
	if c.cfg.DryRun {
		return sessionHandle == dryRunHandle && code == "000000", nil
	}

	form := url.Values{
		"api_key": {c.cfg.APIKey},
		"to":      {phoneNumber},
		"code":    {code},
	}
	var out checkResponse
	path := "/verifications/" + url.PathEscape(sessionHandle) + "/check"
	if err := c.postForm(ctx, path, form, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("verification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("verification provider returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse verification response: %w", err)
	}
	return nil
}
