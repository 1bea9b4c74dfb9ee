package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPollInterval = 2 * time.Second

// HTTPGateway is the JSON-over-HTTP client for the hosted bank gateway.
type HTTPGateway struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
}

// NewHTTPGateway returns a gateway client for the given base URL and API key.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 15 * time.Second},
		pollInterval: defaultPollInterval,
	}
}

type createChargeRequest struct {
	ConsentRef string `json:"consent_ref"`
	Amount     string `json:"amount"`
	Reference  string `json:"reference"`
}

type createChargeResponse struct {
	ChargeID string `json:"charge_id"`
}

type chargeStatusResponse struct {
	Status Status `json:"status"`
}

// CreateCharge initiates a charge and returns the gateway's charge ID.
func (g *HTTPGateway) CreateCharge(ctx context.Context, consentRef string, amount decimal.Decimal, reference string) (string, error) {
	body := createChargeRequest{
		ConsentRef: consentRef,
		Amount:     amount.StringFixed(2),
		Reference:  reference,
	}
	var resp createChargeResponse
	if err := g.do(ctx, http.MethodPost, "/charges", body, &resp); err != nil {
		return "", fmt.Errorf("create charge: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"charge_id": resp.ChargeID,
		"amount":    body.Amount,
		"reference": reference,
	}).Info("Bank charge created")
	return resp.ChargeID, nil
}

// ChargeStatus polls the gateway until the charge reaches a terminal status
// or maxWait elapses. On timeout the last observed status is returned so the
// caller can log what the gateway last reported.
func (g *HTTPGateway) ChargeStatus(ctx context.Context, chargeID string, maxWait time.Duration) (Status, error) {
	deadline := time.Now().Add(maxWait)
	last := StatusPending
	for {
		var resp chargeStatusResponse
		if err := g.do(ctx, http.MethodGet, "/charges/"+chargeID, nil, &resp); err != nil {
			return last, fmt.Errorf("charge status: %w", err)
		}
		last = resp.Status
		if last.Terminal() {
			return last, nil
		}
		if time.Now().Add(g.pollInterval).After(deadline) {
			return last, nil // Still pending at the deadline; caller treats as failed
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

// RevokeConsent invalidates a consent at the gateway.
func (g *HTTPGateway) RevokeConsent(ctx context.Context, consentRef string) error {
	if err := g.do(ctx, http.MethodDelete, "/consents/"+consentRef, nil, nil); err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	return nil
}

// do performs one authenticated JSON round-trip against the gateway.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
