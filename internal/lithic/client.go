package lithic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/payperplane/payperplane/internal/funding"
	"github.com/payperplane/payperplane/internal/logging"
)

const (
	// SandboxBaseURL is the Lithic sandbox host; simulate endpoints only exist there.
	SandboxBaseURL = "https://sandbox.lithic.com"
	// ProductionBaseURL is the live Lithic host.
	ProductionBaseURL = "https://api.lithic.com"
)

// BaseURL maps a configured environment name to the API host.
func BaseURL(environment string) string {
	if strings.EqualFold(strings.TrimSpace(environment), "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Client talks to the Lithic card-issuing REST API. It implements
// funding.CardIssuer and funding.PaymentSimulator.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client for the given environment ("sandbox" or "production").
func NewClient(apiKey, environment string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL: BaseURL(environment),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.Component(logger, "lithic"),
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	DebugID    string `json:"debugging_request_id"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("lithic api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("lithic api error (status %d)", e.StatusCode)
}

type createCardRequest struct {
	Type string `json:"type"`
	Memo string `json:"memo"`
}

type cardResponse struct {
	Token    string `json:"token"`
	LastFour string `json:"last_four"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	State    string `json:"state"`
	PAN      string `json:"pan"`
	CVV      string `json:"cvv"`
}

type simulateAuthorizationRequest struct {
	Amount           int64  `json:"amount"`
	MerchantAmount   int64  `json:"merchant_amount"`
	Descriptor       string `json:"descriptor"`
	PAN              string `json:"pan"`
	MCC              string `json:"mcc,omitempty"`
	MerchantCurrency string `json:"merchant_currency,omitempty"`
}

type simulateAuthorizationResponse struct {
	Token              string `json:"token"`
	DebuggingRequestID string `json:"debugging_request_id"`
}

type simulateClearingRequest struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

type simulateClearingResponse struct {
	DebuggingRequestID string `json:"debugging_request_id"`
}

// CreateVirtualCard issues a virtual card whose memo is label.
func (c *Client) CreateVirtualCard(ctx context.Context, label string) (funding.Card, error) {
	var resp cardResponse
	if err := c.post(ctx, "/v1/cards", createCardRequest{Type: "VIRTUAL", Memo: label}, &resp); err != nil {
		return funding.Card{}, fmt.Errorf("create virtual card: %w", err)
	}
	return funding.Card{
		Token:    resp.Token,
		LastFour: resp.LastFour,
		ExpMonth: resp.ExpMonth,
		ExpYear:  resp.ExpYear,
		State:    resp.State,
		PAN:      resp.PAN,
		CVV:      resp.CVV,
	}, nil
}

// SimulateAuthorization simulates a card authorization in the sandbox.
func (c *Client) SimulateAuthorization(ctx context.Context, req funding.AuthorizationRequest) (funding.AuthorizationResult, error) {
	var resp simulateAuthorizationResponse
	payload := simulateAuthorizationRequest{
		Amount:           req.Amount,
		MerchantAmount:   req.MerchantAmount,
		Descriptor:       req.Descriptor,
		PAN:              req.PAN,
		MCC:              req.MCC,
		MerchantCurrency: req.MerchantCurrency,
	}
	if err := c.post(ctx, "/v1/simulate/authorize", payload, &resp); err != nil {
		return funding.AuthorizationResult{}, fmt.Errorf("simulate authorization: %w", err)
	}
	return funding.AuthorizationResult{Token: resp.Token, DebugRequestID: resp.DebuggingRequestID}, nil
}

// SimulateClearing clears a previously authorized transaction.
func (c *Client) SimulateClearing(ctx context.Context, token string, amount int64) (funding.ClearingResult, error) {
	var resp simulateClearingResponse
	if err := c.post(ctx, "/v1/simulate/clearing", simulateClearingRequest{Token: token, Amount: amount}, &resp); err != nil {
		return funding.ClearingResult{}, fmt.Errorf("simulate clearing: %w", err)
	}
	return funding.ClearingResult{DebugRequestID: resp.DebuggingRequestID}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		c.log.WarnContext(ctx, "lithic request failed",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("debugging_request_id", apiErr.DebugID),
		)
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
