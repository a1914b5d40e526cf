package lithic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/payperplane/payperplane/internal/funding"
	"github.com/payperplane/payperplane/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key", "sandbox", logging.Discard())
	c.BaseURL = srv.URL
	return c
}

func TestBaseURL(t *testing.T) {
	if got := BaseURL("sandbox"); got != SandboxBaseURL {
		t.Fatalf("expected sandbox url, got %s", got)
	}
	if got := BaseURL("Production"); got != ProductionBaseURL {
		t.Fatalf("expected production url, got %s", got)
	}
	if got := BaseURL(""); got != SandboxBaseURL {
		t.Fatalf("expected sandbox default, got %s", got)
	}
}

func TestCreateVirtualCard(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/cards" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("missing api key header")
		}
		var body createCardRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Type != "VIRTUAL" || body.Memo != "0xabc" {
			t.Errorf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(cardResponse{
			Token: "card-token", LastFour: "1234", ExpMonth: "06", ExpYear: "2030",
			State: "OPEN", PAN: "4111111111111234", CVV: "999",
		})
	})

	card, err := c.CreateVirtualCard(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if card.Token != "card-token" || card.PAN != "4111111111111234" || card.ExpYear != "2030" {
		t.Fatalf("unexpected card %+v", card)
	}
}

func TestSimulateAuthorizationAndClearing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/simulate/authorize":
			var body simulateAuthorizationRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body.Amount != 1000 || body.MerchantAmount != 1000 || body.MerchantCurrency != "EUR" || body.MCC != "7011" {
				t.Errorf("unexpected authorization body %+v", body)
			}
			_ = json.NewEncoder(w).Encode(simulateAuthorizationResponse{Token: "tx-1", DebuggingRequestID: "dbg-a"})
		case "/v1/simulate/clearing":
			var body simulateClearingRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body.Token != "tx-1" || body.Amount != 1000 {
				t.Errorf("unexpected clearing body %+v", body)
			}
			_ = json.NewEncoder(w).Encode(simulateClearingResponse{DebuggingRequestID: "dbg-c"})
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	auth, err := c.SimulateAuthorization(ctx, funding.AuthorizationRequest{
		Amount: 1000, MerchantAmount: 1000, Descriptor: "AIRBNB", PAN: "4111", MCC: "7011", MerchantCurrency: "EUR",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Token != "tx-1" {
		t.Fatalf("unexpected token %q", auth.Token)
	}

	clr, err := c.SimulateClearing(ctx, auth.Token, 1000)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if clr.DebugRequestID != "dbg-c" {
		t.Fatalf("unexpected debug id %q", clr.DebugRequestID)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid pan","debugging_request_id":"dbg-x"}`))
	})

	_, err := c.SimulateAuthorization(context.Background(), funding.AuthorizationRequest{Amount: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "invalid pan" || apiErr.DebugID != "dbg-x" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}
