package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CardIssuer creates virtual cards at the card-issuing provider.
type CardIssuer interface {
	CreateVirtualCard(ctx context.Context, label string) (Card, error)
}

// PaymentSimulator drives sandbox authorizations and clearings against an issued card.
type PaymentSimulator interface {
	SimulateAuthorization(ctx context.Context, req AuthorizationRequest) (AuthorizationResult, error)
	SimulateClearing(ctx context.Context, token string, amount int64) (ClearingResult, error)
}

// Card is the subset of the issuer's card object that the ledger keeps.
type Card struct {
	Token    string
	LastFour string
	ExpMonth string
	ExpYear  string
	State    string
	PAN      string
	CVV      string
}

// AuthorizationRequest describes a simulated purchase.
type AuthorizationRequest struct {
	Amount           int64
	MerchantAmount   int64
	Descriptor       string
	PAN              string
	MCC              string
	MerchantCurrency string
}

// AuthorizationResult is returned by a simulated authorization.
type AuthorizationResult struct {
	Token          string
	DebugRequestID string
}

// ClearingResult is returned by a simulated clearing.
type ClearingResult struct {
	DebugRequestID string
}

// StaticIssuer approves everything with synthetic identifiers. It backs local
// development when no issuer credentials are configured.
type StaticIssuer struct{}

// CreateVirtualCard returns an open card with a sandbox test PAN.
func (StaticIssuer) CreateVirtualCard(_ context.Context, _ string) (Card, error) {
	exp := time.Now().UTC().AddDate(3, 0, 0)
	return Card{
		Token:    uuid.NewString(),
		LastFour: "1111",
		ExpMonth: fmt.Sprintf("%02d", int(exp.Month())),
		ExpYear:  fmt.Sprintf("%d", exp.Year()),
		State:    "OPEN",
		PAN:      "4111111111111111",
		CVV:      "123",
	}, nil
}

// SimulateAuthorization approves the purchase with a synthetic token.
func (StaticIssuer) SimulateAuthorization(_ context.Context, _ AuthorizationRequest) (AuthorizationResult, error) {
	return AuthorizationResult{Token: uuid.NewString(), DebugRequestID: uuid.NewString()}, nil
}

// SimulateClearing settles the authorization.
func (StaticIssuer) SimulateClearing(_ context.Context, _ string, _ int64) (ClearingResult, error) {
	return ClearingResult{DebugRequestID: uuid.NewString()}, nil
}
