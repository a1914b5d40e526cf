package funding

import "github.com/payperplane/payperplane/internal/ledger"

// GenerateResponse returns the id the payer passes to the contract.
type GenerateResponse struct {
	ID string `json:"id"`
}

// CardInfo is the public view of an issued card. PAN and CVV are never exposed.
type CardInfo struct {
	Token    string `json:"token"`
	LastFour string `json:"last_four"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	State    string `json:"state"`
}

// PaymentInfo reports simulation progress.
type PaymentInfo struct {
	AuthorizationToken *string `json:"authorization_token"`
	Cleared            bool    `json:"cleared"`
	ClearingDebugID    *string `json:"clearing_debug_id"`
}

// FundingResponse is the public view of a funding record.
type FundingResponse struct {
	ID            string      `json:"id"`
	EventReceived bool        `json:"event_received"`
	CurrencyCode  *string     `json:"currency_code"`
	FiatAmount    *int64      `json:"fiat_amount"`
	Card          *CardInfo   `json:"card"`
	Payment       PaymentInfo `json:"payment"`
}

// SimulateRequest describes the simulated merchant.
type SimulateRequest struct {
	Descriptor string `json:"descriptor"`
	MCC        string `json:"mcc"`
}

// SimulateResponse reports the clearing outcome.
type SimulateResponse struct {
	TransactionToken string  `json:"transaction_token"`
	Cleared          bool    `json:"cleared"`
	ClearingDebugID  *string `json:"clearing_debug_id"`
}

func toFundingResponse(f ledger.Funding) FundingResponse {
	resp := FundingResponse{
		ID:            f.ID,
		EventReceived: f.EventReceived,
		CurrencyCode:  optional(f.CurrencyCode),
		Payment: PaymentInfo{
			AuthorizationToken: optional(f.AuthorizationToken),
			Cleared:            f.Cleared,
			ClearingDebugID:    optional(f.ClearingDebugID),
		},
	}
	if f.EventReceived {
		amount := f.FiatAmount
		resp.FiatAmount = &amount
	}
	if f.HasCard() {
		resp.Card = &CardInfo{
			Token:    f.CardToken,
			LastFour: f.CardLastFour,
			ExpMonth: f.CardExpMonth,
			ExpYear:  f.CardExpYear,
			State:    f.CardState,
		}
	}
	return resp
}

func toSimulateResponse(res SimulateResult) SimulateResponse {
	return SimulateResponse{
		TransactionToken: res.AuthorizationToken,
		Cleared:          res.Cleared,
		ClearingDebugID:  optional(res.ClearingDebugID),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
