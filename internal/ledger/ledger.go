package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFundingNotFound occurs when no record exists for the requested funding id.
	ErrFundingNotFound = errors.New("funding not found")

	// ErrDuplicateFunding indicates a record with the same id already exists.
	ErrDuplicateFunding = errors.New("duplicate funding")
)

// Funding is the persisted record tracking one payer from the on-chain payment
// through card issuance to simulated clearing. Empty strings mean "not set".
type Funding struct {
	ID string

	EventReceived bool
	CurrencyCode  string
	FiatAmount    int64
	TxSender      string

	CardToken    string
	CardLastFour string
	CardExpMonth string
	CardExpYear  string
	CardState    string
	// CardPAN and CardCVV are sandbox-only secrets needed to drive simulation.
	CardPAN string
	CardCVV string

	AuthorizationToken string
	Cleared            bool
	ClearingDebugID    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCard reports whether a card has been issued for the funding.
func (f Funding) HasCard() bool {
	return f.CardToken != ""
}

// MutateFunc applies changes to a loaded record. Returning an error aborts the
// mutation and nothing is written.
type MutateFunc func(f *Funding) error

// Ledger defines the contract implemented by funding stores (e.g. Postgres).
//
// Mutate serialises concurrent callers for the same id: the record is loaded,
// passed to fn, stamped with a fresh UpdatedAt, and committed as one unit. When
// upsert is true a missing record is created first, otherwise ErrFundingNotFound
// is returned.
type Ledger interface {
	Create(ctx context.Context, funding Funding) error
	Get(ctx context.Context, id string) (Funding, error)
	Mutate(ctx context.Context, id string, upsert bool, fn MutateFunc) (Funding, error)
}

func newFunding(id string, now time.Time) Funding {
	return Funding{ID: id, CreatedAt: now, UpdatedAt: now}
}
