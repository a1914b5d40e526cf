package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/payperplane/payperplane/internal/chain"
	"github.com/payperplane/payperplane/internal/ledger"
	"github.com/payperplane/payperplane/internal/logging"
	"github.com/payperplane/payperplane/internal/metrics"
	"github.com/payperplane/payperplane/internal/notification"
)

var (
	// ErrNotFound is returned for unknown funding ids.
	ErrNotFound = ledger.ErrFundingNotFound

	// ErrPreconditionFailed means the funding has no card to simulate against.
	ErrPreconditionFailed = errors.New("funding has no issued card")

	// ErrUpstream wraps failures reported by the card provider.
	ErrUpstream = errors.New("card provider request failed")

	// ErrInvariantViolation means the card provider answered successfully but
	// without an identifier the state machine depends on.
	ErrInvariantViolation = errors.New("card provider response violates invariant")
)

const (
	// DefaultCardLabel names cards whose payer address is unknown.
	DefaultCardLabel = "PayperPlane User"

	defaultCurrency = "USD"
	maxCreateTries  = 3
)

// Service is the funding reconciler. It owns exactly-once card issuance for
// Funded events and the authorize-then-clear simulation flow.
type Service struct {
	ledger     ledger.Ledger
	issuer     CardIssuer
	simulator  PaymentSimulator
	notifier   notification.Notifier
	currencies *chain.CurrencyResolver
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Currencies is the supported code set. Nil means the default set.
	Currencies *chain.CurrencyResolver
}

// NewService wires the reconciler. A nil issuer or simulator falls back to the
// static sandbox implementation.
func NewService(ledgerBackend ledger.Ledger, issuer CardIssuer, simulator PaymentSimulator, opts Options) (*Service, error) {
	if ledgerBackend == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if issuer == nil {
		issuer = StaticIssuer{}
	}
	if simulator == nil {
		simulator = StaticIssuer{}
	}
	if opts.Currencies == nil {
		opts.Currencies = chain.NewCurrencyResolver()
	}
	return &Service{
		ledger:     ledgerBackend,
		issuer:     issuer,
		simulator:  simulator,
		notifier:   opts.Notifier,
		currencies: opts.Currencies,
		metrics:    opts.Metrics,
		log:        logging.Component(opts.Logger, "reconciler"),
	}, nil
}

// NewID returns a random identifier that fits the contract's uint256 id: the
// 128-bit value of a UUIDv4 rendered in decimal.
func NewID() string {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:]).String()
}

// NormalizeSender renders a hex address in EIP-55 checksum form. Values that
// are not addresses are returned unchanged.
func NormalizeSender(raw string) string {
	if !common.IsHexAddress(raw) {
		return raw
	}
	return common.HexToAddress(raw).Hex()
}

// Create stores a fresh funding with no event, card or payment data.
func (s *Service) Create(ctx context.Context) (ledger.Funding, error) {
	var lastErr error
	for range maxCreateTries {
		now := time.Now().UTC()
		rec := ledger.Funding{ID: NewID(), CreatedAt: now, UpdatedAt: now}
		err := s.ledger.Create(ctx, rec)
		if err == nil {
			s.log.InfoContext(ctx, "funding created", slog.String("funding_id", rec.ID))
			return rec, nil
		}
		if !errors.Is(err, ledger.ErrDuplicateFunding) {
			return ledger.Funding{}, fmt.Errorf("create funding: %w", err)
		}
		lastErr = err
	}
	return ledger.Funding{}, fmt.Errorf("create funding: %w", lastErr)
}

// Get returns the funding or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (ledger.Funding, error) {
	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return ledger.Funding{}, err
	}
	return rec, nil
}

// HandleFundedEvent records a Funded event and issues the funding's card if it
// has none yet. It is safe to call repeatedly for the same event: the card is
// created inside the per-id critical section and only while no token exists.
//
// Issuance failures are absorbed: the event fields are committed without a
// card and the next delivery retries. Only ledger failures are returned.
func (s *Service) HandleFundedEvent(ctx context.Context, event chain.FundedEvent) error {
	if event.CurrencyCode != "" && !s.currencies.Supports(event.CurrencyCode) {
		s.metrics.UnsupportedCurrency()
		s.log.WarnContext(ctx, "unsupported currency code, storing none",
			slog.String("funding_id", event.FundingID),
			slog.String("currency_code", event.CurrencyCode),
		)
		event.CurrencyCode = ""
	}

	var (
		issued    bool
		issueErr  error
		hadCard   bool
		issuedFor string
	)

	rec, err := s.ledger.Mutate(ctx, event.FundingID, true, func(f *ledger.Funding) error {
		issued, issueErr, hadCard = false, nil, false

		f.EventReceived = true
		f.FiatAmount = event.FiatAmount
		f.CurrencyCode = event.CurrencyCode
		if event.TxSender != "" {
			f.TxSender = NormalizeSender(event.TxSender)
		}

		if f.HasCard() {
			hadCard = true
			return nil
		}

		label := f.TxSender
		if label == "" {
			label = DefaultCardLabel
		}
		card, err := s.issuer.CreateVirtualCard(ctx, label)
		if err != nil {
			issueErr = err
			return nil
		}
		if card.Token == "" {
			issueErr = fmt.Errorf("%w: issued card has no token", ErrInvariantViolation)
			return nil
		}

		f.CardToken = card.Token
		f.CardLastFour = card.LastFour
		f.CardExpMonth = card.ExpMonth
		f.CardExpYear = card.ExpYear
		f.CardState = card.State
		f.CardPAN = card.PAN
		f.CardCVV = card.CVV
		issued, issuedFor = true, label
		return nil
	})
	if err != nil {
		return fmt.Errorf("record funded event %s: %w", event.FundingID, err)
	}

	attrs := []any{
		slog.String("funding_id", rec.ID),
		slog.Int64("fiat_amount", rec.FiatAmount),
		slog.String("currency_code", rec.CurrencyCode),
	}
	switch {
	case hadCard:
		s.metrics.CardIssuance(metrics.IssuanceSkipped)
		s.log.InfoContext(ctx, "funded event already has a card", attrs...)
	case issueErr != nil:
		s.metrics.CardIssuance(metrics.IssuanceFailed)
		s.log.WarnContext(ctx, "card issuance failed, will retry on next delivery", append(attrs, slog.Any("error", issueErr))...)
	case issued:
		s.metrics.CardIssuance(metrics.IssuanceIssued)
		s.log.InfoContext(ctx, "virtual card issued", append(attrs, slog.String("card_last_four", rec.CardLastFour))...)
		s.notify(ctx, notification.Message{
			Kind:        notification.KindCardIssued,
			FundingID:   rec.ID,
			Destination: rec.TxSender,
			Body:        fmt.Sprintf("virtual card ending %s issued for %s", rec.CardLastFour, issuedFor),
		})
	}
	return nil
}

// SimulateInput describes the purchase to simulate.
type SimulateInput struct {
	Descriptor string
	MCC        string
}

// SimulateResult is the outcome of a simulated purchase.
type SimulateResult struct {
	FundingID          string
	Amount             int64
	CurrencyCode       string
	AuthorizationToken string
	Cleared            bool
	ClearingDebugID    string
	// AlreadyCleared is set when the stored outcome of an earlier call is returned.
	AlreadyCleared bool
}

// Simulate authorizes and clears a purchase of the funded amount against the
// funding's card.
//
// A funding that already cleared returns its stored outcome without calling the
// provider. A funding that was authorized but failed to clear skips the
// authorization and only retries clearing.
func (s *Service) Simulate(ctx context.Context, id string, input SimulateInput) (SimulateResult, error) {
	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return SimulateResult{}, err
	}
	if rec.CardPAN == "" {
		s.metrics.Simulation(metrics.SimulationPreconditionFailed)
		return SimulateResult{}, fmt.Errorf("%w: funding %s", ErrPreconditionFailed, id)
	}
	if rec.Cleared {
		s.metrics.Simulation(metrics.SimulationAlreadyCleared)
		res := resultFrom(rec)
		res.AlreadyCleared = true
		return res, nil
	}

	if rec.AuthorizationToken == "" {
		rec, err = s.authorize(ctx, id, input)
		if err != nil {
			return SimulateResult{}, err
		}
	} else {
		s.log.InfoContext(ctx, "retrying clearing for authorized funding", slog.String("funding_id", id))
	}
	if rec.Cleared {
		res := resultFrom(rec)
		res.AlreadyCleared = true
		return res, nil
	}

	rec, err = s.clear(ctx, id)
	if err != nil {
		return SimulateResult{}, err
	}
	return resultFrom(rec), nil
}

func (s *Service) authorize(ctx context.Context, id string, input SimulateInput) (ledger.Funding, error) {
	rec, err := s.ledger.Mutate(ctx, id, false, func(f *ledger.Funding) error {
		if f.CardPAN == "" {
			return fmt.Errorf("%w: funding %s", ErrPreconditionFailed, id)
		}
		// A concurrent caller may have authorized while we waited on the lock.
		if f.AuthorizationToken != "" || f.Cleared {
			return nil
		}

		currency := f.CurrencyCode
		if currency == "" {
			currency = defaultCurrency
		}
		auth, err := s.simulator.SimulateAuthorization(ctx, AuthorizationRequest{
			Amount:           f.FiatAmount,
			MerchantAmount:   f.FiatAmount,
			Descriptor:       input.Descriptor,
			PAN:              f.CardPAN,
			MCC:              input.MCC,
			MerchantCurrency: currency,
		})
		if err != nil {
			return fmt.Errorf("%w: authorize: %w", ErrUpstream, err)
		}
		if auth.Token == "" {
			return fmt.Errorf("%w: authorization returned no token", ErrInvariantViolation)
		}
		f.AuthorizationToken = auth.Token
		return nil
	})
	if err != nil {
		s.simulationFailed(ctx, id, metrics.SimulationAuthorizationFailed, err)
		return ledger.Funding{}, err
	}
	s.log.InfoContext(ctx, "authorization simulated", slog.String("funding_id", id))
	return rec, nil
}

func (s *Service) clear(ctx context.Context, id string) (ledger.Funding, error) {
	var alreadyCleared bool
	rec, err := s.ledger.Mutate(ctx, id, false, func(f *ledger.Funding) error {
		if f.Cleared {
			alreadyCleared = true
			return nil
		}
		if f.AuthorizationToken == "" {
			return fmt.Errorf("%w: funding %s has no authorization", ErrInvariantViolation, id)
		}
		res, err := s.simulator.SimulateClearing(ctx, f.AuthorizationToken, f.FiatAmount)
		if err != nil {
			return fmt.Errorf("%w: clear: %w", ErrUpstream, err)
		}
		f.Cleared = true
		f.ClearingDebugID = res.DebugRequestID
		return nil
	})
	if err != nil {
		s.simulationFailed(ctx, id, metrics.SimulationClearingFailed, err)
		return ledger.Funding{}, err
	}
	if alreadyCleared {
		s.metrics.Simulation(metrics.SimulationAlreadyCleared)
		return rec, nil
	}

	s.metrics.Simulation(metrics.SimulationCleared)
	s.log.InfoContext(ctx, "funding cleared", slog.String("funding_id", id), slog.Int64("fiat_amount", rec.FiatAmount))
	s.notify(ctx, notification.Message{
		Kind:        notification.KindFundingCleared,
		FundingID:   rec.ID,
		Destination: rec.TxSender,
		Body:        fmt.Sprintf("purchase of %d %s cleared", rec.FiatAmount, currencyOrDefault(rec.CurrencyCode)),
	})
	return rec, nil
}

func (s *Service) simulationFailed(ctx context.Context, id, outcome string, err error) {
	if errors.Is(err, ErrPreconditionFailed) {
		outcome = metrics.SimulationPreconditionFailed
	}
	s.metrics.Simulation(outcome)
	s.log.WarnContext(ctx, "simulation failed",
		slog.String("funding_id", id),
		slog.String("outcome", outcome),
		slog.Any("error", err),
	)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.WarnContext(ctx, "send notification", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

func resultFrom(rec ledger.Funding) SimulateResult {
	return SimulateResult{
		FundingID:          rec.ID,
		Amount:             rec.FiatAmount,
		CurrencyCode:       currencyOrDefault(rec.CurrencyCode),
		AuthorizationToken: rec.AuthorizationToken,
		Cleared:            rec.Cleared,
		ClearingDebugID:    rec.ClearingDebugID,
	}
}

func currencyOrDefault(code string) string {
	if code == "" {
		return defaultCurrency
	}
	return code
}
