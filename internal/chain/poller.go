package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/payperplane/payperplane/internal/logging"
	"github.com/payperplane/payperplane/internal/metrics"
)

// ErrTransient marks failures inside a poll iteration. They never reach a
// caller of the running loop; the same block range is retried on the next tick.
var ErrTransient = errors.New("transient chain error")

// EventHandler consumes decoded Funded events in block order.
type EventHandler interface {
	HandleFundedEvent(ctx context.Context, event FundedEvent) error
}

// PollerConfig controls the poll loop.
type PollerConfig struct {
	Contract     common.Address
	PollInterval time.Duration

	// MaxBlockRange caps the span of a single log query. Zero scans up to the
	// tip in one query.
	MaxBlockRange uint64

	// Cursor is optional. When nil the poller starts from the chain tip on
	// every process start.
	Cursor CursorStore

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Poller scans the chain for Funded events emitted by one contract and feeds
// them to an EventHandler.
type Poller struct {
	reader   Reader
	handler  EventHandler
	resolver *CurrencyResolver
	cursor   CursorStore
	metrics  *metrics.Metrics
	log      *slog.Logger
	contract common.Address
	interval time.Duration
	maxRange uint64

	runMu sync.Mutex // serialises RunOnce

	mu          sync.Mutex
	lastBlock   uint64
	initialised bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewPoller wires a poller. A zero contract address makes the poller idle.
func NewPoller(reader Reader, handler EventHandler, resolver *CurrencyResolver, cfg PollerConfig) *Poller {
	if resolver == nil {
		resolver = NewCurrencyResolver()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Poller{
		reader:   reader,
		handler:  handler,
		resolver: resolver,
		cursor:   cfg.Cursor,
		metrics:  cfg.Metrics,
		log:      logging.Component(cfg.Logger, "poller"),
		contract: cfg.Contract,
		interval: cfg.PollInterval,
		maxRange: cfg.MaxBlockRange,
	}
}

// Start launches the background loop and returns immediately. The chain tip
// is queried from inside the loop so process startup never waits on the provider.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, p.done)

	p.log.Info("poller started",
		slog.String("contract", p.contract.Hex()),
		slog.Duration("interval", p.interval),
		slog.Bool("idle", p.Idle()),
	)
}

// Stop signals the loop and waits up to timeout for it to exit. It reports
// whether the loop finished in time; in-flight calls are never interrupted.
func (p *Poller) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		p.log.Info("poller stopped")
		return true
	case <-time.After(timeout):
		p.log.Warn("poller did not stop in time", slog.Duration("timeout", timeout))
		return false
	}
}

// Idle reports whether the poller was configured with the placeholder address.
func (p *Poller) Idle() bool {
	return p.contract == (common.Address{})
}

// LastBlock returns the highest block already scanned and whether the cursor
// has been initialised.
func (p *Poller) LastBlock() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBlock, p.initialised
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		// Cancellation is only observed between iterations; the work itself
		// runs on a context that outlives the stop signal.
		p.tick(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if p.Idle() {
		p.metrics.PollIteration(metrics.PollResultIdle)
		return
	}
	if err := p.RunOnce(ctx); err != nil {
		p.metrics.PollIteration(metrics.PollResultError)
		from, _ := p.LastBlock()
		p.log.Warn("poll iteration failed, range will be retried",
			slog.Uint64("from_block", from+1),
			slog.Any("error", err),
		)
		return
	}
	p.metrics.PollIteration(metrics.PollResultOK)
}

// RunOnce performs a single poll iteration: it scans [lastBlock+1, tip] and
// hands every Funded event to the handler in provider order. With a
// MaxBlockRange the span is split into chunks and the cursor advances after
// each chunk; a failed chunk is re-delivered from its first block.
func (p *Poller) RunOnce(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.Idle() {
		return nil
	}

	lastBlock, initialised := p.LastBlock()
	if !initialised {
		start, err := p.initialBlock(ctx)
		if err != nil {
			return err
		}
		p.setLastBlock(start)
		lastBlock = start
		p.log.Info("poller cursor initialised", slog.Uint64("last_block", start))
	}

	latest, err := p.reader.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch block number: %w", ErrTransient, err)
	}

	for from := lastBlock + 1; from <= latest; {
		to := latest
		if p.maxRange > 0 && latest-from >= p.maxRange {
			to = from + p.maxRange - 1
		}
		if err := p.scanRange(ctx, from, to); err != nil {
			return err
		}
		p.advance(ctx, to)
		from = to + 1
	}
	return nil
}

func (p *Poller) scanRange(ctx context.Context, from, to uint64) error {
	p.log.Debug("checking for Funded events", slog.Uint64("from_block", from), slog.Uint64("to_block", to))

	logs, err := p.reader.FundedLogs(ctx, p.contract, from, to)
	if err != nil {
		return fmt.Errorf("%w: fetch logs [%d,%d]: %w", ErrTransient, from, to, err)
	}

	for _, lg := range logs {
		event, err := DecodeFundedLog(lg, p.resolver)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}

		sender, err := p.reader.TransactionSender(ctx, lg.TxHash)
		if err != nil {
			// The sender is best-effort: the event is still delivered without it.
			p.metrics.SenderLookupFailed()
			p.log.Warn("transaction lookup failed",
				slog.String("tx_hash", lg.TxHash.Hex()),
				slog.Any("error", err),
			)
			sender = ""
		}
		event.TxSender = sender

		p.log.Info("funded event found",
			slog.String("funding_id", event.FundingID),
			slog.Int64("fiat_amount", event.FiatAmount),
			slog.String("currency_code", event.CurrencyCode),
			slog.Uint64("block", event.BlockNumber),
		)

		if err := p.handler.HandleFundedEvent(ctx, event); err != nil {
			return fmt.Errorf("%w: handle funded event %s: %w", ErrTransient, event.FundingID, err)
		}
		p.metrics.EventHandled()
	}
	return nil
}

func (p *Poller) advance(ctx context.Context, block uint64) {
	p.setLastBlock(block)
	if p.cursor == nil {
		return
	}
	if err := p.cursor.Save(ctx, block); err != nil {
		p.log.Warn("persist poller cursor", slog.Uint64("last_block", block), slog.Any("error", err))
	}
}

func (p *Poller) initialBlock(ctx context.Context) (uint64, error) {
	if p.cursor != nil {
		block, ok, err := p.cursor.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		if ok {
			return block, nil
		}
	}
	tip, err := p.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch initial block number: %w", ErrTransient, err)
	}
	return tip, nil
}

func (p *Poller) setLastBlock(block uint64) {
	p.mu.Lock()
	p.lastBlock = block
	p.initialised = true
	p.mu.Unlock()
	p.metrics.SetLastBlock(block)
}
