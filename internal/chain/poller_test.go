package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/payperplane/payperplane/internal/logging"
	"github.com/payperplane/payperplane/internal/metrics"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeReader struct {
	mu        sync.Mutex
	tip       uint64
	tipErr    error
	logs      []types.Log
	senders   map[common.Hash]string
	senderErr error
	calls     int
}

func (r *fakeReader) BlockNumber(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.tip, r.tipErr
}

func (r *fakeReader) FundedLogs(_ context.Context, _ common.Address, from, to uint64) ([]types.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var out []types.Log
	for _, lg := range r.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (r *fakeReader) TransactionSender(_ context.Context, hash common.Hash) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.senderErr != nil {
		return "", r.senderErr
	}
	return r.senders[hash], nil
}

func (r *fakeReader) setTip(tip uint64) {
	r.mu.Lock()
	r.tip = tip
	r.mu.Unlock()
}

type recordingHandler struct {
	mu     sync.Mutex
	events []FundedEvent
	failOn map[string]int // funding id -> remaining failures
}

func (h *recordingHandler) HandleFundedEvent(_ context.Context, ev FundedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := h.failOn[ev.FundingID]; n > 0 {
		h.failOn[ev.FundingID] = n - 1
		return errors.New("issuer unavailable")
	}
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.FundingID)
	}
	return out
}

type memoryCursor struct {
	block uint64
	ok    bool
}

func (c *memoryCursor) Load(context.Context) (uint64, bool, error) { return c.block, c.ok, nil }
func (c *memoryCursor) Save(_ context.Context, block uint64) error {
	c.block, c.ok = block, true
	return nil
}

func fundedLog(id, amount int64, currency string, block uint64, txByte byte) types.Log {
	return types.Log{
		Address: testContract,
		Topics: []common.Hash{
			FundedEventTopic,
			common.BigToHash(big.NewInt(id)),
			common.BigToHash(big.NewInt(amount)),
			Keccak256([]byte(currency)),
		},
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{txByte}),
	}
}

func newTestPoller(reader Reader, handler EventHandler, cfg PollerConfig) *Poller {
	if cfg.Contract == (common.Address{}) {
		cfg.Contract = testContract
	}
	cfg.Logger = logging.Discard()
	return NewPoller(reader, handler, NewCurrencyResolver(), cfg)
}

func TestRunOnceDeliversFundedEvent(t *testing.T) {
	ctx := context.Background()
	reader := &fakeReader{tip: 99, senders: map[common.Hash]string{}}
	handler := &recordingHandler{}
	p := newTestPoller(reader, handler, PollerConfig{})

	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	if last, ok := p.LastBlock(); !ok || last != 99 {
		t.Fatalf("expected cursor initialised at tip 99, got %d (ok=%v)", last, ok)
	}

	lg := fundedLog(42, 1000, "USD", 100, 0x01)
	reader.senders[lg.TxHash] = "0xabc"
	reader.logs = append(reader.logs, lg)
	reader.setTip(100)

	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(handler.events) != 1 {
		t.Fatalf("expected one event, got %d", len(handler.events))
	}
	ev := handler.events[0]
	if ev.FundingID != "42" || ev.FiatAmount != 1000 || ev.CurrencyCode != "USD" || ev.TxSender != "0xabc" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.BlockNumber != 100 {
		t.Fatalf("expected block 100, got %d", ev.BlockNumber)
	}
	if last, _ := p.LastBlock(); last != 100 {
		t.Fatalf("expected last block 100, got %d", last)
	}
}

func TestRunOnceKeepsCursorWhenRangeFails(t *testing.T) {
	ctx := context.Background()
	reader := &fakeReader{
		tip: 103,
		logs: []types.Log{
			fundedLog(1, 100, "USD", 101, 0x01),
			fundedLog(2, 200, "EUR", 102, 0x02),
			fundedLog(3, 300, "GBP", 103, 0x03),
		},
		senders: map[common.Hash]string{},
	}
	handler := &recordingHandler{failOn: map[string]int{"3": 1}}
	p := newTestPoller(reader, handler, PollerConfig{Cursor: &memoryCursor{block: 100, ok: true}})

	err := p.RunOnce(ctx)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if last, _ := p.LastBlock(); last != 100 {
		t.Fatalf("cursor advanced past failed range: %d", last)
	}

	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if last, _ := p.LastBlock(); last != 103 {
		t.Fatalf("expected last block 103, got %d", last)
	}

	got := handler.ids()
	want := []string{"1", "2", "1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("expected deliveries %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected deliveries %v, got %v", want, got)
		}
	}
}

// cappedReader rejects log queries wider than max blocks, like hosted RPC
// providers do for eth_getLogs.
type cappedReader struct {
	*fakeReader
	max   uint64
	spans []uint64
}

func (r *cappedReader) FundedLogs(ctx context.Context, contract common.Address, from, to uint64) ([]types.Log, error) {
	span := to - from + 1
	r.spans = append(r.spans, span)
	if span > r.max {
		return nil, fmt.Errorf("query exceeds max block range %d", r.max)
	}
	return r.fakeReader.FundedLogs(ctx, contract, from, to)
}

func TestRunOnceSplitsRangeIntoChunks(t *testing.T) {
	reader := &cappedReader{
		fakeReader: &fakeReader{
			tip:     200000,
			logs:    []types.Log{fundedLog(5, 500, "EUR", 150500, 0x05)},
			senders: map[common.Hash]string{},
		},
		max: 2000,
	}
	handler := &recordingHandler{failOn: map[string]int{"5": 1}}
	cursor := &memoryCursor{block: 100000, ok: true}
	p := newTestPoller(reader, handler, PollerConfig{Cursor: cursor, MaxBlockRange: 2000})

	if err := p.RunOnce(context.Background()); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error from the failing chunk, got %v", err)
	}
	if last, _ := p.LastBlock(); last != 150000 {
		t.Fatalf("expected cursor to stop before the failing chunk at 150000, got %d", last)
	}
	if cursor.block != 150000 {
		t.Fatalf("expected saved cursor 150000, got %d", cursor.block)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if last, _ := p.LastBlock(); last != 200000 {
		t.Fatalf("expected last block 200000, got %d", last)
	}
	if cursor.block != 200000 {
		t.Fatalf("expected saved cursor 200000, got %d", cursor.block)
	}
	if got := handler.ids(); len(got) != 1 || got[0] != "5" {
		t.Fatalf("expected one delivery of funding 5, got %v", got)
	}
	for _, span := range reader.spans {
		if span > 2000 {
			t.Fatalf("requested span %d exceeds the cap", span)
		}
	}
	// 26 chunks on the first pass (the last one failing), 25 on the retry.
	if len(reader.spans) != 51 {
		t.Fatalf("expected 51 log queries, got %d", len(reader.spans))
	}
}

func TestRunOnceWithoutCapQueriesWholeRange(t *testing.T) {
	reader := &cappedReader{fakeReader: &fakeReader{tip: 200000}, max: 2000}
	p := newTestPoller(reader, &recordingHandler{}, PollerConfig{Cursor: &memoryCursor{block: 100000, ok: true}})

	if err := p.RunOnce(context.Background()); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if last, _ := p.LastBlock(); last != 100000 {
		t.Fatalf("expected cursor to stay at 100000, got %d", last)
	}
	if len(reader.spans) != 1 || reader.spans[0] != 100000 {
		t.Fatalf("expected a single query over 100000 blocks, got %v", reader.spans)
	}
}

func TestRunOnceSenderLookupFailureIsNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	reader := &fakeReader{
		tip:       5,
		logs:      []types.Log{fundedLog(9, 50, "SGD", 5, 0x09)},
		senderErr: ErrTransactionNotFound,
	}
	handler := &recordingHandler{}
	p := newTestPoller(reader, handler, PollerConfig{Cursor: &memoryCursor{block: 4, ok: true}, Metrics: m})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(handler.events) != 1 {
		t.Fatalf("expected event to be delivered, got %d", len(handler.events))
	}
	if handler.events[0].TxSender != "" {
		t.Fatalf("expected empty sender, got %q", handler.events[0].TxSender)
	}
	expected := `
# HELP payperplane_poller_sender_lookup_failures_total Transaction lookups that failed while resolving the event sender.
# TYPE payperplane_poller_sender_lookup_failures_total counter
payperplane_poller_sender_lookup_failures_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "payperplane_poller_sender_lookup_failures_total"); err != nil {
		t.Fatalf("sender lookup metric: %v", err)
	}
}

func TestRunOnceUnknownCurrencyDeliversEmptyCode(t *testing.T) {
	reader := &fakeReader{tip: 2, logs: []types.Log{fundedLog(7, 10, "JPY", 2, 0x07)}}
	handler := &recordingHandler{}
	p := newTestPoller(reader, handler, PollerConfig{Cursor: &memoryCursor{block: 1, ok: true}})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(handler.events) != 1 || handler.events[0].CurrencyCode != "" {
		t.Fatalf("expected one event with empty currency, got %+v", handler.events)
	}
}

func TestRunOnceTipFailureLeavesCursorUninitialised(t *testing.T) {
	reader := &fakeReader{tipErr: errors.New("connection refused")}
	p := newTestPoller(reader, &recordingHandler{}, PollerConfig{})

	if err := p.RunOnce(context.Background()); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, ok := p.LastBlock(); ok {
		t.Fatal("cursor should stay uninitialised")
	}
}

func TestIdlePollerMakesNoCalls(t *testing.T) {
	reader := &fakeReader{tip: 10}
	p := NewPoller(reader, &recordingHandler{}, nil, PollerConfig{Logger: logging.Discard()})

	if !p.Idle() {
		t.Fatal("expected zero address poller to be idle")
	}
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if reader.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", reader.calls)
	}
}

func TestStartStop(t *testing.T) {
	reader := &fakeReader{tip: 1}
	p := newTestPoller(reader, &recordingHandler{}, PollerConfig{PollInterval: 5 * time.Millisecond})

	p.Start(context.Background())
	p.Start(context.Background()) // second start is a no-op

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := p.LastBlock(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller never initialised its cursor")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !p.Stop(time.Second) {
		t.Fatal("expected poller to stop in time")
	}
	if !p.Stop(time.Second) {
		t.Fatal("stopping a stopped poller should succeed")
	}
}
