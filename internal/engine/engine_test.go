package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type fakeFeed struct {
	mu     sync.Mutex
	name   string
	quote  *domain.Quote
	slip   domain.SlippagePair
	slipOK bool
}

func (f *fakeFeed) Name() string    { return f.name }
func (f *fakeFeed) IsHealthy() bool { return true }

func (f *fakeFeed) Quote() (*domain.Quote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.quote != nil
}

func (f *fakeFeed) Slippage() (domain.SlippagePair, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slip, f.slipOK
}

func (f *fakeFeed) setQuote(bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote = &domain.Quote{Bid: bid, Ask: ask, Timestamp: time.Now()}
	f.slipOK = true
}

type pairCall struct {
	buy, sell domain.Order
	tag       string
}

type fakeExec struct {
	calls   []pairCall
	results []*domain.PairResult
}

func (f *fakeExec) ExecutePair(_ context.Context, buy, sell domain.Order, tag string) *domain.PairResult {
	f.calls = append(f.calls, pairCall{buy: buy, sell: sell, tag: tag})
	if len(f.results) == 0 {
		return &domain.PairResult{
			Success: true, Tag: tag,
			Buy:  &domain.OrderFill{Venue: buy.Venue, Side: domain.Buy, Contracts: buy.Contracts, Price: 100.0},
			Sell: &domain.OrderFill{Venue: sell.Venue, Side: domain.Sell, Contracts: sell.Contracts, Price: 100.2},
		}
	}
	res := f.results[0]
	f.results = f.results[1:]
	res.Tag = tag
	return res
}

type fakeRisk struct {
	rejectDirections map[domain.Direction]string
	clip             float64
	results          []float64
}

func (f *fakeRisk) CanOpen(_ context.Context, d domain.Direction, _, _, _, _ float64) (bool, string) {
	if reason, ok := f.rejectDirections[d]; ok {
		return false, reason
	}
	return true, "OK"
}

func (f *fakeRisk) SizeEntry(_, _, _ float64) float64 { return f.clip }

func (f *fakeRisk) RecordResult(_ context.Context, pnl, _ float64) {
	f.results = append(f.results, pnl)
}

type memLedger struct {
	saved   []*domain.LedgerSnapshot
	initial *domain.LedgerSnapshot
}

func (m *memLedger) Load(context.Context) (*domain.LedgerSnapshot, error) {
	if m.initial == nil {
		return &domain.LedgerSnapshot{}, nil
	}
	return m.initial, nil
}

func (m *memLedger) Save(_ context.Context, snap *domain.LedgerSnapshot) error {
	m.saved = append(m.saved, snap)
	return nil
}

type memTrades struct {
	recorded []*domain.Position
}

func (m *memTrades) RecordTrade(_ context.Context, pos *domain.Position) error {
	m.recorded = append(m.recorded, pos)
	return nil
}

func (m *memTrades) FindRecent(context.Context, int) ([]*domain.Position, error) {
	return m.recorded, nil
}

func (m *memTrades) TotalNetPnL(context.Context) (float64, error) { return 0, nil }

func testParams() Params {
	return Params{
		VenueA:            Venue{Name: "alpha", Symbol: "NVDAUSDT"},
		VenueB:            Venue{Name: "beta", Symbol: "xyz:NVDA"},
		EntryThresholdPct: 0.1,
		ExitTargetPct:     -0.02,
		MarketSlippage:    0,
		Fees:              map[string]float64{"alpha": 0.00006, "beta": 0.00005},
		MinOrderInterval:  time.Hour,
	}
}

type harness struct {
	engine *Engine
	feedA  *fakeFeed
	feedB  *fakeFeed
	exec   *fakeExec
	risk   *fakeRisk
	ledger *memLedger
	trades *memTrades
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	h := &harness{
		feedA:  &fakeFeed{name: "alpha"},
		feedB:  &fakeFeed{name: "beta"},
		exec:   &fakeExec{},
		risk:   &fakeRisk{clip: 0.01},
		ledger: &memLedger{},
		trades: &memTrades{},
	}
	eng, err := New(context.Background(), params, Deps{
		FeedA: h.feedA, FeedB: h.feedB, Exec: h.exec, Risk: h.risk,
		Ledger: h.ledger, Trades: h.trades, Logger: nopLogger{},
	})
	require.NoError(t, err)
	h.engine = eng
	return h
}

func TestComputeEntrySpreads_BothDirections(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)

	a, b := h.engine.snapshotBooks()
	spreads := h.engine.ComputeEntrySpreads(a, b)
	require.Len(t, spreads, 2)

	// Buy on A at 100.02, sell on B at 100.30.
	assert.InDelta(t, (100.30/100.02-1)*100, spreads[domain.AToB].SpreadPct, 1e-9)
	assert.Equal(t, "alpha", spreads[domain.AToB].BuyVenue)
	assert.Equal(t, "beta", spreads[domain.AToB].SellVenue)

	// The reverse direction is deeply negative, never positive with
	// non-crossed books.
	assert.InDelta(t, (100.00/100.32-1)*100, spreads[domain.BToA].SpreadPct, 1e-9)
}

func TestComputeEntrySpreads_MissingDataIsEmpty(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	// Feed B has no quote at all.
	a, b := h.engine.snapshotBooks()
	assert.Empty(t, h.engine.ComputeEntrySpreads(a, b))

	// A zero price is as unusable as no quote.
	h.feedB.setQuote(0, 100.32)
	a, b = h.engine.snapshotBooks()
	assert.Empty(t, h.engine.ComputeEntrySpreads(a, b))
}

func TestComputeEntrySpreads_AppliesSlippage(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)
	h.feedA.slip = domain.SlippagePair{Buy: 0.001, Sell: 0.001}
	h.feedB.slip = domain.SlippagePair{Buy: 0.002, Sell: 0.002}

	a, b := h.engine.snapshotBooks()
	spreads := h.engine.ComputeEntrySpreads(a, b)
	buyPrice := 100.02 * 1.001
	sellPrice := 100.30 * 0.998
	assert.InDelta(t, (sellPrice/buyPrice-1)*100, spreads[domain.AToB].SpreadPct, 1e-9)
}

func TestFindOpportunity_ScenarioBuyASellB(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)

	sd, ok := h.engine.FindOpportunity(context.Background())
	require.True(t, ok)
	assert.Equal(t, domain.AToB, sd.Direction)
	assert.InDelta(t, 0.2799, sd.SpreadPct, 1e-3)
}

func TestFindOpportunity_BelowThreshold(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.05, 100.07) // ~0.03%, under the 0.1% threshold

	_, ok := h.engine.FindOpportunity(context.Background())
	assert.False(t, ok)
}

func TestFindOpportunity_FallsThroughToNextDirection(t *testing.T) {
	params := testParams()
	params.EntryThresholdPct = -1.0 // both directions qualify on spread
	h := newHarness(t, params)
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)
	h.risk.rejectDirections = map[domain.Direction]string{domain.AToB: "Position full"}

	sd, ok := h.engine.FindOpportunity(context.Background())
	require.True(t, ok)
	// The wider direction was rejected by risk, the next one is taken.
	assert.Equal(t, domain.BToA, sd.Direction)
}

func TestExecuteOpportunity_CreatesAndPersistsPosition(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)
	h.exec.results = []*domain.PairResult{{
		Success: true,
		Buy:     &domain.OrderFill{Venue: "alpha", Price: 100.02, Contracts: 0.01},
		Sell:    &domain.OrderFill{Venue: "beta", Price: 100.30, Contracts: 0.01},
	}}

	sd, ok := h.engine.FindOpportunity(context.Background())
	require.True(t, ok)
	require.NoError(t, h.engine.ExecuteOpportunity(context.Background(), sd))

	open := h.engine.OpenPositions()
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, "pos_000001", pos.ID)
	assert.Equal(t, domain.AToB, pos.Direction)
	assert.Equal(t, 0.01, pos.Contracts)
	assert.Equal(t, 100.02, pos.EntryPrices.Buy)
	assert.Equal(t, 100.30, pos.EntryPrices.Sell)
	assert.Equal(t, -0.02, pos.ExitTarget)
	assert.Equal(t, []float64{pos.EntrySpread}, pos.SpreadHistory)

	require.Len(t, h.exec.calls, 1)
	assert.Equal(t, "alpha", h.exec.calls[0].buy.Venue)
	assert.Equal(t, "beta", h.exec.calls[0].sell.Venue)

	require.NotEmpty(t, h.ledger.saved)
	last := h.ledger.saved[len(h.ledger.saved)-1]
	assert.Equal(t, 1, last.PositionCounter)
	require.Len(t, last.Positions, 1)

	// The inter-order interval is consumed: no second entry immediately.
	_, ok = h.engine.FindOpportunity(context.Background())
	assert.False(t, ok)
}

func TestExecuteOpportunity_SellLegFailureCreatesNoPosition(t *testing.T) {
	h := newHarness(t, testParams())
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)
	h.exec.results = []*domain.PairResult{{
		Success:                    false,
		RequiresManualIntervention: true,
		Buy:                        &domain.OrderFill{Venue: "alpha", Price: 100.02},
		Error:                      "sell leg failed",
	}}

	sd, ok := h.engine.FindOpportunity(context.Background())
	require.True(t, ok)
	err := h.engine.ExecuteOpportunity(context.Background(), sd)
	require.Error(t, err)
	assert.Empty(t, h.engine.OpenPositions())
}

// openTestPosition drives a full entry through the engine.
func openTestPosition(t *testing.T, h *harness) *domain.Position {
	t.Helper()
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)
	h.exec.results = []*domain.PairResult{{
		Success: true,
		Buy:     &domain.OrderFill{Venue: "alpha", Price: 100.02, Contracts: 0.01},
		Sell:    &domain.OrderFill{Venue: "beta", Price: 100.30, Contracts: 0.01},
	}}
	sd, ok := h.engine.FindOpportunity(context.Background())
	require.True(t, ok)
	require.NoError(t, h.engine.ExecuteOpportunity(context.Background(), sd))
	open := h.engine.OpenPositions()
	require.Len(t, open, 1)
	return open[0]
}

func TestMonitorPositions_ClosesAtTarget(t *testing.T) {
	h := newHarness(t, testParams())
	pos := openTestPosition(t, h)

	// Books converge: exiting A_TO_B buys on B and sells on A, and the
	// exit spread reaches the target.
	h.feedA.setQuote(100.20, 100.22)
	h.feedB.setQuote(100.18, 100.20)
	h.exec.results = []*domain.PairResult{{
		Success: true,
		Buy:     &domain.OrderFill{Venue: "beta", Price: 100.20, Contracts: 0.01},
		Sell:    &domain.OrderFill{Venue: "alpha", Price: 100.20, Contracts: 0.01},
	}}

	h.engine.MonitorPositions(context.Background())

	assert.Empty(t, h.engine.OpenPositions())
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, "Exit target reached", pos.ExitReason)
	require.NotNil(t, pos.FinalPnL)
	require.Len(t, h.trades.recorded, 1)
	require.Len(t, h.risk.results, 1)
	assert.Equal(t, pos.FinalPnL.Net, h.risk.results[0])
}

func TestMonitorPositions_KeepsPreviousSpreadOnMissingData(t *testing.T) {
	h := newHarness(t, testParams())
	pos := openTestPosition(t, h)
	before := pos.CurrentExitSpread
	require.Less(t, before, pos.ExitTarget)

	h.feedB.mu.Lock()
	h.feedB.quote = nil
	h.feedB.mu.Unlock()

	h.engine.MonitorPositions(context.Background())

	assert.True(t, pos.IsOpen())
	assert.Equal(t, before, pos.CurrentExitSpread)
	assert.Equal(t, 1, pos.UpdateCount)
	assert.Empty(t, h.trades.recorded)
}

func TestTick_NewPositionSurvivesOpeningTick(t *testing.T) {
	params := testParams()
	// A target this deep is satisfied by any observable exit spread, so the
	// only thing keeping the position open on its first tick is the ordering
	// of monitoring before entry.
	params.ExitTargetPct = -10.0
	h := newHarness(t, params)
	h.feedA.setQuote(100.00, 100.02)
	h.feedB.setQuote(100.30, 100.32)

	h.engine.Tick(context.Background())

	require.Len(t, h.engine.OpenPositions(), 1)
	assert.Empty(t, h.trades.recorded)

	h.engine.Tick(context.Background())

	assert.Empty(t, h.engine.OpenPositions())
	require.Len(t, h.trades.recorded, 1)
	assert.Equal(t, "Exit target reached", h.trades.recorded[0].ExitReason)
}

func TestClosePosition_Idempotent(t *testing.T) {
	h := newHarness(t, testParams())
	pos := openTestPosition(t, h)

	h.exec.results = []*domain.PairResult{{
		Success: true,
		Buy:     &domain.OrderFill{Venue: "beta", Price: 100.20, Contracts: 0.01},
		Sell:    &domain.OrderFill{Venue: "alpha", Price: 100.20, Contracts: 0.01},
	}}
	require.NoError(t, h.engine.ClosePosition(context.Background(), pos, 0.0, "Manual"))
	callsAfterClose := len(h.exec.calls)

	// Second close is a no-op: no new execution, no double accounting.
	require.NoError(t, h.engine.ClosePosition(context.Background(), pos, 0.0, "Manual"))
	assert.Len(t, h.exec.calls, callsAfterClose)
	assert.Len(t, h.trades.recorded, 1)
	assert.Len(t, h.risk.results, 1)
}

func TestClosePosition_ExecutionFailureKeepsOpen(t *testing.T) {
	h := newHarness(t, testParams())
	pos := openTestPosition(t, h)

	h.exec.results = []*domain.PairResult{{Success: false, Error: "no liquidity"}}
	err := h.engine.ClosePosition(context.Background(), pos, 0.0, "Manual")
	require.Error(t, err)
	assert.True(t, pos.IsOpen())
	assert.Len(t, h.engine.OpenPositions(), 1)
	assert.Empty(t, h.trades.recorded)
}

func TestCalculateTradePnL_FourLegFees(t *testing.T) {
	h := newHarness(t, testParams())
	pos := &domain.Position{
		Direction:   domain.AToB,
		Contracts:   0.01,
		EntryPrices: domain.LegPrices{Buy: 100.02, Sell: 100.30},
	}
	exit := domain.LegPrices{Buy: 100.10, Sell: 100.05}

	pnl := h.engine.CalculateTradePnL(pos, exit)

	gross := (100.30-100.02)*0.01 + (100.05-100.10)*0.01
	assert.InDelta(t, gross, pnl.Gross, 1e-12)

	// Entry buy on alpha, entry sell on beta; the exit reverses venues.
	assert.InDelta(t, 100.02*0.01*0.00006, pnl.FeeBreakdown.EntryBuy, 1e-15)
	assert.InDelta(t, 100.30*0.01*0.00005, pnl.FeeBreakdown.EntrySell, 1e-15)
	assert.InDelta(t, 100.10*0.01*0.00005, pnl.FeeBreakdown.ExitBuy, 1e-15)
	assert.InDelta(t, 100.05*0.01*0.00006, pnl.FeeBreakdown.ExitSell, 1e-15)

	fees := pnl.FeeBreakdown.EntryBuy + pnl.FeeBreakdown.EntrySell + pnl.FeeBreakdown.ExitBuy + pnl.FeeBreakdown.ExitSell
	assert.InDelta(t, fees, pnl.Fees, 1e-15)
	assert.InDelta(t, gross-fees, pnl.Net, 1e-12)
	assert.InDelta(t, (gross-fees)/(100.02*0.01)*100, pnl.ReturnPercent, 1e-9)
}

func TestCalculateTradePnL_ZeroDenominator(t *testing.T) {
	h := newHarness(t, testParams())
	pos := &domain.Position{Direction: domain.AToB, Contracts: 0}
	pnl := h.engine.CalculateTradePnL(pos, domain.LegPrices{})
	assert.Zero(t, pnl.ReturnPercent)
}

func TestApplyConfig_RewritesExitTargets(t *testing.T) {
	h := newHarness(t, testParams())
	pos := openTestPosition(t, h)
	require.Equal(t, -0.02, pos.ExitTarget)
	saves := len(h.ledger.saved)

	params := testParams()
	params.ExitTargetPct = 0.05
	h.engine.ApplyConfig(context.Background(), params)

	assert.Equal(t, 0.05, pos.ExitTarget)
	assert.Greater(t, len(h.ledger.saved), saves)
}

func TestNew_RestoresOpenPositionsOnly(t *testing.T) {
	closedExit := time.Now()
	initial := &domain.LedgerSnapshot{
		PositionCounter: 9,
		Positions: []*domain.Position{
			{ID: "pos_000008", Direction: domain.AToB, Status: domain.StatusOpen, Contracts: 0.01},
			{ID: "pos_000009", Direction: domain.BToA, Status: domain.StatusClosed, Contracts: 0.01, ExitTime: &closedExit},
		},
	}
	h := &harness{
		feedA: &fakeFeed{name: "alpha"}, feedB: &fakeFeed{name: "beta"},
		exec: &fakeExec{}, risk: &fakeRisk{clip: 0.01},
		ledger: &memLedger{initial: initial}, trades: &memTrades{},
	}
	eng, err := New(context.Background(), testParams(), Deps{
		FeedA: h.feedA, FeedB: h.feedB, Exec: h.exec, Risk: h.risk,
		Ledger: h.ledger, Trades: h.trades, Logger: nopLogger{},
	})
	require.NoError(t, err)

	open := eng.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "pos_000008", open[0].ID)
	assert.Equal(t, 9, eng.Snapshot().PositionCounter)
}

func TestEvents_PublishedOnLifecycle(t *testing.T) {
	h := newHarness(t, testParams())
	openTestPosition(t, h)

	var opened bool
	for len(h.engine.Events()) > 0 {
		ev := <-h.engine.Events()
		if ev.Type == domain.EventPositionOpened {
			opened = true
			assert.Equal(t, "pos_000001", ev.PositionID)
		}
	}
	assert.True(t, opened)
}
