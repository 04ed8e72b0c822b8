package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type mockExecutor struct {
	name   string
	fn     func(ctx context.Context, order domain.Order) (*domain.OrderFill, error)
	orders []domain.Order
}

func (m *mockExecutor) Name() string { return m.name }

func (m *mockExecutor) ExecuteOrder(ctx context.Context, order domain.Order) (*domain.OrderFill, error) {
	m.orders = append(m.orders, order)
	return m.fn(ctx, order)
}

func fillAt(price float64) func(ctx context.Context, order domain.Order) (*domain.OrderFill, error) {
	return func(_ context.Context, order domain.Order) (*domain.OrderFill, error) {
		return &domain.OrderFill{
			OrderID: "test", Venue: order.Venue, Symbol: order.Symbol,
			Side: order.Side, Contracts: order.Contracts, Price: price, Timestamp: time.Now(),
		}, nil
	}
}

func pairOrders() (domain.Order, domain.Order) {
	buy := domain.Order{Venue: "alpha", Symbol: "NVDAUSDT", Side: domain.Buy, Contracts: 0.01}
	sell := domain.Order{Venue: "beta", Symbol: "xyz:NVDA", Side: domain.Sell, Contracts: 0.01}
	return buy, sell
}

func TestExecutePair_Success(t *testing.T) {
	buyExec := &mockExecutor{name: "alpha", fn: fillAt(100.02)}
	sellExec := &mockExecutor{name: "beta", fn: fillAt(100.30)}
	c, err := New(nopLogger{}, map[string]ports.OrderExecutor{"alpha": buyExec, "beta": sellExec})
	require.NoError(t, err)

	buy, sell := pairOrders()
	res := c.ExecutePair(context.Background(), buy, sell, "pos_000001")

	assert.True(t, res.Success)
	assert.False(t, res.RequiresManualIntervention)
	assert.Equal(t, "pos_000001", res.Tag)
	require.NotNil(t, res.Buy)
	require.NotNil(t, res.Sell)
	assert.Equal(t, 100.02, res.Buy.Price)
	assert.Equal(t, 100.30, res.Sell.Price)

	// Buy leg must run first.
	require.Len(t, buyExec.orders, 1)
	require.Len(t, sellExec.orders, 1)
	assert.Equal(t, domain.Buy, buyExec.orders[0].Side)
}

func TestExecutePair_BuyLegFails(t *testing.T) {
	buyExec := &mockExecutor{name: "alpha", fn: func(context.Context, domain.Order) (*domain.OrderFill, error) {
		return nil, errors.New("rejected")
	}}
	sellExec := &mockExecutor{name: "beta", fn: fillAt(100.30)}
	c, err := New(nopLogger{}, map[string]ports.OrderExecutor{"alpha": buyExec, "beta": sellExec})
	require.NoError(t, err)

	buy, sell := pairOrders()
	res := c.ExecutePair(context.Background(), buy, sell, "t")

	assert.False(t, res.Success)
	assert.False(t, res.RequiresManualIntervention)
	assert.Nil(t, res.Buy)
	// The sell leg is never attempted after a buy failure.
	assert.Empty(t, sellExec.orders)
}

func TestExecutePair_SellLegFailureFlagsManualIntervention(t *testing.T) {
	buyExec := &mockExecutor{name: "alpha", fn: fillAt(100.02)}
	sellExec := &mockExecutor{name: "beta", fn: func(context.Context, domain.Order) (*domain.OrderFill, error) {
		return nil, errors.New("venue down")
	}}
	c, err := New(nopLogger{}, map[string]ports.OrderExecutor{"alpha": buyExec, "beta": sellExec})
	require.NoError(t, err)

	buy, sell := pairOrders()
	res := c.ExecutePair(context.Background(), buy, sell, "t")

	assert.False(t, res.Success)
	assert.True(t, res.RequiresManualIntervention)
	require.NotNil(t, res.Buy)
	assert.Nil(t, res.Sell)
	assert.Contains(t, res.Error, "venue down")
	// No compensation configured: only the one buy order on alpha.
	assert.Len(t, buyExec.orders, 1)
}

func TestExecutePair_SimulatedCompensationReversesBuy(t *testing.T) {
	buyExec := &mockExecutor{name: "alpha", fn: fillAt(100.02)}
	sellExec := &mockExecutor{name: "beta", fn: func(context.Context, domain.Order) (*domain.OrderFill, error) {
		return nil, errors.New("venue down")
	}}
	c, err := New(nopLogger{}, map[string]ports.OrderExecutor{"alpha": buyExec, "beta": sellExec},
		WithSimulatedCompensation())
	require.NoError(t, err)

	buy, sell := pairOrders()
	res := c.ExecutePair(context.Background(), buy, sell, "t")

	// Still a failure needing attention; compensation only rebalances the
	// simulated portfolio.
	assert.False(t, res.Success)
	assert.True(t, res.RequiresManualIntervention)
	require.Len(t, buyExec.orders, 2)
	assert.Equal(t, domain.Buy, buyExec.orders[0].Side)
	assert.Equal(t, domain.Sell, buyExec.orders[1].Side)
	assert.Equal(t, buy.Contracts, buyExec.orders[1].Contracts)
}

func TestExecutePair_MissingExecutor(t *testing.T) {
	sellExec := &mockExecutor{name: "beta", fn: fillAt(100.30)}
	c, err := New(nopLogger{}, map[string]ports.OrderExecutor{"beta": sellExec})
	require.NoError(t, err)

	buy, sell := pairOrders()
	res := c.ExecutePair(context.Background(), buy, sell, "t")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ports.ErrExecutorNotConfigured.Error())
}

func TestExecutePair_LegTimeout(t *testing.T) {
	slow := &mockExecutor{name: "alpha", fn: func(ctx context.Context, _ domain.Order) (*domain.OrderFill, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	sellExec := &mockExecutor{name: "beta", fn: fillAt(100.30)}
	c, err := New(nopLogger{}, map[string]ports.OrderExecutor{"alpha": slow, "beta": sellExec},
		WithLegTimeout(20*time.Millisecond))
	require.NoError(t, err)

	buy, sell := pairOrders()
	res := c.ExecutePair(context.Background(), buy, sell, "t")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ports.ErrTimeout.Error())
	assert.Empty(t, sellExec.orders)
}
