package hyperfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

// bookServer is an in-process l2Book endpoint: it records the subscription
// request and pushes frames to the connected client.
type bookServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu        sync.Mutex
	conn      *websocket.Conn
	subscribe chan subscribeRequest
}

func newBookServer(t *testing.T) *bookServer {
	t.Helper()
	s := &bookServer{t: t, subscribe: make(chan subscribeRequest, 1)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.close)
	return s
}

func (s *bookServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if json.Unmarshal(data, &req) == nil && req.Method == "subscribe" {
			select {
			case s.subscribe <- req:
			default:
			}
		}
	}
}

func (s *bookServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *bookServer) push(frame string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(s.t, conn)
	require.NoError(s.t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (s *bookServer) dropClient() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *bookServer) close() {
	s.dropClient()
	s.srv.Close()
}

func newConnectedFeed(t *testing.T, s *bookServer) *Feed {
	t.Helper()
	f, err := New(Config{
		VenueName:         "hyperliquid",
		Endpoint:          s.url(),
		Coin:              "xyz:NVDA",
		ClipContracts:     0.01,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 2 * time.Second,
		Logger:            nopLogger{},
	})
	require.NoError(t, err)
	require.NoError(t, f.Connect(context.Background()))
	t.Cleanup(func() { f.Disconnect() })
	return f
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConnect_SendsSubscription(t *testing.T) {
	s := newBookServer(t)
	f := newConnectedFeed(t, s)
	assert.True(t, f.IsHealthy())

	select {
	case req := <-s.subscribe:
		assert.Equal(t, "subscribe", req.Method)
		assert.Equal(t, "l2Book", req.Subscription.Type)
		assert.Equal(t, "xyz:NVDA", req.Subscription.Coin)
	case <-time.After(time.Second):
		t.Fatal("no subscription received")
	}
}

func TestReadLoop_AppliesBookFrames(t *testing.T) {
	s := newBookServer(t)
	f := newConnectedFeed(t, s)

	s.push(`{
		"channel": "l2Book",
		"data": {
			"coin": "xyz:NVDA",
			"time": 1756560000000,
			"levels": [
				[{"px": "100.30", "sz": "4", "n": 2}, {"px": "100.28", "sz": "9", "n": 1}],
				[{"px": "100.32", "sz": "3", "n": 2}, {"px": "100.34", "sz": "7", "n": 3}]
			]
		}
	}`)

	waitFor(t, time.Second, func() bool {
		_, ok := f.LatestQuote()
		return ok
	})

	quote, ok := f.LatestQuote()
	require.True(t, ok)
	assert.Equal(t, 100.30, quote.Bid)
	assert.Equal(t, 100.32, quote.Ask)
	require.Len(t, quote.Bids, 2)
	require.Len(t, quote.Asks, 2)
	assert.Equal(t, time.UnixMilli(1756560000000), quote.Timestamp)

	slip, ok := f.EstimatedSlippage()
	require.True(t, ok)
	assert.InDelta(t, 0, slip.Buy, 1e-12)
	assert.InDelta(t, 0, slip.Sell, 1e-12)
}

func TestReadLoop_IgnoresOtherChannelsAndCoins(t *testing.T) {
	s := newBookServer(t)
	f := newConnectedFeed(t, s)

	s.push(`{"channel": "pong"}`)
	s.push(`{"channel": "l2Book", "data": {"coin": "OTHER", "time": 1, "levels": [[], []]}}`)
	s.push(`not json at all`)

	// None of the frames produce a quote; the stream stays healthy.
	time.Sleep(20 * time.Millisecond)
	_, ok := f.LatestQuote()
	assert.False(t, ok)
	assert.True(t, f.IsHealthy())
}

func TestServerClose_FiresDisconnectCallback(t *testing.T) {
	s := newBookServer(t)
	f := newConnectedFeed(t, s)

	dropped := make(chan struct{})
	var once sync.Once
	f.OnDisconnect(func() { once.Do(func() { close(dropped) }) })

	s.dropClient()

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not fired")
	}
	assert.False(t, f.IsHealthy())
}

func TestDisconnect_DoesNotFireCallback(t *testing.T) {
	s := newBookServer(t)
	f := newConnectedFeed(t, s)

	var fired bool
	var mu sync.Mutex
	f.OnDisconnect(func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	require.NoError(t, f.Disconnect())
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestParseLevels_DropsMalformedEntries(t *testing.T) {
	levels := parseLevels([]wireLevel{
		{Px: "100.30", Sz: "4"},
		{Px: "zero", Sz: "4"},
		{Px: "100.28", Sz: "??"},
		{Px: "-1", Sz: "4"},
	})
	require.Len(t, levels, 1)
	assert.Equal(t, domain.PriceLevel{Price: 100.30, Volume: 4}, levels[0])
}
