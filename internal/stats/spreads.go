// Package stats accumulates session spread statistics from the engine's
// event stream.
package stats

import (
	"context"
	"math"
	"sync"
	"time"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// SpreadSeries summarizes the spread samples seen for one direction in
// one role (entry or exit) since session start.
type SpreadSeries struct {
	Count int
	Last  float64
	Min   float64
	Max   float64
	Mean  float64
}

func (s *SpreadSeries) observe(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = (s.Mean*float64(s.Count) + v) / float64(s.Count+1)
	s.Count++
	s.Last = v
}

type seriesKey struct {
	direction domain.Direction
	entry     bool
}

// SessionTracker consumes engine events and keeps running spread and
// trade statistics for the current process lifetime. It reads from the
// channel until the channel closes or its context ends; the engine drops
// events rather than block, so a stalled tracker never stalls trading.
type SessionTracker struct {
	logger ports.Logger

	mu              sync.Mutex
	started         time.Time
	series          map[seriesKey]*SpreadSeries
	positionsOpened int
	positionsClosed int
	sessionNetPnL   float64
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker(logger ports.Logger) *SessionTracker {
	return &SessionTracker{
		logger:  logger,
		started: time.Now(),
		series:  make(map[seriesKey]*SpreadSeries),
	}
}

// Run consumes the event stream until it closes or ctx is done.
func (t *SessionTracker) Run(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.consume(ev)
		}
	}
}

func (t *SessionTracker) consume(ev domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case domain.EventSpreadSample:
		key := seriesKey{direction: ev.Direction, entry: ev.Entry}
		s, ok := t.series[key]
		if !ok {
			s = &SpreadSeries{}
			t.series[key] = s
		}
		s.observe(ev.Spread)
	case domain.EventPositionOpened:
		t.positionsOpened++
	case domain.EventPositionClosed:
		t.positionsClosed++
		if ev.PnL != nil {
			t.sessionNetPnL += ev.PnL.Net
		}
	}
}

// Summary is a point-in-time view of the session.
type Summary struct {
	Uptime          time.Duration
	PositionsOpened int
	PositionsClosed int
	SessionNetPnL   float64
	EntrySpreads    map[domain.Direction]SpreadSeries
	ExitSpreads     map[domain.Direction]SpreadSeries
}

// Snapshot returns the accumulated statistics.
func (t *SessionTracker) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	sum := Summary{
		Uptime:          time.Since(t.started),
		PositionsOpened: t.positionsOpened,
		PositionsClosed: t.positionsClosed,
		SessionNetPnL:   t.sessionNetPnL,
		EntrySpreads:    make(map[domain.Direction]SpreadSeries),
		ExitSpreads:     make(map[domain.Direction]SpreadSeries),
	}
	for key, s := range t.series {
		if key.entry {
			sum.EntrySpreads[key.direction] = *s
		} else {
			sum.ExitSpreads[key.direction] = *s
		}
	}
	return sum
}

// Log writes the session summary to the logger, one line per direction
// and role plus one aggregate line.
func (t *SessionTracker) Log(ctx context.Context) {
	sum := t.Snapshot()
	t.logger.Info(ctx, "Session summary", map[string]interface{}{
		"uptimeSeconds":   sum.Uptime.Seconds(),
		"positionsOpened": sum.PositionsOpened,
		"positionsClosed": sum.PositionsClosed,
		"sessionNetPnL":   sum.SessionNetPnL,
	})
	logSeries := func(role string, m map[domain.Direction]SpreadSeries) {
		for dir, s := range m {
			if s.Count == 0 {
				continue
			}
			t.logger.Info(ctx, "Spread series", map[string]interface{}{
				"role": role, "direction": string(dir), "samples": s.Count,
				"lastPct": s.Last, "minPct": s.Min, "maxPct": s.Max, "meanPct": s.Mean,
			})
		}
	}
	logSeries("entry", sum.EntrySpreads)
	logSeries("exit", sum.ExitSpreads)
}
