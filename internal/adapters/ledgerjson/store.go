// Package ledgerjson persists the position ledger as a JSON document and
// tolerates the legacy on-disk shapes earlier versions wrote.
package ledgerjson

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// Store reads and writes the ledger file. Writes are atomic via a temp
// file rename; a crash mid-save leaves the previous document intact.
type Store struct {
	path   string
	logger ports.Logger
}

// New creates a store for the given ledger path.
func New(path string, logger ports.Logger) (*Store, error) {
	if path == "" || logger == nil {
		return nil, ports.ErrConfigurationError
	}
	return &Store{path: path, logger: logger}, nil
}

// positionRecord shadows the fields that need field-level resolution:
// the direction token may be a legacy spelling and the exit spread may
// be absent entirely.
type positionRecord struct {
	domain.Position
	Direction         string   `json:"direction"`
	CurrentExitSpread *float64 `json:"current_exit_spread"`
}

type ledgerDocument struct {
	Positions       []positionRecord `json:"positions"`
	PositionCounter int              `json:"positionCounter"`
	LastSaved       time.Time        `json:"lastSaved"`
}

// Load reads the ledger. A missing file yields an empty snapshot. Three
// document shapes are accepted: the wrapped document, a bare list of
// positions, and a single bare position object.
func (s *Store) Load(ctx context.Context) (*domain.LedgerSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.LedgerSnapshot{}, nil
		}
		return nil, fmt.Errorf("reading ledger %s: %w", s.path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &domain.LedgerSnapshot{}, nil
	}

	var records []positionRecord
	counter := 0

	if trimmed[0] == '[' {
		// Legacy shape: a bare list of positions.
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parsing legacy ledger list %s: %w", s.path, err)
		}
	} else {
		var doc ledgerDocument
		// A wrapped document may carry only the counter or save timestamp
		// with no positions key at all.
		if err := json.Unmarshal(trimmed, &doc); err == nil &&
			(doc.Positions != nil || doc.PositionCounter > 0 || !doc.LastSaved.IsZero()) {
			records = doc.Positions
			counter = doc.PositionCounter
		} else {
			// Legacy shape: a single bare position object.
			var rec positionRecord
			if err := json.Unmarshal(trimmed, &rec); err != nil || rec.ID == "" {
				return nil, fmt.Errorf("parsing ledger %s: unrecognized document shape", s.path)
			}
			records = []positionRecord{rec}
		}
	}

	snap := &domain.LedgerSnapshot{
		Positions: make([]*domain.Position, 0, len(records)),
	}
	for i := range records {
		pos := s.resolveRecord(ctx, &records[i])
		snap.Positions = append(snap.Positions, pos)
		if seq := sequenceOf(pos.ID); seq > counter {
			counter = seq
		}
	}
	snap.PositionCounter = counter
	return snap, nil
}

// resolveRecord applies the documented fallbacks for legacy or corrupt
// fields. An unrecognized direction token resolves to B_TO_A with a
// warning; a missing exit spread defaults far below the exit target so a
// restored position cannot close on stale assumptions.
func (s *Store) resolveRecord(ctx context.Context, rec *positionRecord) *domain.Position {
	pos := rec.Position

	dir, ok := domain.ParseDirection(rec.Direction)
	if !ok {
		s.logger.Warn(ctx, "Unrecognized direction token in ledger, defaulting", map[string]interface{}{
			"id": pos.ID, "token": rec.Direction, "direction": string(dir),
		})
	}
	pos.Direction = dir

	if rec.CurrentExitSpread != nil {
		pos.CurrentExitSpread = *rec.CurrentExitSpread
	} else {
		pos.CurrentExitSpread = pos.ExitTarget - 1.0
	}

	if pos.Status != domain.StatusClosed {
		pos.Status = domain.StatusOpen
	}
	if len(pos.SpreadHistory) == 0 {
		pos.SpreadHistory = []float64{pos.EntrySpread}
	}
	return &pos
}

// sequenceOf extracts the numeric sequence from a position id, or 0.
func sequenceOf(id string) int {
	var seq int
	if _, err := fmt.Sscanf(id, "pos_%d", &seq); err != nil {
		return 0
	}
	return seq
}

// Save atomically replaces the ledger document.
func (s *Store) Save(ctx context.Context, snap *domain.LedgerSnapshot) error {
	doc := ledgerDocument{
		Positions:       make([]positionRecord, 0, len(snap.Positions)),
		PositionCounter: snap.PositionCounter,
		LastSaved:       snap.LastSaved,
	}
	if doc.LastSaved.IsZero() {
		doc.LastSaved = time.Now().UTC()
	}
	for _, pos := range snap.Positions {
		spread := pos.CurrentExitSpread
		doc.Positions = append(doc.Positions, positionRecord{
			Position:          *pos,
			Direction:         string(pos.Direction),
			CurrentExitSpread: &spread,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing ledger file: %w", err)
	}
	return nil
}
