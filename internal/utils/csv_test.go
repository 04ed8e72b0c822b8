package utils

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain"
)

func TestWriteTradesToCSV(t *testing.T) {
	entry := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	exit := entry.Add(90 * time.Second)
	closed := &domain.Position{
		ID:                "pos_000001",
		Direction:         domain.AToB,
		EntryTime:         entry,
		Contracts:         0.01,
		EntryPrices:       domain.LegPrices{Buy: 100.02, Sell: 100.30},
		EntrySpread:       0.2799,
		CurrentExitSpread: -0.015,
		ExitTime:          &exit,
		ExitReason:        "Exit target reached",
		ExitPrices:        &domain.LegPrices{Buy: 100.10, Sell: 100.12},
		FinalPnL:          &domain.PnLBreakdown{Gross: 0.003, Fees: 0.0004, Net: 0.0026, ReturnPercent: 0.26},
	}
	open := &domain.Position{ID: "pos_000002", Direction: domain.BToA, Status: domain.StatusOpen}

	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, WriteTradesToCSV([]*domain.Position{closed, open}, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	// Header plus the one closed trade; the open position is skipped.
	require.Len(t, rows, 2)
	assert.Equal(t, "position_id", rows[0][0])
	assert.Len(t, rows[0], 16)

	row := rows[1]
	assert.Equal(t, "pos_000001", row[0])
	assert.Equal(t, "A_TO_B", row[1])
	assert.Equal(t, "0.01", row[2])
	assert.Equal(t, "2026-08-30T14:00:00Z", row[3])
	assert.Equal(t, "2026-08-30T14:01:30Z", row[4])
	assert.Equal(t, "Exit target reached", row[5])
	assert.Equal(t, "100.02", row[6])
	assert.Equal(t, "0.0026", row[14])
}

func TestWriteTradesToCSV_EmptyInputWritesHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, WriteTradesToCSV(nil, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
