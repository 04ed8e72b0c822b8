package domain

import "strings"

// Direction identifies which venue each leg of a hedge executes on.
// It is fixed at position creation and never changes afterwards.
type Direction string

const (
	// AToB buys on venue A and sells on venue B.
	AToB Direction = "A_TO_B"
	// BToA buys on venue B and sells on venue A.
	BToA Direction = "B_TO_A"
)

// Directions enumerates both trade directions in a fixed order.
var Directions = []Direction{AToB, BToA}

// Opposite returns the direction that unwinds d.
func (d Direction) Opposite() Direction {
	if d == AToB {
		return BToA
	}
	return AToB
}

// IsValid reports whether d is one of the two known directions.
func (d Direction) IsValid() bool {
	return d == AToB || d == BToA
}

// directionTokens maps every spelling ever written to the ledger file to its
// canonical direction. Older builds persisted arrow forms.
var directionTokens = map[string]Direction{
	"A_TO_B": AToB,
	"B_TO_A": BToA,
	"A→B":    AToB,
	"B→A":    BToA,
	"A->B":   AToB,
	"B->A":   BToA,
}

// ParseDirection resolves a persisted direction token. Resolution order:
// exact match against known spellings, then a heuristic comparing where the
// two venue letters appear in the token, then the BToA default. The second
// return value is false when the default was used, so callers can log it.
func ParseDirection(token string) (Direction, bool) {
	trimmed := strings.TrimSpace(token)
	if d, ok := directionTokens[trimmed]; ok {
		return d, true
	}
	upper := strings.ToUpper(trimmed)
	idxA := strings.IndexByte(upper, 'A')
	idxB := strings.IndexByte(upper, 'B')
	if idxA >= 0 && idxB >= 0 {
		if idxA < idxB {
			return AToB, true
		}
		return BToA, true
	}
	return BToA, false
}
