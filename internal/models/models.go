// Package models provides domain models for the alert engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Segment represents a market segment. Each segment is served by exactly one quote backend.
type Segment string

const (
	SegmentStock  Segment = "STOCK"  // equities, indices, FX, commodities
	SegmentCrypto Segment = "CRYPTO" // crypto pairs
)

// Segments lists every supported segment.
var Segments = []Segment{SegmentStock, SegmentCrypto}

// ParseSegment parses a segment name case-insensitively.
func ParseSegment(s string) (Segment, error) {
	switch Segment(strings.ToUpper(strings.TrimSpace(s))) {
	case SegmentStock:
		return SegmentStock, nil
	case SegmentCrypto:
		return SegmentCrypto, nil
	}
	return "", fmt.Errorf("unknown segment %q", s)
}

// Condition is the comparison a price alert watches for.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// ParseCondition parses a condition name case-insensitively.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToUpper(strings.TrimSpace(s))) {
	case ConditionAbove:
		return ConditionAbove, nil
	case ConditionBelow:
		return ConditionBelow, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Direction is the move a global market alert watches for.
type Direction string

const (
	DirectionDrop Direction = "DROP"
	DirectionRise Direction = "RISE"
)

// ParseDirection parses a direction name case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionDrop:
		return DirectionDrop, nil
	case DirectionRise:
		return DirectionRise, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// AlertStatus is the lifecycle state of a price alert.
type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertDisabled  AlertStatus = "DISABLED"
	AlertCompleted AlertStatus = "COMPLETED"
)

// RuleKind tags which alert table a rule came from.
type RuleKind string

const (
	RuleKindPrice  RuleKind = "price"
	RuleKindGlobal RuleKind = "global"
)

// Quote is a point-in-time price for one symbol.
type Quote struct {
	Segment       Segment
	Symbol        string
	Price         float64
	ChangePercent float64 // vs previous close (stocks) or 24h open (crypto)
	Timestamp     time.Time
}

// QuoteKey identifies a cached quote.
type QuoteKey struct {
	Segment Segment
	Symbol  string
}

func (k QuoteKey) String() string {
	return string(k.Segment) + ":" + k.Symbol
}

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
