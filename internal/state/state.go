// Package state discretizes a market snapshot into the fixed tuple the
// Q-learning engine keys its table on.
//
// Design rules:
//   - A tuple is a pure function of the snapshot: same inputs, same tuple.
//   - Undefined indicators force the Fallback tuple, never a guess.
package state

import (
	"fmt"
	"strings"
)

// RSIZone buckets the RSI indicator.
type RSIZone string

const (
	RSIOversold   RSIZone = "OVERSOLD"
	RSINeutral    RSIZone = "NEUTRAL"
	RSIOverbought RSIZone = "OVERBOUGHT"
)

// PriceLevel buckets price against a reference (SMA_50 or VWAP).
type PriceLevel string

const (
	PriceBelow PriceLevel = "BELOW"
	PriceAt    PriceLevel = "AT"
	PriceAbove PriceLevel = "ABOVE"
)

// Position buckets the current position size.
type Position string

const (
	PositionFlat Position = "FLAT"
	PositionLong Position = "LONG"
)

// Momentum buckets the sign of the last close-over-close change.
type Momentum string

const (
	MomentumDown Momentum = "DOWN"
	MomentumFlat Momentum = "FLAT"
	MomentumUp   Momentum = "UP"
)

// CashBucket buckets available cash as a fraction of starting cash.
type CashBucket string

const (
	CashLow    CashBucket = "LOW"
	CashMedium CashBucket = "MEDIUM"
	CashHigh   CashBucket = "HIGH"
)

// ExposureBucket buckets cost basis as a fraction of starting cash.
type ExposureBucket string

const (
	ExposureNone         ExposureBucket = "NONE"
	ExposureLight        ExposureBucket = "LIGHT"
	ExposureHeavy        ExposureBucket = "HEAVY"
	ExposureOverextended ExposureBucket = "OVEREXTENDED"
)

// priceEpsilon is the relative band around a reference price treated as AT.
const priceEpsilon = 0.001

// Tuple is the fixed 7-dimension discretized state. The Cartesian product of
// its dimensions is 3×3×3×2×3×3×4 = 1,944 states.
type Tuple struct {
	RSI      RSIZone
	VsSMA50  PriceLevel
	VsVWAP   PriceLevel
	Position Position
	Momentum Momentum
	Cash     CashBucket
	Exposure ExposureBucket
}

// Fallback is the deterministic tuple used when any indicator is undefined.
// Selection against it must force HOLD and must never trigger a Q update.
var Fallback = Tuple{
	RSI:      RSINeutral,
	VsSMA50:  PriceAt,
	VsVWAP:   PriceAt,
	Position: PositionFlat,
	Momentum: MomentumFlat,
	Cash:     CashHigh,
	Exposure: ExposureNone,
}

// IsFallback reports whether t is the fallback tuple.
func (t Tuple) IsFallback() bool {
	return t == Fallback
}

// Inputs bundles the raw values Discretize needs. RSI/SMA50/VWAP carry their
// own ok flags because indicators.RSI/SMA/VWAP are undefined with
// insufficient history.
type Inputs struct {
	RSI          float64
	RSIOk        bool
	Close        float64
	PreviousClose float64
	HasPrevious  bool
	SMA50        float64
	SMA50Ok      bool
	VWAP         float64
	VWAPOk       bool
	Quantity     int64
	Cash         float64
	StartingCash float64
	CostBasis    float64
}

// Discretize maps inputs to a Tuple. If RSI, SMA50, or VWAP is undefined, or
// there is no previous close to compare momentum against, it returns
// (Fallback, false); the caller must treat false as "do not learn from this
// transition."
func Discretize(in Inputs) (Tuple, bool) {
	if !in.RSIOk || !in.SMA50Ok || !in.VWAPOk || !in.HasPrevious {
		return Fallback, false
	}

	t := Tuple{
		RSI:      rsiZone(in.RSI),
		VsSMA50:  priceLevel(in.Close, in.SMA50),
		VsVWAP:   priceLevel(in.Close, in.VWAP),
		Position: position(in.Quantity),
		Momentum: momentum(in.Close, in.PreviousClose),
		Cash:     cashBucket(in.Cash, in.StartingCash),
		Exposure: exposureBucket(in.CostBasis, in.StartingCash),
	}
	return t, true
}

func rsiZone(rsi float64) RSIZone {
	switch {
	case rsi < 30:
		return RSIOversold
	case rsi > 70:
		return RSIOverbought
	default:
		return RSINeutral
	}
}

func priceLevel(price, reference float64) PriceLevel {
	low := reference * (1 - priceEpsilon)
	high := reference * (1 + priceEpsilon)
	switch {
	case price < low:
		return PriceBelow
	case price > high:
		return PriceAbove
	default:
		return PriceAt
	}
}

func position(quantity int64) Position {
	if quantity > 0 {
		return PositionLong
	}
	return PositionFlat
}

func momentum(close, previous float64) Momentum {
	switch {
	case close > previous:
		return MomentumUp
	case close < previous:
		return MomentumDown
	default:
		return MomentumFlat
	}
}

func cashBucket(cash, startingCash float64) CashBucket {
	if startingCash <= 0 {
		return CashHigh
	}
	ratio := cash / startingCash
	switch {
	case ratio < 0.30:
		return CashLow
	case ratio < 0.70:
		return CashMedium
	default:
		return CashHigh
	}
}

func exposureBucket(costBasis, startingCash float64) ExposureBucket {
	if startingCash <= 0 {
		return ExposureOverextended
	}
	ratio := costBasis / startingCash
	switch {
	case ratio < 0.05:
		return ExposureNone
	case ratio < 0.50:
		return ExposureLight
	case ratio <= 1.00:
		return ExposureHeavy
	default:
		return ExposureOverextended
	}
}

// fieldSep separates the seven dimensions in a serialized Key. It is not a
// character any enum value contains, so tokenizing is unambiguous.
const fieldSep = "|"

// Key renders t as the string the Q-table persists as a map key.
func (t Tuple) Key() string {
	return strings.Join([]string{
		string(t.RSI), string(t.VsSMA50), string(t.VsVWAP),
		string(t.Position), string(t.Momentum), string(t.Cash), string(t.Exposure),
	}, fieldSep)
}

// ParseKey parses a string produced by Key back into a Tuple using a
// restricted tokenizer: it only recognizes the known enum vocabularies
// below, never evaluates code, and rejects anything else with an error. This
// is the only supported path for reading a persisted Q-table, so a
// maliciously crafted or corrupted key can only be rejected, never executed.
func ParseKey(key string) (Tuple, error) {
	parts := strings.Split(key, fieldSep)
	if len(parts) != 7 {
		return Tuple{}, fmt.Errorf("state: key %q has %d fields, want 7", key, len(parts))
	}

	rsi, err := parseRSIZone(parts[0])
	if err != nil {
		return Tuple{}, err
	}
	sma, err := parsePriceLevel(parts[1])
	if err != nil {
		return Tuple{}, err
	}
	vwap, err := parsePriceLevel(parts[2])
	if err != nil {
		return Tuple{}, err
	}
	pos, err := parsePosition(parts[3])
	if err != nil {
		return Tuple{}, err
	}
	mom, err := parseMomentum(parts[4])
	if err != nil {
		return Tuple{}, err
	}
	cash, err := parseCashBucket(parts[5])
	if err != nil {
		return Tuple{}, err
	}
	exposure, err := parseExposureBucket(parts[6])
	if err != nil {
		return Tuple{}, err
	}

	return Tuple{
		RSI: rsi, VsSMA50: sma, VsVWAP: vwap, Position: pos,
		Momentum: mom, Cash: cash, Exposure: exposure,
	}, nil
}

func parseRSIZone(s string) (RSIZone, error) {
	switch RSIZone(s) {
	case RSIOversold, RSINeutral, RSIOverbought:
		return RSIZone(s), nil
	}
	return "", fmt.Errorf("state: unrecognized RSI zone %q", s)
}

func parsePriceLevel(s string) (PriceLevel, error) {
	switch PriceLevel(s) {
	case PriceBelow, PriceAt, PriceAbove:
		return PriceLevel(s), nil
	}
	return "", fmt.Errorf("state: unrecognized price level %q", s)
}

func parsePosition(s string) (Position, error) {
	switch Position(s) {
	case PositionFlat, PositionLong:
		return Position(s), nil
	}
	return "", fmt.Errorf("state: unrecognized position %q", s)
}

func parseMomentum(s string) (Momentum, error) {
	switch Momentum(s) {
	case MomentumDown, MomentumFlat, MomentumUp:
		return Momentum(s), nil
	}
	return "", fmt.Errorf("state: unrecognized momentum %q", s)
}

func parseCashBucket(s string) (CashBucket, error) {
	switch CashBucket(s) {
	case CashLow, CashMedium, CashHigh:
		return CashBucket(s), nil
	}
	return "", fmt.Errorf("state: unrecognized cash bucket %q", s)
}

func parseExposureBucket(s string) (ExposureBucket, error) {
	switch ExposureBucket(s) {
	case ExposureNone, ExposureLight, ExposureHeavy, ExposureOverextended:
		return ExposureBucket(s), nil
	}
	return "", fmt.Errorf("state: unrecognized exposure bucket %q", s)
}
