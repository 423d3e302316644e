// Package ledger is the single source of truth for trades, cash, and
// positions. Bankroll and position views are always derived from the
// append-only trade history, never stored independently.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the side of a trade row.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// Status is the lifecycle state of a trade row. OPEN -> CLOSED is terminal;
// rows never reopen.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// RefusalReason names why a Buy or Sell call was refused. The empty string
// means not refused.
type RefusalReason string

const (
	RefusalNone                RefusalReason = ""
	RefusalInsufficientCash    RefusalReason = "INSUFFICIENT_CASH"
	RefusalInsufficientPosition RefusalReason = "INSUFFICIENT_POSITION"
	// RefusalNoPrice is settlement-only: no stored bar exists to force-sell
	// the open position against.
	RefusalNoPrice RefusalReason = "NO_PRICE"
)

// Trade is one append-only ledger row. A BUY is born OPEN; it transitions to
// CLOSED only when later SELLs fully consume its quantity, at which point
// ExitPrice/ExitTime/RealizedPnL are populated. A SELL row is born CLOSED
// and carries the aggregate realized P&L across every BUY lot it consumed.
type Trade struct {
	ID                int64
	Symbol            string
	Action            TradeAction
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	Status            Status
	OpenedAt          time.Time
	ExitPrice         decimal.Decimal
	ExitTime          time.Time
	RealizedPnL       decimal.Decimal
	DecisionRationale string
}

// Notional returns Quantity * Price.
func (t Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// BuyResult is returned by Ledger.Buy.
type BuyResult struct {
	Trade    Trade
	Refused  bool
	Reason   RefusalReason
}

// SellResult is returned by Ledger.Sell.
type SellResult struct {
	SellTradeID          int64
	AggregateRealizedPnL decimal.Decimal
	ClosedBuyIDs         []int64
	Refused              bool
	Reason               RefusalReason
}

// Bankroll is the derived summary view over the ledger (§3 "Bankroll
// Summary"). Every field here is recomputed from Trade rows plus the latest
// known price per symbol; none of it is independently persisted.
type Bankroll struct {
	Cash             decimal.Decimal
	OpenCostBasis    decimal.Decimal
	OpenMarketValue  decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	TotalPnL         decimal.Decimal
	NetWorth         decimal.Decimal
	ROIPercent       decimal.Decimal
	WinRatePercent   decimal.Decimal
}
