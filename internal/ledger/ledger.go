package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the only contract the rest of the system uses to move cash and
// shares. Implementations must make Buy/Sell linearizable per symbol — a
// StorageError must abort a call atomically so a retried tick never
// double-books a trade.
type Ledger interface {
	// Buy opens a new lot. Refuses with RefusalInsufficientCash if
	// cash balance < qty*price. qty and price must be positive.
	Buy(ctx context.Context, symbol string, qty int64, price decimal.Decimal, rationale string, now time.Time) (BuyResult, error)

	// Sell consumes OPEN BUY lots FIFO by OpenedAt. Refuses with
	// RefusalInsufficientPosition if the open quantity for symbol < qty.
	// qty and price must be positive.
	Sell(ctx context.Context, symbol string, qty int64, price decimal.Decimal, rationale string, now time.Time) (SellResult, error)

	// OpenQuantity returns the current open share count for symbol.
	OpenQuantity(ctx context.Context, symbol string) (int64, error)

	// CostBasis returns the sum of qty*price over currently OPEN lots for
	// symbol.
	CostBasis(ctx context.Context, symbol string) (decimal.Decimal, error)

	// CashBalance returns starting_cash - sum(BUY notional) + sum(SELL
	// notional) across every symbol — I5, never independently stored.
	CashBalance(ctx context.Context) (decimal.Decimal, error)

	// Bankroll computes the full derived summary view (§3).
	// latestPrices supplies the mark price per symbol for unrealized P&L;
	// a symbol with an open position and no entry is simply valued at its
	// cost basis (unrealized P&L 0 for that symbol).
	Bankroll(ctx context.Context, latestPrices map[string]decimal.Decimal) (Bankroll, error)

	// Trades returns every trade row for symbol, oldest first.
	Trades(ctx context.Context, symbol string) ([]Trade, error)
}

// twoPlaces rounds d to two decimal places, the storage precision spec.md's
// numeric policy mandates for prices and P&L.
func twoPlaces(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MemStore is an in-memory Ledger: the reference implementation and the one
// used directly by tests. internal/storage's Postgres-backed implementation
// satisfies the same interface over a real table.
type MemStore struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	trades       []*Trade // append-only; index+1 doubles as ID
	nextID       int64
}

// NewMemStore creates a MemStore seeded with startingCash.
func NewMemStore(startingCash decimal.Decimal) *MemStore {
	return &MemStore{startingCash: startingCash}
}

func (m *MemStore) Buy(ctx context.Context, symbol string, qty int64, price decimal.Decimal, rationale string, now time.Time) (BuyResult, error) {
	if qty <= 0 {
		return BuyResult{}, fmt.Errorf("ledger: buy quantity must be positive, got %d", qty)
	}
	if price.Sign() <= 0 {
		return BuyResult{}, fmt.Errorf("ledger: buy price must be positive, got %s", price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	price = twoPlaces(price)
	notional := decimal.NewFromInt(qty).Mul(price)
	cash := m.cashLocked()
	if cash.LessThan(notional) {
		return BuyResult{Refused: true, Reason: RefusalInsufficientCash}, nil
	}

	m.nextID++
	trade := &Trade{
		ID:                m.nextID,
		Symbol:            symbol,
		Action:            ActionBuy,
		Quantity:          decimal.NewFromInt(qty),
		Price:             price,
		Status:            StatusOpen,
		OpenedAt:          now,
		DecisionRationale: rationale,
	}
	m.trades = append(m.trades, trade)

	return BuyResult{Trade: *trade}, nil
}

func (m *MemStore) Sell(ctx context.Context, symbol string, qty int64, price decimal.Decimal, rationale string, now time.Time) (SellResult, error) {
	if qty <= 0 {
		return SellResult{}, fmt.Errorf("ledger: sell quantity must be positive, got %d", qty)
	}
	if price.Sign() <= 0 {
		return SellResult{}, fmt.Errorf("ledger: sell price must be positive, got %s", price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	price = twoPlaces(price)
	open := m.openLotsLocked(symbol)
	openQty := int64(0)
	for _, lot := range open {
		openQty += lot.Quantity.IntPart()
	}
	if openQty < qty {
		return SellResult{Refused: true, Reason: RefusalInsufficientPosition}, nil
	}

	remaining := decimal.NewFromInt(qty)
	var closedIDs []int64
	aggregatePnL := decimal.Zero

	for _, lot := range open {
		if remaining.IsZero() {
			break
		}
		matched := lot.Quantity
		if matched.GreaterThan(remaining) {
			matched = remaining
		}

		pnl := twoPlaces(price.Sub(lot.Price).Mul(matched))

		if matched.Equal(lot.Quantity) {
			lot.Status = StatusClosed
			lot.ExitPrice = price
			lot.ExitTime = now
			lot.RealizedPnL = pnl
		} else {
			lot.Quantity = lot.Quantity.Sub(matched)
			closedPortion := &Trade{
				ID:                lot.ID,
				Symbol:            lot.Symbol,
				Action:            ActionBuy,
				Quantity:          matched,
				Price:             lot.Price,
				Status:            StatusClosed,
				OpenedAt:          lot.OpenedAt,
				ExitPrice:         price,
				ExitTime:          now,
				RealizedPnL:       pnl,
				DecisionRationale: lot.DecisionRationale,
			}
			m.splitLotLocked(lot, closedPortion)
		}

		closedIDs = append(closedIDs, lot.ID)
		aggregatePnL = aggregatePnL.Add(pnl)
		remaining = remaining.Sub(matched)
	}

	m.nextID++
	sellTrade := &Trade{
		ID:                m.nextID,
		Symbol:            symbol,
		Action:            ActionSell,
		Quantity:          decimal.NewFromInt(qty),
		Price:             price,
		Status:            StatusClosed,
		OpenedAt:          now,
		ExitPrice:         price,
		ExitTime:          now,
		RealizedPnL:       twoPlaces(aggregatePnL),
		DecisionRationale: rationale,
	}
	m.trades = append(m.trades, sellTrade)

	return SellResult{
		SellTradeID:          sellTrade.ID,
		AggregateRealizedPnL: twoPlaces(aggregatePnL),
		ClosedBuyIDs:         closedIDs,
	}, nil
}

// splitLotLocked replaces a partially-consumed lot with its closed portion
// (appended as a historical record) while the original row shrinks in
// place, preserving its OpenedAt so FIFO ordering among remaining OPEN lots
// is unaffected.
func (m *MemStore) splitLotLocked(remaining *Trade, closedPortion *Trade) {
	m.nextID++
	closedPortion.ID = m.nextID
	m.trades = append(m.trades, closedPortion)
}

func (m *MemStore) openLotsLocked(symbol string) []*Trade {
	var open []*Trade
	for _, t := range m.trades {
		if t.Symbol == symbol && t.Action == ActionBuy && t.Status == StatusOpen {
			open = append(open, t)
		}
	}
	// FIFO: oldest OpenedAt first. Ledger rows are appended in time order,
	// so this is already the append order; sort defensively in case of
	// equal timestamps split across ticks.
	for i := 1; i < len(open); i++ {
		for j := i; j > 0 && open[j].OpenedAt.Before(open[j-1].OpenedAt); j-- {
			open[j], open[j-1] = open[j-1], open[j]
		}
	}
	return open
}

func (m *MemStore) OpenQuantity(ctx context.Context, symbol string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var qty int64
	for _, lot := range m.openLotsLocked(symbol) {
		qty += lot.Quantity.IntPart()
	}
	return qty, nil
}

func (m *MemStore) CostBasis(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	basis := decimal.Zero
	for _, lot := range m.openLotsLocked(symbol) {
		basis = basis.Add(lot.Notional())
	}
	return basis, nil
}

func (m *MemStore) cashLocked() decimal.Decimal {
	cash := m.startingCash
	for _, t := range m.trades {
		switch t.Action {
		case ActionBuy:
			cash = cash.Sub(t.Notional())
		case ActionSell:
			cash = cash.Add(t.Notional())
		}
	}
	return cash
}

func (m *MemStore) CashBalance(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cashLocked(), nil
}

func (m *MemStore) Trades(ctx context.Context, symbol string) ([]Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trade
	for _, t := range m.trades {
		if t.Symbol == symbol {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MemStore) Bankroll(ctx context.Context, latestPrices map[string]decimal.Decimal) (Bankroll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cash := m.cashLocked()
	openCostBasis := decimal.Zero
	openMarketValue := decimal.Zero
	realizedPnL := decimal.Zero

	// I4: realized P&L lives on the BUY row that was closed, and the SELL
	// row repeats it as an aggregate, so summing only BUY-CLOSED rows avoids
	// double counting a matched pair's P&L.
	symbols := make(map[string]struct{})
	for _, t := range m.trades {
		symbols[t.Symbol] = struct{}{}
		if t.Action == ActionBuy && t.Status == StatusClosed {
			realizedPnL = realizedPnL.Add(t.RealizedPnL)
		}
	}

	var wins, closedLots int64
	for symbol := range symbols {
		for _, lot := range m.openLotsLocked(symbol) {
			basis := lot.Notional()
			openCostBasis = openCostBasis.Add(basis)
			mark, ok := latestPrices[symbol]
			if !ok {
				mark = lot.Price
			}
			openMarketValue = openMarketValue.Add(lot.Quantity.Mul(mark))
		}
		for _, t := range m.trades {
			if t.Symbol == symbol && t.Action == ActionBuy && t.Status == StatusClosed {
				closedLots++
				if t.RealizedPnL.Sign() > 0 {
					wins++
				}
			}
		}
	}

	unrealizedPnL := openMarketValue.Sub(openCostBasis)
	totalPnL := realizedPnL.Add(unrealizedPnL)
	netWorth := cash.Add(openMarketValue)

	roi := decimal.Zero
	if !m.startingCash.IsZero() {
		roi = totalPnL.Div(m.startingCash).Mul(decimal.NewFromInt(100))
	}
	winRate := decimal.Zero
	if closedLots > 0 {
		winRate = decimal.NewFromInt(wins).Div(decimal.NewFromInt(closedLots)).Mul(decimal.NewFromInt(100))
	}

	return Bankroll{
		Cash:            twoPlaces(cash),
		OpenCostBasis:   twoPlaces(openCostBasis),
		OpenMarketValue: twoPlaces(openMarketValue),
		UnrealizedPnL:   twoPlaces(unrealizedPnL),
		RealizedPnL:     twoPlaces(realizedPnL),
		TotalPnL:        twoPlaces(totalPnL),
		NetWorth:        twoPlaces(netWorth),
		ROIPercent:      roi.Round(2),
		WinRatePercent:  winRate.Round(2),
	}, nil
}
