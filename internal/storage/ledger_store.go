package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketedge/qtrader/internal/ledger"
	"github.com/shopspring/decimal"
)

// Ledger is the Postgres-backed implementation of ledger.Ledger. FIFO lot
// matching mirrors ledger.MemStore's algorithm exactly (same tie-break,
// same partial-lot split into a new historical row) but runs the lot
// selection, lot update, and new-row insert as one pgx.Tx so a
// StorageError mid-transaction rolls back cleanly instead of leaving a
// half-applied trade — the row-locking (FOR UPDATE) substitutes for
// MemStore's in-process mutex as the linearizability guarantee per
// symbol.
type Ledger struct {
	pool         *pgxpool.Pool
	startingCash decimal.Decimal
}

// Ledger returns a ledger.Ledger backed by this Store's pool, seeded with
// startingCash — the same starting balance ledger.MemStore would be
// constructed with.
func (s *Store) Ledger(startingCash decimal.Decimal) *Ledger {
	return &Ledger{pool: s.pool, startingCash: startingCash}
}

func twoPlacesPG(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func (l *Ledger) Buy(ctx context.Context, symbol string, qty int64, price decimal.Decimal, rationale string, now time.Time) (ledger.BuyResult, error) {
	if qty <= 0 {
		return ledger.BuyResult{}, fmt.Errorf("storage ledger: buy quantity must be positive, got %d", qty)
	}
	if price.Sign() <= 0 {
		return ledger.BuyResult{}, fmt.Errorf("storage ledger: buy price must be positive, got %s", price)
	}
	price = twoPlacesPG(price)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return ledger.BuyResult{}, fmt.Errorf("storage ledger: buy: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	netNotional, err := cashBalanceTx(ctx, tx)
	if err != nil {
		return ledger.BuyResult{}, fmt.Errorf("storage ledger: buy: cash balance: %w", err)
	}
	cash := l.startingCash.Add(netNotional)

	notional := decimal.NewFromInt(qty).Mul(price)
	if cash.LessThan(notional) {
		return ledger.BuyResult{Refused: true, Reason: ledger.RefusalInsufficientCash}, nil
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO trades (symbol, action, quantity, price, status, opened_at, decision_rationale)
		VALUES ($1, 'BUY', $2, $3, 'OPEN', $4, $5)
		RETURNING id`,
		symbol, decimal.NewFromInt(qty), price, now, rationale).Scan(&id)
	if err != nil {
		return ledger.BuyResult{}, fmt.Errorf("storage ledger: buy: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.BuyResult{}, fmt.Errorf("storage ledger: buy: commit: %w", err)
	}

	return ledger.BuyResult{Trade: ledger.Trade{
		ID: id, Symbol: symbol, Action: ledger.ActionBuy, Quantity: decimal.NewFromInt(qty),
		Price: price, Status: ledger.StatusOpen, OpenedAt: now, DecisionRationale: rationale,
	}}, nil
}

func (l *Ledger) Sell(ctx context.Context, symbol string, qty int64, price decimal.Decimal, rationale string, now time.Time) (ledger.SellResult, error) {
	if qty <= 0 {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell quantity must be positive, got %d", qty)
	}
	if price.Sign() <= 0 {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell price must be positive, got %s", price)
	}
	price = twoPlacesPG(price)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// FOR UPDATE: lock every open lot for this symbol in FIFO order before
	// deciding how to split them, so a concurrent Sell on the same symbol
	// blocks instead of racing.
	rows, err := tx.Query(ctx, `
		SELECT id, quantity, price, opened_at, decision_rationale
		FROM trades
		WHERE symbol = $1 AND action = 'BUY' AND status = 'OPEN'
		ORDER BY opened_at ASC, id ASC
		FOR UPDATE`, symbol)
	if err != nil {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: select open lots: %w", err)
	}

	type lot struct {
		id         int64
		qty        decimal.Decimal
		price      decimal.Decimal
		openedAt   time.Time
		rationale  string
	}
	var lots []lot
	var openQty int64
	for rows.Next() {
		var lt lot
		if err := rows.Scan(&lt.id, &lt.qty, &lt.price, &lt.openedAt, &lt.rationale); err != nil {
			rows.Close()
			return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: scan open lot: %w", err)
		}
		lots = append(lots, lt)
		openQty += lt.qty.IntPart()
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: open lots: %w", err)
	}

	if openQty < qty {
		return ledger.SellResult{Refused: true, Reason: ledger.RefusalInsufficientPosition}, nil
	}

	remaining := decimal.NewFromInt(qty)
	var closedIDs []int64
	aggregatePnL := decimal.Zero

	for _, lt := range lots {
		if remaining.IsZero() {
			break
		}
		matched := lt.qty
		if matched.GreaterThan(remaining) {
			matched = remaining
		}

		pnl := twoPlacesPG(price.Sub(lt.price).Mul(matched))

		if matched.Equal(lt.qty) {
			_, err = tx.Exec(ctx, `
				UPDATE trades SET status = 'CLOSED', exit_price = $1, exit_time = $2, realized_pnl = $3
				WHERE id = $4`, price, now, pnl, lt.id)
			if err != nil {
				return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: close lot %d: %w", lt.id, err)
			}
		} else {
			// Partial consumption: shrink the OPEN row in place (preserving
			// its id and opened_at for FIFO ordering of what remains), and
			// insert a new historical CLOSED row for the consumed portion —
			// mirrors ledger.MemStore.splitLotLocked exactly.
			_, err = tx.Exec(ctx, `UPDATE trades SET quantity = quantity - $1 WHERE id = $2`, matched, lt.id)
			if err != nil {
				return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: shrink lot %d: %w", lt.id, err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO trades (symbol, action, quantity, price, status, opened_at, exit_price, exit_time, realized_pnl, decision_rationale)
				VALUES ($1, 'BUY', $2, $3, 'CLOSED', $4, $5, $6, $7, $8)`,
				symbol, matched, lt.price, lt.openedAt, price, now, pnl, lt.rationale)
			if err != nil {
				return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: insert closed portion of lot %d: %w", lt.id, err)
			}
		}

		closedIDs = append(closedIDs, lt.id)
		aggregatePnL = aggregatePnL.Add(pnl)
		remaining = remaining.Sub(matched)
	}

	var sellID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO trades (symbol, action, quantity, price, status, opened_at, exit_price, exit_time, realized_pnl, decision_rationale)
		VALUES ($1, 'SELL', $2, $3, 'CLOSED', $4, $3, $4, $5, $6)
		RETURNING id`,
		symbol, decimal.NewFromInt(qty), price, now, twoPlacesPG(aggregatePnL), rationale).Scan(&sellID)
	if err != nil {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: insert sell row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.SellResult{}, fmt.Errorf("storage ledger: sell: commit: %w", err)
	}

	return ledger.SellResult{
		SellTradeID:          sellID,
		AggregateRealizedPnL: twoPlacesPG(aggregatePnL),
		ClosedBuyIDs:         closedIDs,
	}, nil
}

func (l *Ledger) OpenQuantity(ctx context.Context, symbol string) (int64, error) {
	var qty decimal.Decimal
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM trades
		WHERE symbol = $1 AND action = 'BUY' AND status = 'OPEN'`, symbol).Scan(&qty)
	if err != nil {
		return 0, fmt.Errorf("storage ledger: open quantity: %w", err)
	}
	return qty.IntPart(), nil
}

func (l *Ledger) CostBasis(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var basis decimal.Decimal
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity * price), 0) FROM trades
		WHERE symbol = $1 AND action = 'BUY' AND status = 'OPEN'`, symbol).Scan(&basis)
	if err != nil {
		return decimal.Zero, fmt.Errorf("storage ledger: cost basis: %w", err)
	}
	return basis, nil
}

func (l *Ledger) CashBalance(ctx context.Context) (decimal.Decimal, error) {
	var netNotional decimal.Decimal
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN action = 'SELL' THEN quantity * price ELSE -(quantity * price) END), 0)
		FROM trades`).Scan(&netNotional)
	if err != nil {
		return decimal.Zero, fmt.Errorf("storage ledger: cash balance: %w", err)
	}
	return l.startingCash.Add(netNotional), nil
}

// cashBalanceTx computes the net BUY/SELL notional (excluding starting
// cash) within an in-flight transaction, so Buy's cash check runs inside
// the same transaction as its insert rather than racing a concurrent Buy
// on another symbol.
func cashBalanceTx(ctx context.Context, tx pgx.Tx) (decimal.Decimal, error) {
	var netNotional decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN action = 'SELL' THEN quantity * price ELSE -(quantity * price) END), 0)
		FROM trades`).Scan(&netNotional)
	if err != nil {
		return decimal.Zero, err
	}
	return netNotional, nil
}

func (l *Ledger) Bankroll(ctx context.Context, latestPrices map[string]decimal.Decimal) (ledger.Bankroll, error) {
	cash, err := l.CashBalance(ctx)
	if err != nil {
		return ledger.Bankroll{}, err
	}

	rows, err := l.pool.Query(ctx, `SELECT DISTINCT symbol FROM trades`)
	if err != nil {
		return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: symbols: %w", err)
	}
	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			rows.Close()
			return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: symbols: %w", err)
	}

	var realizedPnL decimal.Decimal
	err = l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_pnl), 0) FROM trades
		WHERE action = 'BUY' AND status = 'CLOSED'`).Scan(&realizedPnL)
	if err != nil {
		return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: realized pnl: %w", err)
	}

	openCostBasis := decimal.Zero
	openMarketValue := decimal.Zero
	var wins, closedLots int64

	for _, symbol := range symbols {
		basis, err := l.CostBasis(ctx, symbol)
		if err != nil {
			return ledger.Bankroll{}, err
		}
		openCostBasis = openCostBasis.Add(basis)

		qty, err := l.OpenQuantity(ctx, symbol)
		if err != nil {
			return ledger.Bankroll{}, err
		}
		mark, ok := latestPrices[symbol]
		if !ok {
			if qty > 0 && !basis.IsZero() {
				mark = basis.Div(decimal.NewFromInt(qty))
			}
		}
		openMarketValue = openMarketValue.Add(decimal.NewFromInt(qty).Mul(mark))

		symRows, err := l.pool.Query(ctx, `
			SELECT realized_pnl FROM trades
			WHERE symbol = $1 AND action = 'BUY' AND status = 'CLOSED'`, symbol)
		if err != nil {
			return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: closed lots: %w", err)
		}
		for symRows.Next() {
			var pnl decimal.Decimal
			if err := symRows.Scan(&pnl); err != nil {
				symRows.Close()
				return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: scan closed lot: %w", err)
			}
			closedLots++
			if pnl.Sign() > 0 {
				wins++
			}
		}
		symRows.Close()
		if err := symRows.Err(); err != nil {
			return ledger.Bankroll{}, fmt.Errorf("storage ledger: bankroll: closed lots: %w", err)
		}
	}

	unrealizedPnL := openMarketValue.Sub(openCostBasis)
	totalPnL := realizedPnL.Add(unrealizedPnL)
	netWorth := cash.Add(openMarketValue)

	roi := decimal.Zero
	if !l.startingCash.IsZero() {
		roi = totalPnL.Div(l.startingCash).Mul(decimal.NewFromInt(100))
	}
	winRate := decimal.Zero
	if closedLots > 0 {
		winRate = decimal.NewFromInt(wins).Div(decimal.NewFromInt(closedLots)).Mul(decimal.NewFromInt(100))
	}

	return ledger.Bankroll{
		Cash:            twoPlacesPG(cash),
		OpenCostBasis:   twoPlacesPG(openCostBasis),
		OpenMarketValue: twoPlacesPG(openMarketValue),
		UnrealizedPnL:   twoPlacesPG(unrealizedPnL),
		RealizedPnL:     twoPlacesPG(realizedPnL),
		TotalPnL:        twoPlacesPG(totalPnL),
		NetWorth:        twoPlacesPG(netWorth),
		ROIPercent:      roi.Round(2),
		WinRatePercent:  winRate.Round(2),
	}, nil
}

func (l *Ledger) Trades(ctx context.Context, symbol string) ([]ledger.Trade, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, symbol, action, quantity, price, status, opened_at,
			COALESCE(exit_price, 0), exit_time, COALESCE(realized_pnl, 0), decision_rationale
		FROM trades WHERE symbol = $1 ORDER BY opened_at ASC, id ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("storage ledger: trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		var t ledger.Trade
		var action, status string
		var exitTime *time.Time
		if err := rows.Scan(&t.ID, &t.Symbol, &action, &t.Quantity, &t.Price, &status, &t.OpenedAt,
			&t.ExitPrice, &exitTime, &t.RealizedPnL, &t.DecisionRationale); err != nil {
			return nil, fmt.Errorf("storage ledger: trades: scan: %w", err)
		}
		t.Action = ledger.TradeAction(action)
		t.Status = ledger.Status(status)
		if exitTime != nil {
			t.ExitTime = *exitTime
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage ledger: trades: rows: %w", err)
	}
	return out, nil
}
