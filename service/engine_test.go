package service

import (
	"testing"

	"matchcore/command"
	"matchcore/domain"
	"matchcore/logger"
	"matchcore/memory"
	"matchcore/snapshot"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	spot = domain.Symbol{
		ID:                "BTCUSDT",
		PricePrecision:    2,
		QuantityPrecision: 4,
		FeeRate:           d("0.001"),
		MaxDepth:          10,
		MaxSlippage:       d("0.01"),
		Tradeable:         true,
	}
	perp = domain.Symbol{
		ID:                "BTC-PERP",
		PricePrecision:    1,
		QuantityPrecision: 3,
		FeeRate:           d("0.0005"),
		MaxSlippage:       d("0.05"),
		SupportsPosition:  true,
		Tradeable:         true,
	}
)

type stagedEvent struct {
	id      uint64
	payload []byte
}

type fakeEgress struct{ staged []stagedEvent }

func (f *fakeEgress) Stage(id uint64, payload []byte) (bool, error) {
	f.staged = append(f.staged, stagedEvent{id, payload})
	return true, nil
}

type fakeSink struct{ got []*snapshot.Snapshot }

func (f *fakeSink) Persist(s *snapshot.Snapshot) { f.got = append(f.got, s) }

type harness struct {
	t      *testing.T
	e      *Engine
	egress *fakeEgress
	sink   *fakeSink
	id     uint64
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, egress: &fakeEgress{}, sink: &fakeSink{}}
	h.e = NewEngine(memory.NewManager(), logger.Discard(), WithEgress(h.egress), WithSnapshotSink(h.sink))
	h.ok(command.AddSymbol{Symbol: spot})
	h.ok(command.AddSymbol{Symbol: perp})
	return h
}

func (h *harness) do(p command.Payload) *command.Result {
	h.id++
	res := h.e.Handle(command.Command{ID: h.id, RequestID: "req", Timestamp: int64(h.id), Payload: p})
	require.NotNil(h.t, res)
	return res
}

func (h *harness) ok(p command.Payload) *command.Result {
	h.t.Helper()
	res := h.do(p)
	require.Equal(h.t, command.StatusCompleted, res.Status)
	require.Nil(h.t, res.Reject, "unexpected reject: %v", res.Reject)
	return res
}

func (h *harness) rejected(p command.Payload, code domain.RejectCode) *command.Result {
	h.t.Helper()
	res := h.do(p)
	require.Equal(h.t, command.StatusCompleted, res.Status)
	require.NotNil(h.t, res.Reject)
	assert.Equal(h.t, code, res.Reject.Code)
	return res
}

func limit(user uint64, sym string, side domain.Side, price, qty string) command.NewOrder {
	return command.NewOrder{
		UserID:    user,
		Symbol:    sym,
		Side:      side,
		OrderType: domain.Limit,
		Price:     d(price),
		Quantity:  d(qty),
	}
}

func TestAdmissionRejects(t *testing.T) {
	h := newHarness(t)

	h.rejected(limit(1, "DOGEUSDT", domain.Buy, "1", "1"), domain.RejectUnknownSymbol)

	closed := spot
	closed.Tradeable = false
	h.ok(command.UpdateSymbol{Symbol: closed})
	h.rejected(limit(1, spot.ID, domain.Buy, "1", "1"), domain.RejectSymbolNotTradeable)
	h.ok(command.UpdateSymbol{Symbol: spot})

	h.rejected(limit(1, spot.ID, 0, "1", "1"), domain.RejectInvalidSide)
	h.rejected(limit(1, spot.ID, domain.Buy, "50000.123", "1"), domain.RejectInvalidPrice)
	h.rejected(limit(1, spot.ID, domain.Buy, "-1", "1"), domain.RejectInvalidPrice)
	h.rejected(limit(1, spot.ID, domain.Buy, "50000", "0"), domain.RejectInvalidQuantity)
	h.rejected(limit(1, spot.ID, domain.Buy, "50000", "0.00001"), domain.RejectInvalidQuantity)

	bad := limit(1, spot.ID, domain.Buy, "50000", "1")
	bad.OrderType = 9
	h.rejected(bad, domain.RejectInvalidType)

	assert.Zero(t, h.e.Memory().Stats().RestingOrders)
}

func TestPartialFillAcrossLevelTagsTrades(t *testing.T) {
	h := newHarness(t)
	first := h.ok(limit(1, spot.ID, domain.Sell, "50000", "1.0"))
	second := h.ok(limit(2, spot.ID, domain.Sell, "50000", "1.0"))

	res := h.ok(limit(3, spot.ID, domain.Buy, "50000", "1.5"))
	require.Len(t, res.Trades, 2)

	assert.Equal(t, first.Order.ID, res.Trades[0].SellOrderID)
	assert.True(t, d("1").Equal(res.Trades[0].Quantity))
	assert.Equal(t, second.Order.ID, res.Trades[1].SellOrderID)
	assert.True(t, d("0.5").Equal(res.Trades[1].Quantity))
	for _, tr := range res.Trades {
		assert.Equal(t, res.CommandID, tr.CommandID)
		assert.Equal(t, domain.ActionNone, tr.BuyAction)
	}
	assert.Equal(t, domain.Filled, res.Order.Status)
	assert.Empty(t, res.Positions)

	left := h.ok(command.QueryOrder{OrderID: second.Order.ID})
	assert.True(t, d("0.5").Equal(left.Order.Remaining))
	assert.Equal(t, domain.PartiallyFilled, left.Order.Status)
}

func TestOrderIDs(t *testing.T) {
	h := newHarness(t)

	explicit := limit(1, spot.ID, domain.Buy, "100", "1")
	explicit.OrderID = 7
	res := h.ok(explicit)
	assert.Equal(t, uint64(7), res.Order.ID)

	h.rejected(explicit, domain.RejectDuplicateOrder)

	res = h.ok(limit(1, spot.ID, domain.Buy, "100", "1"))
	assert.Equal(t, uint64(8), res.Order.ID)

	// ids of cancelled or filled orders stay taken
	h.ok(command.Cancel{OrderID: 7})
	h.rejected(explicit, domain.RejectDuplicateOrder)
	h.ok(limit(2, spot.ID, domain.Sell, "100", "1"))
	filled := limit(1, spot.ID, domain.Buy, "100", "1")
	filled.OrderID = 8
	h.rejected(filled, domain.RejectDuplicateOrder)
	skipped := limit(1, spot.ID, domain.Buy, "100", "1")
	skipped.OrderID = 3
	h.rejected(skipped, domain.RejectDuplicateOrder)

	jump := limit(1, spot.ID, domain.Buy, "90", "1")
	jump.OrderID = 20
	assert.Equal(t, uint64(20), h.ok(jump).Order.ID)
	assert.Equal(t, uint64(21), h.ok(limit(1, spot.ID, domain.Buy, "90", "1")).Order.ID)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	o := h.ok(limit(1, spot.ID, domain.Buy, "100", "1")).Order

	h.rejected(command.Cancel{OrderID: o.ID, UserID: 2}, domain.RejectNotFound)
	res := h.ok(command.Cancel{OrderID: o.ID, UserID: 1})
	assert.Equal(t, domain.Cancelled, res.Order.Status)
	require.Len(t, res.Cancelled, 1)

	h.rejected(command.Cancel{OrderID: o.ID}, domain.RejectNotFound)
	h.rejected(command.QueryOrder{OrderID: o.ID}, domain.RejectNotFound)
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, spot.ID, domain.Buy, "100", "1"))
	h.ok(limit(1, spot.ID, domain.Sell, "200", "1"))
	h.ok(limit(2, spot.ID, domain.Buy, "99", "1"))
	h.ok(limit(1, perp.ID, domain.Buy, "100", "1"))

	res := h.ok(command.CancelAll{UserID: 1, Symbol: spot.ID})
	assert.Len(t, res.Cancelled, 2)
	assert.Equal(t, 2, h.e.Memory().Stats().RestingOrders)

	res = h.ok(command.CancelAll{UserID: 1})
	assert.Len(t, res.Cancelled, 1)
	assert.Equal(t, 1, h.e.Memory().Stats().RestingOrders)

	h.rejected(command.CancelAll{UserID: 1, Symbol: "NOPE"}, domain.RejectUnknownSymbol)
}

func TestPositionsFollowTrades(t *testing.T) {
	h := newHarness(t)

	h.ok(limit(1, perp.ID, domain.Sell, "100", "1"))
	res := h.ok(limit(2, perp.ID, domain.Buy, "100", "1"))
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.Open, tr.BuyAction)
	assert.Equal(t, domain.Open, tr.SellAction)
	assert.True(t, d("1").Equal(tr.BuyPositionDelta))
	assert.True(t, d("-1").Equal(tr.SellPositionDelta))
	require.Len(t, res.Positions, 2)
	assert.Equal(t, domain.Short, res.Positions[0].Side)
	assert.Equal(t, domain.Long, res.Positions[1].Side)

	closeSell := limit(2, perp.ID, domain.Sell, "110", "1")
	closeSell.PositionAction = domain.Close
	h.ok(closeSell)
	res = h.ok(limit(1, perp.ID, domain.Buy, "110", "1"))
	require.Len(t, res.Trades, 1)
	tr = res.Trades[0]
	assert.Equal(t, domain.Close, tr.BuyAction)
	assert.Equal(t, domain.Close, tr.SellAction)

	long := h.ok(command.QueryPosition{UserID: 2, Symbol: perp.ID}).Positions[0]
	short := h.ok(command.QueryPosition{UserID: 1, Symbol: perp.ID}).Positions[0]
	assert.True(t, long.Quantity.IsZero())
	assert.True(t, d("10").Equal(long.RealizedPnL))
	assert.True(t, d("-10").Equal(short.RealizedPnL))
	assert.Equal(t, domain.NoPosition, short.Side)
}

func TestInvalidPositionActionRejects(t *testing.T) {
	h := newHarness(t)

	o := limit(1, perp.ID, domain.Sell, "100", "1")
	o.PositionAction = domain.Close
	h.rejected(o, domain.RejectInvalidPositionAction)

	h.ok(limit(2, perp.ID, domain.Buy, "100", "1"))
	h.ok(limit(1, perp.ID, domain.Sell, "100", "1"))

	// user 1 is short 1: opening a long or closing 2 is refused
	o = limit(1, perp.ID, domain.Buy, "90", "1")
	o.PositionAction = domain.Open
	h.rejected(o, domain.RejectInvalidPositionAction)
	o.PositionAction = domain.Close
	o.Quantity = d("2")
	h.rejected(o, domain.RejectInvalidPositionAction)
}

func closeOrder(user uint64, side domain.Side, price, qty string) command.NewOrder {
	o := limit(user, perp.ID, side, price, qty)
	o.PositionAction = domain.Close
	return o
}

func TestRestingClosesNeverFlipAPosition(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(9, perp.ID, domain.Sell, "100", "1"))
	h.ok(limit(1, perp.ID, domain.Buy, "100", "1"))

	h.ok(closeOrder(1, domain.Sell, "110", "1"))
	h.rejected(closeOrder(1, domain.Sell, "111", "1"), domain.RejectInvalidPositionAction)
	h.rejected(limit(1, perp.ID, domain.Sell, "112", "0.5"), domain.RejectInvalidPositionAction)

	res := h.ok(limit(3, perp.ID, domain.Buy, "111", "2"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.Close, res.Trades[0].SellAction)
	assert.True(t, d("-1").Equal(res.Trades[0].SellPositionDelta))

	pos := h.ok(command.QueryPosition{UserID: 1, Symbol: perp.ID}).Positions[0]
	assert.Equal(t, domain.NoPosition, pos.Side)
	assert.True(t, pos.Quantity.IsZero())
}

func TestRestingOpenOrderCountsAgainstClose(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, perp.ID, domain.Sell, "105", "1"))
	h.ok(limit(1, perp.ID, domain.Buy, "100", "1"))
	h.ok(limit(9, perp.ID, domain.Sell, "100", "1"))

	// the resting sell at 105 already covers the whole long
	h.rejected(closeOrder(1, domain.Sell, "110", "1"), domain.RejectInvalidPositionAction)
	h.rejected(closeOrder(1, domain.Sell, "110", "0.5"), domain.RejectInvalidPositionAction)

	res := h.ok(limit(3, perp.ID, domain.Buy, "105", "2"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.Close, res.Trades[0].SellAction)

	pos := h.ok(command.QueryPosition{UserID: 1, Symbol: perp.ID}).Positions[0]
	assert.Equal(t, domain.NoPosition, pos.Side)
}

func TestLiquidationCancelsReducingOrders(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(9, perp.ID, domain.Sell, "100", "2"))
	h.ok(limit(1, perp.ID, domain.Buy, "100", "2"))
	resting := h.ok(closeOrder(1, domain.Sell, "120", "1")).Order

	res := h.rejected(command.Liquidation{UserID: 1, Symbol: perp.ID}, domain.RejectNoLiquidity)
	assert.Empty(t, res.Cancelled)
	h.ok(command.QueryOrder{OrderID: resting.ID})

	h.ok(limit(3, perp.ID, domain.Buy, "95", "5"))
	res = h.ok(command.Liquidation{UserID: 1, Symbol: perp.ID})
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, resting.ID, res.Cancelled[0].ID)
	require.Len(t, res.Trades, 1)
	assert.True(t, d("2").Equal(res.Trades[0].Quantity))
	h.rejected(command.QueryOrder{OrderID: resting.ID}, domain.RejectNotFound)

	pos := h.ok(command.QueryPosition{UserID: 1, Symbol: perp.ID}).Positions[0]
	assert.True(t, pos.Quantity.IsZero())
}

func TestUnrealizedPnLIsMarkedAtLastPrice(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, perp.ID, domain.Sell, "100", "1"))
	h.ok(limit(2, perp.ID, domain.Buy, "100", "1"))
	h.ok(limit(3, perp.ID, domain.Buy, "104", "1"))
	h.ok(limit(4, perp.ID, domain.Sell, "104", "1"))

	pos := h.ok(command.QueryPosition{UserID: 2, Symbol: perp.ID}).Positions[0]
	assert.True(t, d("4").Equal(pos.UnrealizedPnL), pos.UnrealizedPnL.String())

	all := h.ok(command.QueryPosition{UserID: 2}).Positions
	assert.Len(t, all, 1)
	h.rejected(command.QueryPosition{UserID: 99, Symbol: perp.ID}, domain.RejectNoPosition)
}

func TestLiquidation(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, perp.ID, domain.Sell, "100", "2"))
	h.ok(limit(2, perp.ID, domain.Buy, "100", "2"))
	h.ok(limit(3, perp.ID, domain.Buy, "95", "5"))

	h.rejected(command.Liquidation{UserID: 2, Symbol: perp.ID, Quantity: d("3")}, domain.RejectInvalidQuantity)
	h.rejected(command.Liquidation{UserID: 9, Symbol: perp.ID}, domain.RejectNoPosition)
	h.rejected(command.Liquidation{UserID: 2, Symbol: spot.ID}, domain.RejectInvalidCommand)

	res := h.ok(command.Liquidation{UserID: 2, Symbol: perp.ID})
	require.Len(t, res.Trades, 1)
	assert.True(t, d("95").Equal(res.Trades[0].Price))
	assert.Equal(t, domain.Market, res.Order.Type)
	assert.Equal(t, domain.Close, res.Order.PositionAction)

	pos := h.ok(command.QueryPosition{UserID: 2, Symbol: perp.ID}).Positions[0]
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, d("-10").Equal(pos.RealizedPnL))
}

func TestSymbolAdmin(t *testing.T) {
	h := newHarness(t)
	h.rejected(command.AddSymbol{Symbol: spot}, domain.RejectInvalidCommand)
	h.rejected(command.AddSymbol{Symbol: domain.Symbol{}}, domain.RejectInvalidCommand)
	h.rejected(command.UpdateSymbol{Symbol: domain.Symbol{ID: "NOPE"}}, domain.RejectUnknownSymbol)

	h.ok(limit(1, perp.ID, domain.Sell, "100", "1"))
	h.ok(limit(2, perp.ID, domain.Buy, "100", "1"))
	h.ok(limit(2, perp.ID, domain.Buy, "90", "1"))

	spotLike := perp
	spotLike.SupportsPosition = false
	h.rejected(command.UpdateSymbol{Symbol: spotLike}, domain.RejectInvalidCommand)

	res := h.ok(command.RemoveSymbol{Symbol: perp.ID})
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, domain.Cancelled, res.Cancelled[0].Status)

	stats := h.e.Memory().Stats()
	assert.Equal(t, 1, stats.Symbols)
	assert.Zero(t, stats.Positions)
	h.rejected(command.RemoveSymbol{Symbol: perp.ID}, domain.RejectUnknownSymbol)
}

func TestClearSymbolAndClear(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, spot.ID, domain.Buy, "100", "1"))
	h.ok(limit(1, perp.ID, domain.Buy, "100", "1"))

	res := h.ok(command.ClearSymbol{Symbol: spot.ID})
	assert.Len(t, res.Cancelled, 1)
	_, ok := h.e.Memory().Symbol(spot.ID)
	assert.True(t, ok)
	h.rejected(command.ClearSymbol{Symbol: "NOPE"}, domain.RejectUnknownSymbol)

	before := h.e.Memory().Counters()
	h.ok(command.Clear{})
	stats := h.e.Memory().Stats()
	assert.Zero(t, stats.Symbols)
	assert.Zero(t, stats.RestingOrders)
	assert.Equal(t, before.NextOrderID, h.e.Memory().Counters().NextOrderID)
}

func TestSnapshotCommand(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, spot.ID, domain.Buy, "100", "1"))
	last := h.id

	res := h.ok(command.Snapshot{})
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, last, res.Snapshot.CommandID)
	require.Len(t, h.sink.got, 1)

	h.rejected(command.Snapshot{Symbol: "NOPE"}, domain.RejectUnknownSymbol)

	h.e.SetReplaying(true)
	h.ok(command.Snapshot{Symbol: spot.ID})
	h.e.SetReplaying(false)
	assert.Len(t, h.sink.got, 1)
}

func TestEgressIsStagedForOrderFlowOnly(t *testing.T) {
	h := newHarness(t)
	placed := h.ok(limit(1, spot.ID, domain.Buy, "100", "1"))
	h.ok(command.QueryOrder{OrderID: placed.Order.ID})
	h.ok(command.Snapshot{})
	rej := h.rejected(limit(1, spot.ID, domain.Buy, "1.001", "1"), domain.RejectInvalidPrice)

	var ids []uint64
	for _, s := range h.egress.staged {
		ids = append(ids, s.id)
	}
	assert.Equal(t, []uint64{placed.CommandID, rej.CommandID}, ids)
	assert.Contains(t, string(h.egress.staged[0].payload), `"type":"NEW_ORDER"`)
}

func TestMutatingCommandsAdvanceAppliedID(t *testing.T) {
	h := newHarness(t)
	h.ok(limit(1, spot.ID, domain.Buy, "100", "1"))
	applied := h.id
	h.ok(command.QueryOrder{OrderID: 1})
	h.ok(command.Snapshot{})
	assert.Equal(t, applied, h.e.Memory().Counters().LastCommandID)
}
