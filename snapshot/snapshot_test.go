package snapshot

import (
	"bytes"
	"encoding/json"
	"testing"

	"matchcore/domain"
	"matchcore/domain/orderbook"
	"matchcore/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T) *memory.Manager {
	t.Helper()
	m := memory.NewManager()
	require.NoError(t, m.AddSymbol(domain.Symbol{ID: "BTC-PERP", PricePrecision: 1, QuantityPrecision: 3, SupportsPosition: true, Tradeable: true}))
	require.NoError(t, m.AddSymbol(domain.Symbol{ID: "ETHUSDT", PricePrecision: 2, QuantityPrecision: 3, Tradeable: true}))

	book := m.GetOrCreateOrderBook("BTC-PERP")
	for i, side := range []domain.Side{domain.Sell, domain.Sell, domain.Buy} {
		id := m.NextOrderID()
		o := &orderbook.Order{
			ID: id, UserID: uint64(10 + i), Symbol: "BTC-PERP", Side: side, Type: domain.Limit,
			Price: d("100"), Quantity: d("2"), Remaining: d("2"), Status: domain.Pending,
		}
		if side == domain.Buy {
			o.Price = d("99")
		}
		require.NoError(t, book.AddOrder(o))
	}
	book.UpdateLastPrice(d("100.5"))
	book.AddVolume(d("3"))

	p := m.GetOrCreatePosition(10, "BTC-PERP")
	p.Apply(domain.Buy, d("1"), d("100"))
	m.NextTradeID()
	m.MarkApplied(42)
	return m
}

func encodeJSON(t *testing.T, s *Snapshot) string {
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}

func TestCaptureRestoreIsExact(t *testing.T) {
	src := seed(t)
	snap, err := Capture(src, "", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.CommandID)

	dst := memory.NewManager()
	require.NoError(t, dst.AddSymbol(domain.Symbol{ID: "STALE", Tradeable: true}))
	require.NoError(t, Restore(dst, snap))

	again, err := Capture(dst, "", 1000)
	require.NoError(t, err)
	assert.Equal(t, encodeJSON(t, snap), encodeJSON(t, again))

	_, ok := dst.Symbol("STALE")
	assert.False(t, ok, "restore replaces state entirely")

	book, ok := dst.OrderBook("BTC-PERP")
	require.True(t, ok)
	lvl := book.Best(domain.Sell)
	require.NotNil(t, lvl)
	assert.Equal(t, uint64(1), lvl.Head().ID, "FIFO preserved")
	assert.Equal(t, uint64(4), dst.NextOrderID())
}

func TestCaptureSingleSymbol(t *testing.T) {
	m := seed(t)
	snap, err := Capture(m, "BTC-PERP", 1)
	require.NoError(t, err)
	assert.Len(t, snap.Symbols, 1)
	assert.Len(t, snap.Books, 1)
	assert.False(t, snap.Full())
	assert.ErrorIs(t, Validate(snap), ErrInvalidSnapshot)

	_, err = Capture(m, "NOPE", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestValidateRejectsIncompleteSnapshots(t *testing.T) {
	cases := map[string]func(s *Snapshot){
		"book without symbol": func(s *Snapshot) {
			s.Symbols = s.Symbols[1:]
		},
		"position without symbol": func(s *Snapshot) {
			s.Positions[0].Symbol = "GONE"
		},
		"broken fill arithmetic": func(s *Snapshot) {
			s.Books[0].Orders[0].Filled = d("1")
		},
		"duplicate order": func(s *Snapshot) {
			s.Books[0].Orders = append(s.Books[0].Orders, s.Books[0].Orders[0])
		},
		"closing order without position": func(s *Snapshot) {
			s.Books[0].Orders[2].PositionAction = domain.Close
		},
		"counter mismatch": func(s *Snapshot) {
			s.CommandID++
		},
		"flat position with side": func(s *Snapshot) {
			s.Positions[0].Quantity = decimal.Zero
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			snap, err := Capture(seed(t), "", 1)
			require.NoError(t, err)
			mutate(snap)
			assert.ErrorIs(t, Validate(snap), ErrInvalidSnapshot)

			m := seed(t)
			require.Error(t, Restore(m, snap))
			assert.Equal(t, 3, m.Stats().RestingOrders, "failed restore leaves state alone")
		})
	}
}

func TestCodecDetectsTampering(t *testing.T) {
	snap, err := Capture(seed(t), "", 7)
	require.NoError(t, err)

	b, err := Encode(snap)
	require.NoError(t, err)

	h, err := DecodeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h.CommandID)
	assert.Equal(t, int64(7), h.CreatedAt)
	assert.Len(t, h.Checksum, 32)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, encodeJSON(t, snap), encodeJSON(t, out))

	bad := append([]byte(nil), b...)
	idx := bytes.Index(bad, h.Checksum)
	require.Positive(t, idx)
	bad[idx] ^= 0xff
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = Decode([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}
