package auction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
)

func auctionOrder(d core.Direction, start, end uint64, duration uint8) *account.Order {
	return &account.Order{
		MarketIndex:       0,
		MarketType:        core.Perp,
		Status:            account.OrderOpen,
		Direction:         d,
		AuctionStartPrice: start,
		AuctionEndPrice:   end,
		Slot:              100,
		AuctionDuration:   duration,
	}
}

func TestCalculateAuctionPrices(t *testing.T) {
	tests := []struct {
		name       string
		direction  core.Direction
		limit      uint64
		oracle     int64
		start, end uint64
	}{
		{"long limit", core.Long, 100_000_000, 99_000_000, 99_000_000, 100_000_000},
		{"short limit", core.Short, 100_000_000, 99_000_000, 101_000_000, 100_000_000},
		{"long market", core.Long, 0, 50_000_000, 50_000_000, 50_500_000},
		{"short market", core.Short, 0, 50_000_000, 50_000_000, 49_500_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := CalculateAuctionPrices(tt.direction, tt.limit, tt.oracle)
			require.NoError(t, err)
			require.Equal(t, tt.start, start)
			require.Equal(t, tt.end, end)
		})
	}

	_, _, err := CalculateAuctionPrices(core.Long, 0, 0)
	require.Error(t, err)
}

func TestPriceEndpoints(t *testing.T) {
	for _, d := range []core.Direction{core.Long, core.Short} {
		start, end := uint64(99_000_000), uint64(100_000_000)
		if d == core.Short {
			start, end = end, start
		}
		o := auctionOrder(d, start, end, 10)

		p, err := Price(o, o.Slot, 1)
		require.NoError(t, err)
		require.Equal(t, start, p, "%s at elapsed 0", d)

		for _, elapsed := range []uint64{10, 11, 1000} {
			p, err = Price(o, o.Slot+elapsed, 1)
			require.NoError(t, err)
			require.Equal(t, end, p, "%s at elapsed %d", d, elapsed)
		}
	}
}

func TestPriceInterpolates(t *testing.T) {
	long := auctionOrder(core.Long, 99_000_000, 100_000_000, 10)
	p, err := Price(long, long.Slot+5, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(99_500_000), p)

	short := auctionOrder(core.Short, 101_000_000, 100_000_000, 10)
	p, err = Price(short, short.Slot+3, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(100_700_000), p)
}

func TestPriceZeroDurationReturnsEnd(t *testing.T) {
	o := auctionOrder(core.Long, 1, 7_777_777, 0)
	for _, slot := range []uint64{100, 101, 5000} {
		p, err := Price(o, slot, 1_000_000)
		require.NoError(t, err)
		require.Equal(t, uint64(7_777_777), p)
	}
}

func TestPriceSnapsToTick(t *testing.T) {
	long := auctionOrder(core.Long, 99_000_000, 100_000_000, 3)
	p, err := Price(long, long.Slot+1, 1_000)
	require.NoError(t, err)
	// 99_333_333 snapped down
	require.Equal(t, uint64(99_333_000), p)

	short := auctionOrder(core.Short, 101_000_000, 100_000_000, 3)
	p, err = Price(short, short.Slot+1, 1_000)
	require.NoError(t, err)
	// 100_666_667 snapped up
	require.Equal(t, uint64(100_667_000), p)
}

func TestPriceErrors(t *testing.T) {
	o := auctionOrder(core.Long, 99, 100, 10)
	_, err := Price(o, o.Slot-1, 1)
	require.True(t, errors.Is(err, ErrSlotBeforeOrder))

	_, err = Price(o, o.Slot, 0)
	require.True(t, errors.Is(err, ErrInvalidTickSize))

	inverted := auctionOrder(core.Long, 100, 99, 10)
	_, err = Price(inverted, inverted.Slot, 1)
	require.True(t, errors.Is(err, ErrInvalidAuction))
}

func TestStandardizePrice(t *testing.T) {
	tests := []struct {
		price, tick uint64
		d           core.Direction
		want        uint64
	}{
		{1050, 100, core.Long, 1000},
		{1050, 100, core.Short, 1100},
		{1000, 100, core.Long, 1000},
		{1000, 100, core.Short, 1000},
	}
	for _, tt := range tests {
		got, err := StandardizePrice(tt.price, tt.tick, tt.d)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestIsComplete(t *testing.T) {
	done, err := IsComplete(100, 0, 100)
	require.NoError(t, err)
	require.True(t, done)

	done, err = IsComplete(100, 10, 110)
	require.NoError(t, err)
	require.False(t, done)

	done, err = IsComplete(100, 10, 111)
	require.NoError(t, err)
	require.True(t, done)

	_, err = IsComplete(100, 10, 99)
	require.Error(t, err)
}

func TestSatisfiesMaker(t *testing.T) {
	maker := &account.Order{Direction: core.Long, Price: 100, MarketType: core.Perp}
	taker := &account.Order{Direction: core.Short, MarketType: core.Perp}

	require.True(t, SatisfiesMaker(maker, taker, 100))
	require.True(t, SatisfiesMaker(maker, taker, 90))
	require.False(t, SatisfiesMaker(maker, taker, 101))

	sameSide := &account.Order{Direction: core.Long, MarketType: core.Perp}
	require.False(t, SatisfiesMaker(maker, sameSide, 50))

	otherMarket := &account.Order{Direction: core.Short, MarketIndex: 3, MarketType: core.Perp}
	require.False(t, SatisfiesMaker(maker, otherMarket, 50))

	askMaker := &account.Order{Direction: core.Short, Price: 100, MarketType: core.Perp}
	bidTaker := &account.Order{Direction: core.Long, MarketType: core.Perp}
	require.True(t, SatisfiesMaker(askMaker, bidTaker, 110))
	require.False(t, SatisfiesMaker(askMaker, bidTaker, 99))
}

func TestPerpFulfillmentMethods(t *testing.T) {
	taker := auctionOrder(core.Long, 99, 100, 10)

	tests := []struct {
		name       string
		maker, amm bool
		slot       uint64
		want       []PerpMethod
	}{
		{"nothing available", false, false, 200, nil},
		{"maker during auction", true, true, 105, []PerpMethod{PerpMatch}},
		{"amm during auction", false, true, 105, nil},
		{"both after auction", true, true, 200, []PerpMethod{PerpMatch, PerpAMM}},
		{"amm after auction", false, true, 200, []PerpMethod{PerpAMM}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PerpFulfillmentMethods(taker, tt.maker, tt.amm, tt.slot)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSpotFulfillmentMethods(t *testing.T) {
	taker := auctionOrder(core.Short, 101, 100, 10)
	taker.MarketType = core.Spot

	got, err := SpotFulfillmentMethods(taker, true, true, 200)
	require.NoError(t, err)
	require.Equal(t, []SpotMethod{SpotMatch, SpotExternal}, got)

	got, err = SpotFulfillmentMethods(taker, false, true, 105)
	require.NoError(t, err)
	require.Empty(t, got)

	taker.PostOnly = true
	got, err = SpotFulfillmentMethods(taker, true, true, 200)
	require.NoError(t, err)
	require.Equal(t, []SpotMethod{SpotMatch}, got)
}
