// Package auction prices taker orders during their start-of-life auction and
// decides where they may be filled.
//
// An order's price moves linearly from AuctionStartPrice to AuctionEndPrice
// over AuctionDuration slots, beginning at the order's Slot. Longs start low
// and rise; shorts start high and fall.
package auction

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

var (
	ErrSlotBeforeOrder  = errors.New("auction: slot precedes order slot")
	ErrInvalidTickSize  = errors.New("auction: tick size must be positive")
	ErrInvalidAuction   = errors.New("auction: start and end prices are on the wrong sides")
	ErrInvalidDirection = errors.New("auction: invalid direction")
)

// spreadStep is the 1% offset applied around the oracle price
const spreadStep = fixed.BidAskSpreadPrecision / 100

// CalculateAuctionPrices derives the start and end prices for a new order.
// With a limit price the auction ends at the limit and starts 1% better for
// the taker. Without one it starts at the oracle price and ends 1% past it.
func CalculateAuctionPrices(direction core.Direction, limitPrice uint64, oraclePrice int64) (start, end uint64, err error) {
	if limitPrice > 0 {
		switch direction {
		case core.Long:
			return limitPrice - limitPrice/100, limitPrice, nil
		case core.Short:
			bump := limitPrice / 100
			if limitPrice > ^uint64(0)-bump {
				return 0, 0, fixed.ErrArithmeticOverflow
			}
			return limitPrice + bump, limitPrice, nil
		default:
			return 0, 0, ErrInvalidDirection
		}
	}

	if oraclePrice <= 0 {
		return 0, 0, fmt.Errorf("auction: oracle price must be positive, got %d", oraclePrice)
	}
	var numerator uint64
	switch direction {
	case core.Long:
		numerator = fixed.BidAskSpreadPrecision + spreadStep
	case core.Short:
		numerator = fixed.BidAskSpreadPrecision - spreadStep
	default:
		return 0, 0, ErrInvalidDirection
	}
	oracle := fixed.NewUint(uint64(oraclePrice))
	endPrice, err := oracle.MulDiv(fixed.NewUint(numerator), fixed.NewUint(fixed.BidAskSpreadPrecision), fixed.RoundDown)
	if err != nil {
		return 0, 0, err
	}
	end, err = endPrice.Uint64()
	if err != nil {
		return 0, 0, err
	}
	return uint64(oraclePrice), end, nil
}

// Price returns the order's auction price at slot, snapped to tickSize
func Price(o *account.Order, slot, tickSize uint64) (uint64, error) {
	if slot < o.Slot {
		return 0, fmt.Errorf("%w: slot %d, order slot %d", ErrSlotBeforeOrder, slot, o.Slot)
	}
	if o.AuctionDuration == 0 {
		return o.AuctionEndPrice, nil
	}

	elapsed := min(slot-o.Slot, uint64(o.AuctionDuration))
	duration := fixed.NewUint(uint64(o.AuctionDuration))

	var price uint64
	switch o.Direction {
	case core.Long:
		if o.AuctionEndPrice < o.AuctionStartPrice {
			return 0, fmt.Errorf("%w: long %d -> %d", ErrInvalidAuction, o.AuctionStartPrice, o.AuctionEndPrice)
		}
		delta, err := interpolate(o.AuctionEndPrice-o.AuctionStartPrice, elapsed, duration)
		if err != nil {
			return 0, err
		}
		price = o.AuctionStartPrice + delta
	case core.Short:
		if o.AuctionStartPrice < o.AuctionEndPrice {
			return 0, fmt.Errorf("%w: short %d -> %d", ErrInvalidAuction, o.AuctionStartPrice, o.AuctionEndPrice)
		}
		delta, err := interpolate(o.AuctionStartPrice-o.AuctionEndPrice, elapsed, duration)
		if err != nil {
			return 0, err
		}
		price = o.AuctionStartPrice - delta
	default:
		return 0, ErrInvalidDirection
	}

	return StandardizePrice(price, tickSize, o.Direction)
}

func interpolate(span, elapsed uint64, duration fixed.Uint) (uint64, error) {
	delta, err := fixed.NewUint(span).MulDiv(fixed.NewUint(elapsed), duration, fixed.RoundDown)
	if err != nil {
		return 0, err
	}
	return delta.Uint64()
}

// StandardizePrice snaps price onto the tick grid. Bids round down and asks
// round up, so snapping never makes an order more aggressive.
func StandardizePrice(price, tickSize uint64, d core.Direction) (uint64, error) {
	if tickSize == 0 {
		return 0, ErrInvalidTickSize
	}
	rem := price % tickSize
	if rem == 0 {
		return price, nil
	}
	switch d {
	case core.Long:
		return price - rem, nil
	case core.Short:
		up := tickSize - rem
		if price > ^uint64(0)-up {
			return 0, fixed.ErrArithmeticOverflow
		}
		return price + up, nil
	default:
		return 0, ErrInvalidDirection
	}
}

// IsComplete reports whether the auction starting at orderSlot has run its
// course by slot
func IsComplete(orderSlot uint64, duration uint8, slot uint64) (bool, error) {
	if duration == 0 {
		return true, nil
	}
	if slot < orderSlot {
		return false, fmt.Errorf("%w: slot %d, order slot %d", ErrSlotBeforeOrder, slot, orderSlot)
	}
	return slot-orderSlot > uint64(duration), nil
}

// SatisfiesMaker reports whether a taker auctioning at auctionPrice crosses
// the maker's resting price. Orders on the same side or in different markets
// never match.
func SatisfiesMaker(maker, taker *account.Order, auctionPrice uint64) bool {
	if maker.Direction == taker.Direction ||
		maker.MarketIndex != taker.MarketIndex ||
		maker.MarketType != taker.MarketType {
		return false
	}
	switch maker.Direction {
	case core.Long:
		return auctionPrice <= maker.Price
	case core.Short:
		return auctionPrice >= maker.Price
	default:
		return false
	}
}
