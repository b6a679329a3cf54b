package auction

import (
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
)

// PerpMethod is a venue a perpetual taker order can be filled against
type PerpMethod uint8

const (
	PerpMatch PerpMethod = iota // resting maker orders
	PerpAMM
)

func (m PerpMethod) String() string {
	switch m {
	case PerpMatch:
		return "match"
	case PerpAMM:
		return "amm"
	default:
		return "unknown"
	}
}

// SpotMethod is a venue a spot taker order can be filled against
type SpotMethod uint8

const (
	SpotMatch SpotMethod = iota // resting maker orders
	SpotExternal
)

func (m SpotMethod) String() string {
	switch m {
	case SpotMatch:
		return "match"
	case SpotExternal:
		return "external"
	default:
		return "unknown"
	}
}

// PerpFulfillmentMethods lists, in priority order, where a perp taker may be
// filled at slot. Makers come first; the AMM only once the auction is over.
func PerpFulfillmentMethods(taker *account.Order, makerAvailable, ammAvailable bool, slot uint64) ([]PerpMethod, error) {
	var methods []PerpMethod
	if makerAvailable {
		methods = append(methods, PerpMatch)
	}
	if ammAvailable {
		done, err := IsComplete(taker.Slot, taker.AuctionDuration, slot)
		if err != nil {
			return nil, err
		}
		if done {
			methods = append(methods, PerpAMM)
		}
	}
	return methods, nil
}

// SpotFulfillmentMethods lists, in priority order, where a spot taker may be
// filled at slot. Post-only orders never reach the external venue.
func SpotFulfillmentMethods(taker *account.Order, makerAvailable, externalAvailable bool, slot uint64) ([]SpotMethod, error) {
	var methods []SpotMethod
	if makerAvailable {
		methods = append(methods, SpotMatch)
	}
	if !taker.PostOnly && externalAvailable {
		done, err := IsComplete(taker.Slot, taker.AuctionDuration, slot)
		if err != nil {
			return nil, err
		}
		if done {
			methods = append(methods, SpotExternal)
		}
	}
	return methods, nil
}
