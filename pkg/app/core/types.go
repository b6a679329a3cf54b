// Package core holds the enums shared by the account, market, pool and margin packages.
package core

// Direction is the side of an order or position
type Direction int8

const (
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Opposite returns the closing side.
func (d Direction) Opposite() Direction {
	return -d
}

// MarketType distinguishes perpetual markets from spot pools
type MarketType int8

const (
	Perp MarketType = iota
	Spot
)

func (mt MarketType) String() string {
	switch mt {
	case Perp:
		return "perp"
	case Spot:
		return "spot"
	default:
		return "unknown"
	}
}

// Tier selects which weight and margin-ratio table a valuation uses.
type Tier uint8

const (
	Initial     Tier = iota // admitting new exposure
	Maintenance             // deciding liquidation
)

func (t Tier) String() string {
	switch t {
	case Initial:
		return "initial"
	case Maintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// ParseTier maps "initial" and "maintenance" to a Tier
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "initial":
		return Initial, true
	case "maintenance", "":
		return Maintenance, true
	default:
		return 0, false
	}
}
