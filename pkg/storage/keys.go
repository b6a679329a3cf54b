package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	acc:<address>         -> Account
//	pool:<index>          -> Pool
//	mkt:<index>           -> Market
//	liq:<ts>:<id>         -> liquidation Record
//
// Indexes and timestamps are zero-padded so prefix scans come back in order.
const (
	prefixAccount     = "acc:"
	prefixPool        = "pool:"
	prefixMarket      = "mkt:"
	prefixLiquidation = "liq:"
)

// accountKey returns the key for an account
// Format: "acc:{address}"
func accountKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, addr.Hex()))
}

// poolKey returns the key for a pool
// Format: "pool:{index}"
func poolKey(index uint16) []byte {
	return []byte(fmt.Sprintf("%s%05d", prefixPool, index))
}

// marketKey returns the key for a market
// Format: "mkt:{index}"
func marketKey(index uint16) []byte {
	return []byte(fmt.Sprintf("%s%05d", prefixMarket, index))
}

// liquidationKey returns the key for a liquidation record
// Format: "liq:{timestamp}:{id}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func liquidationKey(ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixLiquidation, ts, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
