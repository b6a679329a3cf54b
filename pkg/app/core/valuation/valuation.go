// Package valuation turns balances and positions into signed quote value.
package valuation

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

var ErrInvalidTWAP = errors.New("valuation: time-weighted price must be positive")

// TokenValue is amount * price / 10^decimals in quote precision. The sign of
// amount carries through and the quotient rounds toward negative infinity, so
// a liability is never valued below what is owed.
func TokenValue(amount fixed.Int, decimals uint8, price int64) (fixed.Int, error) {
	if amount.IsZero() {
		return fixed.Int{}, nil
	}
	scale, err := fixed.Pow10(decimals)
	if err != nil {
		return fixed.Int{}, err
	}
	value, err := amount.Mul(fixed.NewInt(price))
	if err != nil {
		return fixed.Int{}, err
	}
	return value.QuoFloor(scale)
}

// StrictTokenValue values assets at min(spot, twap) and liabilities
// (negative amounts) at max(spot, twap). Without a twap it falls back to spot.
func StrictTokenValue(amount fixed.Int, decimals uint8, q oracle.Quote) (fixed.Int, error) {
	if amount.IsZero() {
		return fixed.Int{}, nil
	}
	if !q.HasTWAP() {
		return TokenValue(amount, decimals, q.Price)
	}
	if q.TWAP <= 0 {
		return fixed.Int{}, fmt.Errorf("%w: %d", ErrInvalidTWAP, q.TWAP)
	}
	price := min(q.Price, q.TWAP)
	if amount.IsNegative() {
		price = max(q.Price, q.TWAP)
	}
	return TokenValue(amount, decimals, price)
}

// BaseAssetValue is |base| * price in quote precision
func BaseAssetValue(base fixed.Int, price int64) (fixed.Uint, error) {
	if price < 0 {
		return fixed.Uint{}, fmt.Errorf("%w: %d", oracle.ErrInvalidPrice, price)
	}
	return base.Abs().MulDiv(fixed.NewUint(uint64(price)), fixed.NewUint(fixed.PriceTimesBaseToQuoteRatio), fixed.RoundDown)
}

// BalanceValue returns the token amount of an entry and its signed value
// (negative for borrows). Strict selects StrictTokenValue.
func BalanceValue(e *account.BalanceEntry, p *pool.Pool, q oracle.Quote, strict bool) (fixed.Uint, fixed.Int, error) {
	amount, err := pool.EntryTokenAmount(e, p)
	if err != nil {
		return fixed.Uint{}, fixed.Int{}, err
	}
	signed, err := pool.SignedTokenAmount(amount, e.Type)
	if err != nil {
		return fixed.Uint{}, fixed.Int{}, err
	}
	var value fixed.Int
	if strict {
		value, err = StrictTokenValue(signed, p.Decimals, q)
	} else {
		value, err = TokenValue(signed, p.Decimals, q.Price)
	}
	if err != nil {
		return fixed.Uint{}, fixed.Int{}, fmt.Errorf("value pool %d balance: %w", p.Index, err)
	}
	return amount, value, nil
}
