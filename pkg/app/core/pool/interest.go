package pool

import (
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// InterestAccumulated is the growth of each cumulative index over one accrual
type InterestAccumulated struct {
	DepositInterest fixed.Uint
	BorrowInterest  fixed.Uint
}

// Utilization is borrowed / deposited tokens in fixed.SpotUtilizationPrecision.
// It is 0 when both are zero and saturates at 100% when there are borrows but
// no deposits.
func Utilization(depositTokens, borrowTokens fixed.Uint) (fixed.Uint, error) {
	full := fixed.NewUint(fixed.SpotUtilizationPrecision)
	if borrowTokens.IsZero() {
		return fixed.Uint{}, nil
	}
	if depositTokens.IsZero() {
		return full, nil
	}
	u, err := borrowTokens.MulDiv(full, depositTokens, fixed.RoundDown)
	if err != nil {
		return fixed.Uint{}, err
	}
	return fixed.MinUint(u, full), nil
}

// Utilization of the pool at its current indices
func (p *Pool) Utilization() (fixed.Uint, error) {
	deposits, err := TokenAmount(p.DepositBalance, p, account.Deposit)
	if err != nil {
		return fixed.Uint{}, err
	}
	borrows, err := TokenAmount(p.BorrowBalance, p, account.Borrow)
	if err != nil {
		return fixed.Uint{}, err
	}
	return Utilization(deposits, borrows)
}

// BorrowRate maps utilization onto the two-segment rate curve: 0 to the
// optimal rate below the optimal utilization, then up to the max rate.
func (p *Pool) BorrowRate(utilization fixed.Uint) (fixed.Uint, error) {
	utilPrecision := fixed.NewUint(fixed.SpotUtilizationPrecision)
	optimalUtil := fixed.NewUint(uint64(p.OptimalUtilization))
	optimalRate := fixed.NewUint(uint64(p.OptimalBorrowRate))

	if utilization.Gt(optimalUtil) {
		surplus, err := utilization.Sub(optimalUtil)
		if err != nil {
			return fixed.Uint{}, err
		}
		span, err := utilPrecision.Sub(optimalUtil)
		if err != nil {
			return fixed.Uint{}, err
		}
		slope, err := fixed.NewUint(uint64(p.MaxBorrowRate - p.OptimalBorrowRate)).MulDiv(utilPrecision, span, fixed.RoundDown)
		if err != nil {
			return fixed.Uint{}, err
		}
		growth, err := surplus.MulDiv(slope, utilPrecision, fixed.RoundDown)
		if err != nil {
			return fixed.Uint{}, err
		}
		return optimalRate.Add(growth)
	}

	slope, err := optimalRate.MulDiv(utilPrecision, optimalUtil, fixed.RoundDown)
	if err != nil {
		return fixed.Uint{}, err
	}
	return utilization.MulDiv(slope, utilPrecision, fixed.RoundDown)
}

// DepositRate is the borrow rate scaled by utilization
func DepositRate(borrowRate, utilization fixed.Uint) (fixed.Uint, error) {
	return borrowRate.MulDiv(utilization, fixed.NewUint(fixed.SpotUtilizationPrecision), fixed.RoundDown)
}

// AccumulatedInterest computes index growth between the last accrual and now
// without mutating the pool
func (p *Pool) AccumulatedInterest(now int64) (InterestAccumulated, error) {
	if now <= p.LastInterestTs {
		return InterestAccumulated{}, nil
	}
	utilization, err := p.Utilization()
	if err != nil {
		return InterestAccumulated{}, fmt.Errorf("pool %d utilization: %w", p.Index, err)
	}
	if utilization.IsZero() {
		return InterestAccumulated{}, nil
	}

	borrowRate, err := p.BorrowRate(utilization)
	if err != nil {
		return InterestAccumulated{}, fmt.Errorf("pool %d borrow rate: %w", p.Index, err)
	}
	elapsed := fixed.NewUint(uint64(now - p.LastInterestTs))
	modifiedBorrowRate, err := borrowRate.Mul(elapsed)
	if err != nil {
		return InterestAccumulated{}, err
	}
	modifiedDepositRate, err := DepositRate(modifiedBorrowRate, utilization)
	if err != nil {
		return InterestAccumulated{}, err
	}

	yearTimesPrecision := fixed.NewUint(fixed.OneYear * fixed.SpotRatePrecision)
	borrowInterest, err := p.CumulativeBorrowInterest.MulDiv(modifiedBorrowRate, yearTimesPrecision, fixed.RoundDown)
	if err != nil {
		return InterestAccumulated{}, err
	}
	// borrowers always pay at least the truncated remainder
	if borrowInterest, err = borrowInterest.Add(fixed.NewUint(1)); err != nil {
		return InterestAccumulated{}, err
	}
	depositInterest, err := p.CumulativeDepositInterest.MulDiv(modifiedDepositRate, yearTimesPrecision, fixed.RoundDown)
	if err != nil {
		return InterestAccumulated{}, err
	}

	return InterestAccumulated{DepositInterest: depositInterest, BorrowInterest: borrowInterest}, nil
}

// UpdateCumulativeInterest accrues interest up to now. Calls with a timestamp
// at or before the last accrual leave the pool unchanged.
func (p *Pool) UpdateCumulativeInterest(now int64) (InterestAccumulated, error) {
	if now <= p.LastInterestTs {
		return InterestAccumulated{}, nil
	}
	acc, err := p.AccumulatedInterest(now)
	if err != nil {
		return InterestAccumulated{}, err
	}

	deposit, err := p.CumulativeDepositInterest.Add(acc.DepositInterest)
	if err != nil {
		return InterestAccumulated{}, fmt.Errorf("pool %d deposit index: %w", p.Index, err)
	}
	borrow, err := p.CumulativeBorrowInterest.Add(acc.BorrowInterest)
	if err != nil {
		return InterestAccumulated{}, fmt.Errorf("pool %d borrow index: %w", p.Index, err)
	}

	p.CumulativeDepositInterest = deposit
	p.CumulativeBorrowInterest = borrow
	p.LastInterestTs = now
	return acc, nil
}
