package pool

import (
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

// TokenAmount converts a scaled balance into token units: balance * index / 10^(19-decimals).
// Borrows round up so debt is never understated.
func TokenAmount(balance fixed.Uint, p *Pool, bt account.BalanceType) (fixed.Uint, error) {
	scale, err := p.PrecisionScale()
	if err != nil {
		return fixed.Uint{}, err
	}
	mode := fixed.RoundDown
	if bt == account.Borrow {
		mode = fixed.RoundUp
	}
	return balance.MulDiv(p.CumulativeInterest(bt), scale, mode)
}

// EntryTokenAmount is TokenAmount for an account's balance entry
func EntryTokenAmount(e *account.BalanceEntry, p *Pool) (fixed.Uint, error) {
	return TokenAmount(e.Balance, p, e.Type)
}

// SignedTokenAmount is negative for borrows
func SignedTokenAmount(amount fixed.Uint, bt account.BalanceType) (fixed.Int, error) {
	signed, err := amount.Signed()
	if err != nil {
		return fixed.Int{}, err
	}
	if bt == account.Borrow {
		return signed.Neg(), nil
	}
	return signed, nil
}

// ScaledBalance converts token units into pool-internal balance units
func ScaledBalance(tokenAmount fixed.Uint, p *Pool, bt account.BalanceType, mode fixed.Round) (fixed.Uint, error) {
	scale, err := p.PrecisionScale()
	if err != nil {
		return fixed.Uint{}, err
	}
	return tokenAmount.MulDiv(scale, p.CumulativeInterest(bt), mode)
}

// UpdateBalance moves tokenAmount in direction on an account entry and the
// pool totals. An opposite-side entry is drawn down first; any remainder
// flips the entry's type.
func UpdateBalance(p *Pool, e *account.BalanceEntry, tokenAmount fixed.Uint, direction account.BalanceType) error {
	if e.PoolIndex != p.Index {
		return fmt.Errorf("balance entry for pool %d applied to pool %d", e.PoolIndex, p.Index)
	}
	if tokenAmount.IsZero() {
		return nil
	}

	if e.Type == direction || e.Balance.IsZero() {
		e.Type = direction
		return increase(p, e, tokenAmount, direction)
	}

	current, err := EntryTokenAmount(e, p)
	if err != nil {
		return err
	}
	if current.Gt(tokenAmount) {
		delta, err := ScaledBalance(tokenAmount, p, e.Type, reductionRounding(e.Type))
		if err != nil {
			return err
		}
		// a deposit reduction rounded up can exceed the remaining dust
		delta = fixed.MinUint(delta, e.Balance)
		return decrease(p, e, delta)
	}

	if err := decrease(p, e, e.Balance); err != nil {
		return err
	}
	remaining, err := tokenAmount.Sub(current)
	if err != nil {
		return err
	}
	e.Type = direction
	if remaining.IsZero() {
		return nil
	}
	return increase(p, e, remaining, direction)
}

func roundingFor(bt account.BalanceType) fixed.Round {
	if bt == account.Borrow {
		return fixed.RoundUp
	}
	return fixed.RoundDown
}

// reductions round against the account: withdrawn deposits up, repaid borrows down
func reductionRounding(bt account.BalanceType) fixed.Round {
	if bt == account.Deposit {
		return fixed.RoundUp
	}
	return fixed.RoundDown
}

func increase(p *Pool, e *account.BalanceEntry, tokenAmount fixed.Uint, bt account.BalanceType) error {
	delta, err := ScaledBalance(tokenAmount, p, bt, roundingFor(bt))
	if err != nil {
		return err
	}
	if e.Balance, err = e.Balance.Add(delta); err != nil {
		return err
	}
	if bt == account.Borrow {
		p.BorrowBalance, err = p.BorrowBalance.Add(delta)
	} else {
		p.DepositBalance, err = p.DepositBalance.Add(delta)
	}
	return err
}

func decrease(p *Pool, e *account.BalanceEntry, delta fixed.Uint) error {
	var err error
	if e.Balance, err = e.Balance.Sub(delta); err != nil {
		return err
	}
	if e.Type == account.Borrow {
		p.BorrowBalance, err = p.BorrowBalance.Sub(delta)
	} else {
		p.DepositBalance, err = p.DepositBalance.Sub(delta)
	}
	if err != nil {
		return fmt.Errorf("pool %d %s total: %w", p.Index, e.Type, err)
	}
	return nil
}
