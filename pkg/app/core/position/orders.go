package position

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

var ErrOrderNotOpen = errors.New("position: order not open")

// PlaceOrder records a resting order and reserves its worst-case exposure on
// the account's position. Returns the order slot.
func PlaceOrder(acc *account.Account, o account.Order) (int, error) {
	if o.BaseAssetAmount == 0 {
		return 0, fmt.Errorf("order size must be positive")
	}
	slot, err := acc.FreeOrderSlot()
	if err != nil {
		return 0, err
	}
	if o.MarketType == core.Perp {
		pos, err := acc.ForcePosition(o.MarketIndex)
		if err != nil {
			return 0, err
		}
		if err := reserve(pos, &o, true); err != nil {
			return 0, err
		}
	}
	o.OrderID = acc.NextOrderID
	o.Status = account.OrderOpen
	acc.NextOrderID++
	acc.Orders[slot] = o
	return slot, nil
}

// Canceller is the default account.OrderCanceller
type Canceller struct{}

// CancelOrder marks the order canceled and releases its reserved exposure
func (Canceller) CancelOrder(acc *account.Account, orderIndex int, reason account.CancelReason) error {
	o, err := acc.Order(orderIndex)
	if err != nil {
		return err
	}
	if o.Status != account.OrderOpen {
		return fmt.Errorf("%w: slot %d is %s", ErrOrderNotOpen, orderIndex, o.Status)
	}
	if o.MarketType == core.Perp {
		pos, err := acc.Position(o.MarketIndex)
		if err != nil {
			return err
		}
		if err := reserve(pos, o, false); err != nil {
			return fmt.Errorf("cancel order %d (%s): %w", o.OrderID, reason, err)
		}
	}
	o.Status = account.OrderCanceled
	return nil
}

var _ account.OrderCanceller = Canceller{}

func reserve(pos *account.Position, o *account.Order, add bool) error {
	remaining := fixed.NewInt(0)
	if r := o.RemainingBaseAssetAmount(); r > 0 {
		v, err := fixed.NewUint(r).Signed()
		if err != nil {
			return err
		}
		remaining = v
	}
	if o.Direction == core.Short {
		remaining = remaining.Neg()
	}
	if !add {
		remaining = remaining.Neg()
	}

	var err error
	if o.Direction == core.Long {
		pos.OpenBids, err = pos.OpenBids.Add(remaining)
	} else {
		pos.OpenAsks, err = pos.OpenAsks.Add(remaining)
	}
	if err != nil {
		return err
	}

	if add {
		pos.OpenOrders++
	} else if pos.OpenOrders > 0 {
		pos.OpenOrders--
	}
	return nil
}
