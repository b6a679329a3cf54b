package risk

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/crypto"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

var (
	ErrBadSignature   = errors.New("risk: signature does not match liquidator")
	ErrNonceTooLow    = errors.New("risk: nonce already used")
	ErrRequestExpired = errors.New("risk: request past deadline")
)

// SubmitSigned verifies a liquidator-signed request and runs it. Nonces are
// strictly increasing per liquidator and are consumed only by calls that
// reach the controller.
func (a *App) SubmitSigned(verifier *crypto.EIP712Signer, req *crypto.LiquidationEIP712, signature []byte) (*liquidation.Record, error) {
	ok, err := verifier.VerifyLiquidation(req, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ok {
		return nil, ErrBadSignature
	}

	if req.Nonce == nil || !req.Nonce.IsUint64() {
		return nil, fmt.Errorf("%w: nonce out of range", ErrNonceTooLow)
	}
	if req.Deadline != nil && req.Deadline.Sign() > 0 {
		if req.Deadline.Cmp(big.NewInt(a.now())) < 0 {
			return nil, fmt.Errorf("%w: deadline %s", ErrRequestExpired, req.Deadline)
		}
	}
	maxTransfer, err := fixed.ParseUint(bigOrZero(req.MaxTransfer).String())
	if err != nil {
		return nil, fmt.Errorf("max transfer: %w", err)
	}

	a.mu.Lock()
	nonce := req.Nonce.Uint64()
	if last, seen := a.nonces[req.Liquidator]; seen && nonce <= last {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %d <= %d", ErrNonceTooLow, nonce, last)
	}
	a.nonces[req.Liquidator] = nonce
	a.mu.Unlock()

	return a.Liquidate(Request{
		Flow:          liquidation.Flow(req.Flow),
		User:          req.User,
		Liquidator:    req.Liquidator,
		MarketIndex:   req.MarketIndex,
		AssetPool:     req.AssetPool,
		LiabilityPool: req.LiabilityPool,
		MaxTransfer:   maxTransfer,
	})
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
