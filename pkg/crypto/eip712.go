package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures across deployments
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// DefaultDomain is the local development domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperRisk",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// LiquidationEIP712 is the typed data a liquidator signs to take over risk
// from an account
type LiquidationEIP712 struct {
	Flow          uint8 // liquidation.Flow
	User          common.Address
	Liquidator    common.Address
	MarketIndex   uint16
	AssetPool     uint16
	LiabilityPool uint16
	MaxTransfer   *big.Int
	Nonce         *big.Int // strictly increasing per liquidator
	Deadline      *big.Int // unix seconds, 0 = no expiry
}

var liquidationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Liquidation": []apitypes.Type{
		{Name: "flow", Type: "uint8"},
		{Name: "user", Type: "address"},
		{Name: "liquidator", Type: "address"},
		{Name: "marketIndex", Type: "uint16"},
		{Name: "assetPool", Type: "uint16"},
		{Name: "liabilityPool", Type: "uint16"},
		{Name: "maxTransfer", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// EIP712Signer hashes, signs and verifies liquidation requests in one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) typedData(req *LiquidationEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       liquidationTypes,
		PrimaryType: "Liquidation",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"flow":          fmt.Sprintf("%d", req.Flow),
			"user":          req.User.Hex(),
			"liquidator":    req.Liquidator.Hex(),
			"marketIndex":   fmt.Sprintf("%d", req.MarketIndex),
			"assetPool":     fmt.Sprintf("%d", req.AssetPool),
			"liabilityPool": fmt.Sprintf("%d", req.LiabilityPool),
			"maxTransfer":   bigOrZero(req.MaxTransfer).String(),
			"nonce":         bigOrZero(req.Nonce).String(),
			"deadline":      bigOrZero(req.Deadline).String(),
		},
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// HashLiquidation returns keccak256("\x19\x01" || domainSeparator || structHash)
func (e *EIP712Signer) HashLiquidation(req *LiquidationEIP712) ([]byte, error) {
	td := e.typedData(req)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignLiquidation(signer *Signer, req *LiquidationEIP712) ([]byte, error) {
	hash, err := e.HashLiquidation(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash liquidation: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyLiquidation checks that signature was produced by req.Liquidator
func (e *EIP712Signer) VerifyLiquidation(req *LiquidationEIP712, signature []byte) (bool, error) {
	hash, err := e.HashLiquidation(req)
	if err != nil {
		return false, fmt.Errorf("failed to hash liquidation: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == req.Liquidator, nil
}
