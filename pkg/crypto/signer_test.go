package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	signer2, err := FromPrivateKeyHex(signer1.PrivateKeyHex())
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if signer2.Address() != signer1.Address() {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("liquidate"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	got, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// wallet-style V
	walletSig := append([]byte(nil), sig...)
	walletSig[64] += 27
	got, err = RecoverAddress(hash, walletSig)
	if err != nil {
		t.Fatalf("failed to recover wallet signature: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("wallet signature recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error signing a short hash")
	}
	if _, err := RecoverAddress(make([]byte, 32), []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
	if _, err := RecoverAddress([]byte("short"), make([]byte, 65)); err == nil {
		t.Error("expected error for short hash")
	}
}

func sampleLiquidation(liquidator common.Address) *LiquidationEIP712 {
	return &LiquidationEIP712{
		Flow:          1,
		User:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Liquidator:    liquidator,
		AssetPool:     0,
		LiabilityPool: 1,
		MaxTransfer:   big.NewInt(1_000_000_000),
		Nonce:         big.NewInt(7),
		Deadline:      big.NewInt(0),
	}
}

func TestLiquidationSignature(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	req := sampleLiquidation(signer.Address())

	sig, err := e.SignLiquidation(signer, req)
	if err != nil {
		t.Fatalf("failed to sign liquidation: %v", err)
	}
	ok, err := e.VerifyLiquidation(req, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("signature should verify")
	}

	tampered := *req
	tampered.MaxTransfer = big.NewInt(2_000_000_000)
	if ok, _ := e.VerifyLiquidation(&tampered, sig); ok {
		t.Error("signature should not verify after changing the cap")
	}

	other, _ := GenerateKey()
	claimed := *req
	claimed.Liquidator = other.Address()
	if ok, _ := e.VerifyLiquidation(&claimed, sig); ok {
		t.Error("signature should not verify for another liquidator")
	}
}

func TestLiquidationHashIsDomainBound(t *testing.T) {
	req := sampleLiquidation(common.HexToAddress("0x2222222222222222222222222222222222222222"))

	local, err := NewEIP712Signer(DefaultDomain()).HashLiquidation(req)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	mainnet := DefaultDomain()
	mainnet.ChainID = big.NewInt(1)
	remote, err := NewEIP712Signer(mainnet).HashLiquidation(req)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if len(local) != 32 {
		t.Fatalf("hash length = %d, want 32", len(local))
	}
	if common.BytesToHash(local) == common.BytesToHash(remote) {
		t.Error("hashes should differ across chain ids")
	}
}
