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
	if got := len(signer.PrivateKeyHex()); got != 64 {
		t.Errorf("private key hex length = %d, want 64", got)
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in[:4], err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("garbage key accepted")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("spot margin ledger")

	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}
	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}

	// wallets emit V as 27/28
	walletSig := append([]byte(nil), signature...)
	walletSig[64] += 27
	if !VerifySignature(signer.Address(), hash, walletSig) {
		t.Error("wallet-style V rejected")
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, 65)) {
		t.Error("short hash should not verify")
	}
}

func TestActionSignatureRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	action := &ActionEIP712{
		Action:  "order",
		Payload: `{"pair":1,"side":"buy","kind":"spot","price":100,"quantity":10}`,
		Nonce:   big.NewInt(1),
		Owner:   signer.Address(),
	}

	sig, err := e.SignAction(signer, action)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	ok, err := e.VerifyActionSignature(action, sig)
	if err != nil || !ok {
		t.Fatalf("VerifyActionSignature = %v, %v", ok, err)
	}

	tampered := *action
	tampered.Payload = `{"pair":1,"side":"buy","kind":"spot","price":100,"quantity":11}`
	if ok, _ := e.VerifyActionSignature(&tampered, sig); ok {
		t.Fatal("tampered payload verified")
	}

	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	if ok, _ := NewEIP712Signer(other).VerifyActionSignature(action, sig); ok {
		t.Fatal("signature replayed across chains")
	}
}

func TestHashActionDeterministic(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	a := &ActionEIP712{Action: "pause", Payload: "{}", Nonce: big.NewInt(7)}
	h1, err := e.HashAction(a)
	if err != nil {
		t.Fatalf("HashAction: %v", err)
	}
	h2, _ := e.HashAction(a)
	if len(h1) != 32 || string(h1) != string(h2) {
		t.Fatalf("hash not deterministic")
	}
	if _, err := e.HashAction(&ActionEIP712{Action: "pause"}); err == nil {
		t.Fatal("missing nonce accepted")
	}
}
