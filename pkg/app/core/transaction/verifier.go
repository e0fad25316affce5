package transaction

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
)

// Verifier resolves the caller identity of signed transactions.
type Verifier struct {
	eip712 *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712: crypto.NewEIP712Signer(domain)}
}

// TypedData returns the EIP-712 message tx is signed over.
func TypedData(tx *SignedTransaction) (*crypto.ActionEIP712, error) {
	payload, err := tx.CanonicalPayload()
	if err != nil {
		return nil, err
	}
	return &crypto.ActionEIP712{
		Action:  string(tx.Type),
		Payload: payload,
		Nonce:   new(big.Int).SetUint64(tx.Nonce),
		Owner:   tx.OwnerAddress(),
	}, nil
}

// Verify checks the signature and returns the verified caller.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	if tx.Type.IsSystem() {
		return common.Address{}, fmt.Errorf("%s is not a signed action: %w", tx.Type, apperr.ErrInvalidSignature)
	}
	action, err := TypedData(tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%v: %w", err, apperr.ErrInvalidSignature)
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%v: %w", err, apperr.ErrInvalidSignature)
	}
	signer, err := v.eip712.RecoverActionSigner(action, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %v: %w", err, apperr.ErrInvalidSignature)
	}
	if signer != action.Owner {
		return common.Address{}, fmt.Errorf("signed by %s, claimed %s: %w", signer.Hex(), action.Owner.Hex(), apperr.ErrInvalidSignature)
	}
	return signer, nil
}

// Sign fills tx.Owner and tx.Signature using signer.
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	tx.Owner = signer.Address().Hex()
	action, err := TypedData(tx)
	if err != nil {
		return err
	}
	sig, err := v.eip712.SignAction(signer, action)
	if err != nil {
		return err
	}
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes a 65-byte hex signature, with or without 0x.
func decodeSignature(sig string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
