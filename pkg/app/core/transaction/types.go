package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxType names a ledger action.
type TxType string

const (
	TxAddAsset      TxType = "add_asset"
	TxRemoveAsset   TxType = "remove_asset"
	TxAddPair       TxType = "add_pair"
	TxRemovePair    TxType = "remove_pair"
	TxOrder         TxType = "order"
	TxCancel        TxType = "cancel"
	TxModify        TxType = "modify"
	TxClosePosition TxType = "close_position"
	TxDeposit       TxType = "deposit"
	TxWithdraw      TxType = "withdraw"
	TxRepay         TxType = "repay"
	TxUpdateConfig  TxType = "update_config"
	TxPause         TxType = "pause"
	TxUnpause       TxType = "unpause"

	// TxAccrueInterest is injected by the block producer and carries no signature.
	TxAccrueInterest TxType = "accrue_interest"
)

var known = map[TxType]bool{
	TxAddAsset: true, TxRemoveAsset: true, TxAddPair: true, TxRemovePair: true,
	TxOrder: true, TxCancel: true, TxModify: true, TxClosePosition: true,
	TxDeposit: true, TxWithdraw: true, TxRepay: true,
	TxUpdateConfig: true, TxPause: true, TxUnpause: true,
	TxAccrueInterest: true,
}

// IsSystem reports whether t may only originate from the block producer.
func (t TxType) IsSystem() bool { return t == TxAccrueInterest }

// IsAdmin reports whether t is an exchange-owner action.
func (t TxType) IsAdmin() bool {
	switch t {
	case TxAddAsset, TxRemoveAsset, TxAddPair, TxRemovePair, TxUpdateConfig, TxPause, TxUnpause:
		return true
	}
	return false
}

// SignedTransaction is the wire form of every action.
//
//	{"type":"order","payload":{"pair":1,"side":"buy",...},"nonce":7,"owner":"0x..","signature":"0x.."}
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Nonce     uint64          `json:"nonce"`
	Owner     string          `json:"owner,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type AssetPayload struct {
	ID       uint32 `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type PairPayload struct {
	Base      uint32 `json:"base"`
	Quote     uint32 `json:"quote"`
	MinVolume uint64 `json:"min_volume,omitempty"`
	MaxVolume uint64 `json:"max_volume,omitempty"`
}

// RefPayload addresses an asset or pair by id.
type RefPayload struct {
	ID uint32 `json:"id"`
}

type OrderPayload struct {
	Pair     uint32 `json:"pair"`
	Side     string `json:"side"` // buy | sell
	Kind     string `json:"kind"` // spot | margin
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

type CancelPayload struct {
	OrderID uint64 `json:"order_id"`
}

type ModifyPayload struct {
	OrderID   uint64 `json:"order_id"`
	Remaining uint64 `json:"remaining"`
}

type ClosePayload struct {
	Pair uint32 `json:"pair"`
	Side string `json:"side"` // side of the position
}

type AmountPayload struct {
	Amount uint64 `json:"amount"`
}

// ConfigPayload carries ratios as decimal strings so they stay exact.
type ConfigPayload struct {
	Owner            string `json:"owner"`
	MinVolume        uint64 `json:"min_volume"`
	MaxVolume        uint64 `json:"max_volume"`
	MarginMultiplier string `json:"margin_multiplier"`
	InterestRate     string `json:"interest_rate"`
	CompoundEvery    uint64 `json:"compound_every"`
	MaxDeposit       uint64 `json:"max_deposit"`
}

// New builds an unsigned transaction with payload encoded compactly.
func New(typ TxType, owner common.Address, nonce uint64, payload any) (*SignedTransaction, error) {
	tx := &SignedTransaction{Type: typ, Nonce: nonce}
	if owner != (common.Address{}) {
		tx.Owner = owner.Hex()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		tx.Payload = raw
	}
	return tx, nil
}

// CanonicalPayload is the signed form of the payload: compact JSON, "{}" when empty.
func (tx *SignedTransaction) CanonicalPayload() (string, error) {
	if len(tx.Payload) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, tx.Payload); err != nil {
		return "", fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return buf.String(), nil
}

// Decode unmarshals the payload into v, rejecting unknown fields.
func (tx *SignedTransaction) Decode(v any) error {
	if len(tx.Payload) == 0 {
		return fmt.Errorf("%s requires a payload", tx.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(tx.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// OwnerAddress parses the claimed owner.
func (tx *SignedTransaction) OwnerAddress() common.Address {
	return common.HexToAddress(tx.Owner)
}

// Serialize encodes tx for the mempool and block payloads.
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Validate checks the structure, not the signature.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if !known[tx.Type] {
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if tx.Type.IsSystem() {
		return nil
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if !common.IsHexAddress(tx.Owner) {
		return fmt.Errorf("invalid owner %q", tx.Owner)
	}
	if tx.Nonce == 0 {
		return fmt.Errorf("nonce must be positive")
	}
	return nil
}

// ParseTransaction decodes and structurally validates a raw transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &tx, nil
}
