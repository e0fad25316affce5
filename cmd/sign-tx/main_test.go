package main

import (
	"encoding/json"
	"testing"

	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
)

func TestBuildTxVerifies(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	d := crypto.DefaultDomain()
	raw, err := buildTx(d, key, transaction.TxDeposit, 3, json.RawMessage(`{ "amount": 25 }`))
	if err != nil {
		t.Fatalf("buildTx: %v", err)
	}
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		t.Fatal(err)
	}
	owner, err := transaction.NewVerifier(d).Verify(tx)
	if err != nil || owner != key.Address() {
		t.Fatalf("Verify = %s, %v", owner.Hex(), err)
	}

	var p transaction.AmountPayload
	if err := tx.Decode(&p); err != nil || p.Amount != 25 {
		t.Fatalf("payload = %+v, %v", p, err)
	}
}

func TestBuildTxRejectsBadInput(t *testing.T) {
	key, _ := crypto.GenerateKey()
	d := crypto.DefaultDomain()
	if _, err := buildTx(d, key, "mint", 1, nil); err == nil {
		t.Fatal("unknown type accepted")
	}
	if _, err := buildTx(d, key, transaction.TxPause, 0, nil); err == nil {
		t.Fatal("zero nonce accepted")
	}
}
