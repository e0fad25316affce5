package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/margin"
	"github.com/uhyunpark/spotmargin/pkg/app/core/order"
)

var alice = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestNotify(t *testing.T) {
	tests := []struct {
		name string
		s    margin.Settlement
		want []Op
	}{
		{"profit mints", margin.Settlement{Owner: alice, Pair: 1, Side: order.Buy, Profit: 100},
			[]Op{{Mint: true, Owner: alice, Amount: 100, Ref: "settle:7:1:buy"}}},
		{"loss burns", margin.Settlement{Owner: alice, Pair: 2, Side: order.Sell, Loss: 40, Shortfall: 10},
			[]Op{{Owner: alice, Amount: 40, Ref: "settle:7:2:sell"}}},
		{"flat is silent", margin.Settlement{Owner: alice, Pair: 1, Side: order.Buy}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Recorder{}
			if err := Notify(context.Background(), rec, 7, tt.s); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			got := rec.Ops()
			if len(got) != len(tt.want) {
				t.Fatalf("ops = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("op %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type failing struct{ Nop }

func (failing) Burn(context.Context, common.Address, uint64, string) error {
	return errors.New("bridge offline")
}

func TestNotifyReturnsCustodianError(t *testing.T) {
	err := Notify(context.Background(), failing{}, 1, margin.Settlement{Owner: alice, Loss: 5})
	if err == nil {
		t.Fatal("expected error")
	}
}
