package spot

import (
	"fmt"
	"math/rand"

	"github.com/uhyunpark/spotmargin/pkg/app/core/transaction"
	"github.com/uhyunpark/spotmargin/pkg/crypto"
)

// TxGenerator creates signed trading transactions from simulated traders.
// Each trader deposits margin with its first transaction and then sends
// limit orders around a mid price.
type TxGenerator struct {
	signers []*crypto.Signer
	nonces  []uint64
	funded  []bool
	pairs   []uint32
	mid     uint64

	rng      *rand.Rand
	verifier *transaction.Verifier
}

func NewTxGenerator(domain crypto.EIP712Domain, numAccounts int, pairs []uint32, mid uint64, seed int64) (*TxGenerator, error) {
	if numAccounts <= 0 || len(pairs) == 0 || mid == 0 {
		return nil, fmt.Errorf("txgen needs accounts, pairs and a mid price")
	}
	g := &TxGenerator{
		signers:  make([]*crypto.Signer, numAccounts),
		nonces:   make([]uint64, numAccounts),
		funded:   make([]bool, numAccounts),
		pairs:    pairs,
		mid:      mid,
		rng:      rand.New(rand.NewSource(seed)),
		verifier: transaction.NewVerifier(domain),
	}
	for i := range g.signers {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		g.signers[i] = key
	}
	return g, nil
}

// Signers returns the simulated traders.
func (g *TxGenerator) Signers() []*crypto.Signer { return g.signers }

// Next returns one signed transaction.
func (g *TxGenerator) Next() ([]byte, error) {
	i := g.rng.Intn(len(g.signers))
	if !g.funded[i] {
		g.funded[i] = true
		return g.sign(i, transaction.TxDeposit, transaction.AmountPayload{Amount: g.mid * 100})
	}

	side := "buy"
	if g.rng.Intn(2) == 1 {
		side = "sell"
	}
	// 30% margin, the rest spot
	kind := "spot"
	if g.rng.Intn(10) < 3 {
		kind = "margin"
	}
	// within 2% of mid
	spread := g.mid / 50
	price := g.mid - spread + uint64(g.rng.Int63n(int64(2*spread+1)))
	if price == 0 {
		price = 1
	}
	return g.sign(i, transaction.TxOrder, transaction.OrderPayload{
		Pair:     g.pairs[g.rng.Intn(len(g.pairs))],
		Side:     side,
		Kind:     kind,
		Price:    price,
		Quantity: uint64(g.rng.Intn(10) + 1),
	})
}

// GenerateBatch returns up to n transactions, stopping at the first signing error.
func (g *TxGenerator) GenerateBatch(n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for k := 0; k < n; k++ {
		tx, err := g.Next()
		if err != nil {
			return out, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (g *TxGenerator) sign(i int, typ transaction.TxType, payload any) ([]byte, error) {
	g.nonces[i]++
	tx, err := transaction.New(typ, g.signers[i].Address(), g.nonces[i], payload)
	if err != nil {
		return nil, err
	}
	if err := g.verifier.Sign(g.signers[i], tx); err != nil {
		return nil, err
	}
	return tx.Serialize()
}
