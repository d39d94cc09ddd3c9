package dex

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/crypto"
)

// SignedTxGenerator creates signed exchange traffic for load testing.
// Its accounts must be funded at genesis (see Allocations).
type SignedTxGenerator struct {
	signers  []*crypto.Signer
	domain   crypto.Domain
	exchange common.Address
	tokens   []common.Address
	rng      *rand.Rand
	nonces   map[common.Address]uint64
	funded   map[common.Address]bool
	makes    uint64 // orders generated so far; ids are assigned in order
}

// NewSignedTxGenerator creates numAccounts fresh keys trading the native
// asset against tokens
func NewSignedTxGenerator(numAccounts int, domain crypto.Domain, exchange common.Address, tokens []common.Address) *SignedTxGenerator {
	g := &SignedTxGenerator{
		domain:   domain,
		exchange: exchange,
		tokens:   tokens,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		nonces:   make(map[common.Address]uint64),
		funded:   make(map[common.Address]bool),
	}
	for i := 0; i < numAccounts; i++ {
		s, err := crypto.GenerateKey()
		if err != nil {
			continue
		}
		g.signers = append(g.signers, s)
	}
	return g
}

// Allocations is the genesis native funding for the generator's accounts
func (g *SignedTxGenerator) Allocations(each *uint256.Int) []Allocation {
	out := make([]Allocation, 0, len(g.signers))
	for _, s := range g.signers {
		out = append(out, Allocation{Owner: s.Address(), Amount: each.Clone()})
	}
	return out
}

func (g *SignedTxGenerator) Signers() []*crypto.Signer {
	return g.signers
}

func (g *SignedTxGenerator) sign(s *crypto.Signer, typ transaction.TxType, p transaction.Payload) []byte {
	p.Owner = s.Address().Hex()
	p.Nonce = strconv.FormatUint(g.nonces[s.Address()], 10)
	tx := &transaction.SignedTransaction{Type: typ, Payload: p}
	if err := tx.Sign(g.domain, s); err != nil {
		return nil
	}
	b, err := tx.Serialize()
	if err != nil {
		return nil
	}
	g.nonces[s.Address()]++
	return b
}

func (g *SignedTxGenerator) amount(max int) string {
	return strconv.Itoa(g.rng.Intn(max) + 1)
}

// Next returns one signed transaction from a random account. An account's
// first transaction is always a native deposit.
func (g *SignedTxGenerator) Next() []byte {
	if len(g.signers) == 0 {
		return nil
	}
	s := g.signers[g.rng.Intn(len(g.signers))]
	if !g.funded[s.Address()] {
		g.funded[s.Address()] = true
		return g.sign(s, transaction.TxDepositETH, transaction.Payload{Amount: "1000000"})
	}

	native := common.Address{}.Hex()
	r := g.rng.Intn(100)
	switch {
	case r < 45:
		get, give := native, native
		if len(g.tokens) > 0 {
			tok := g.tokens[g.rng.Intn(len(g.tokens))].Hex()
			if g.rng.Intn(2) == 0 {
				get = tok
			} else {
				give = tok
			}
		}
		g.makes++
		return g.sign(s, transaction.TxMakeOrder, transaction.Payload{
			AssetGet: get, AmountGet: g.amount(1000),
			AssetGive: give, AmountGive: g.amount(1000),
		})
	case r < 80 && g.makes > 0:
		id := strconv.FormatUint(uint64(g.rng.Int63n(int64(g.makes)))+1, 10)
		return g.sign(s, transaction.TxFillOrder, transaction.Payload{OrderID: id})
	case r < 90 && g.makes > 0:
		id := strconv.FormatUint(uint64(g.rng.Int63n(int64(g.makes)))+1, 10)
		return g.sign(s, transaction.TxCancelOrder, transaction.Payload{OrderID: id})
	case r < 95:
		return g.sign(s, transaction.TxDepositETH, transaction.Payload{Amount: g.amount(10000)})
	default:
		return g.sign(s, transaction.TxWithdrawETH, transaction.Payload{Amount: g.amount(1000)})
	}
}

// GenerateBatch returns n signed transactions
func (g *SignedTxGenerator) GenerateBatch(n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if tx := g.Next(); tx != nil {
			out = append(out, tx)
		}
	}
	return out
}
