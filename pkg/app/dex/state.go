package dex

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/swapledger/pkg/app/core/ledger"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/swapledger/pkg/app/core/token"
	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/app/exchange"
)

// State is the full committed application state, as loaded at startup
type State struct {
	Height   int64                    `json:"height"`
	Time     int64                    `json:"time"`
	AppHash  common.Hash              `json:"appHash"`
	Exchange exchange.State           `json:"exchange"`
	Nonces   []transaction.NonceEntry `json:"nonces"`
	Wallets  token.WalletState        `json:"wallets"`
	Tokens   []token.State            `json:"tokens"`
}

// ChangeSet is what one block changed. Every entry carries its value after
// the block; a zero amount marks a balance, holding or allowance that is gone.
// The first block after genesis also carries the genesis funding.
type ChangeSet struct {
	Height   int64
	Time     int64
	AppHash  common.Hash
	Exchange exchange.State // changed balances and orders, current order count
	Nonces   []transaction.NonceEntry
	Wallets  *token.WalletState // nil when no native holding moved
	Tokens   []token.State      // tokens with changes, changed entries only
}

func (a *App) takeChanges() ChangeSet {
	cs := ChangeSet{
		Exchange: a.ex.TakeChanges(),
		Nonces:   a.nonces.TakeChanges(),
	}
	if ws, ok := a.wallets.TakeChanges(); ok {
		cs.Wallets = &ws
	}
	for _, t := range a.registry.Tokens() {
		if ts, ok := t.TakeChanges(); ok {
			cs.Tokens = append(cs.Tokens, ts)
		}
	}
	return cs
}

// computeAppHash chains the previous app hash with the block's changes.
// Keccak256 over, in order:
//  1. the previous app hash
//  2. height, timestamp and order count (8 bytes each, big-endian)
//  3. changed exchange balances in (asset, owner) order
//  4. changed orders in id order, with their filled/cancelled flags
//  5. changed nonces in address order
//  6. native wallet supply and changed holdings
//  7. per changed token: address, changed holdings and allowances
func computeAppHash(prev common.Hash, cs ChangeSet) common.Hash {
	h := sha3.NewLegacyKeccak256()

	var buf [8]byte
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putAmount := func(v *uint256.Int) {
		b := v.Bytes32()
		h.Write(b[:])
	}

	h.Write(prev[:])
	putU64(uint64(cs.Height))
	putU64(uint64(cs.Time))
	putU64(cs.Exchange.OrderCount)

	putU64(uint64(len(cs.Exchange.Balances)))
	for _, e := range cs.Exchange.Balances {
		h.Write(e.Asset.Bytes())
		h.Write(e.Owner[:])
		putAmount(e.Amount)
	}

	putU64(uint64(len(cs.Exchange.Orders)))
	for _, o := range cs.Exchange.Orders {
		putU64(o.ID)
		h.Write(o.Creator[:])
		h.Write(o.AssetGet.Bytes())
		putAmount(o.AmountGet)
		h.Write(o.AssetGive.Bytes())
		putAmount(o.AmountGive)
		putU64(uint64(o.CreatedAt))
		h.Write([]byte{flag(o.Filled), flag(o.Cancelled)})
	}

	putU64(uint64(len(cs.Nonces)))
	for _, n := range cs.Nonces {
		h.Write(n.Account[:])
		putU64(n.Next)
	}

	putHoldings := func(hs []token.Holding) {
		putU64(uint64(len(hs)))
		for _, x := range hs {
			h.Write(x.Owner[:])
			putAmount(x.Amount)
		}
	}
	if cs.Wallets != nil {
		h.Write([]byte{1})
		putAmount(cs.Wallets.Supply)
		putHoldings(cs.Wallets.Holdings)
	} else {
		h.Write([]byte{0})
	}
	putU64(uint64(len(cs.Tokens)))
	for _, t := range cs.Tokens {
		h.Write(t.Address[:])
		putHoldings(t.Holdings)
		putU64(uint64(len(t.Allowances)))
		for _, al := range t.Allowances {
			h.Write(al.Owner[:])
			h.Write(al.Spender[:])
			putAmount(al.Amount)
		}
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Apply folds a change set into a full state
func (st *State) Apply(cs ChangeSet) {
	st.Height, st.Time, st.AppHash = cs.Height, cs.Time, cs.AppHash
	st.Exchange.OrderCount = cs.Exchange.OrderCount

	st.Exchange.Balances = merge(st.Exchange.Balances, cs.Exchange.Balances,
		func(e ledger.Entry) string { return string(e.Asset.Bytes()) + string(e.Owner[:]) },
		func(e ledger.Entry) bool { return e.Amount.IsZero() })
	st.Exchange.Orders = merge(st.Exchange.Orders, cs.Exchange.Orders,
		func(o orderbook.Order) uint64 { return o.ID },
		func(orderbook.Order) bool { return false })
	st.Nonces = merge(st.Nonces, cs.Nonces,
		func(n transaction.NonceEntry) string { return string(n.Account[:]) },
		func(transaction.NonceEntry) bool { return false })

	if cs.Wallets != nil {
		st.Wallets.Supply = cs.Wallets.Supply
		st.Wallets.Holdings = mergeHoldings(st.Wallets.Holdings, cs.Wallets.Holdings)
	}
	for _, ch := range cs.Tokens {
		i := slices.IndexFunc(st.Tokens, func(t token.State) bool { return t.Address == ch.Address })
		if i < 0 {
			st.Tokens = append(st.Tokens, token.State{Address: ch.Address})
			i = len(st.Tokens) - 1
		}
		t := &st.Tokens[i]
		t.Name, t.Symbol, t.Supply = ch.Name, ch.Symbol, ch.Supply
		t.Holdings = mergeHoldings(t.Holdings, ch.Holdings)
		t.Allowances = merge(t.Allowances, ch.Allowances,
			func(a token.Allowance) string { return string(a.Owner[:]) + string(a.Spender[:]) },
			func(a token.Allowance) bool { return a.Amount.IsZero() })
	}
	slices.SortFunc(st.Tokens, func(a, b token.State) int { return bytes.Compare(a.Address[:], b.Address[:]) })
}

func mergeHoldings(base, changes []token.Holding) []token.Holding {
	return merge(base, changes,
		func(h token.Holding) string { return string(h.Owner[:]) },
		func(h token.Holding) bool { return h.Amount.IsZero() })
}

// merge overlays changes on base by key, drops removed entries and returns
// the result in key order
func merge[T any, K cmp.Ordered](base, changes []T, key func(T) K, removed func(T) bool) []T {
	byKey := make(map[K]T, len(base)+len(changes))
	for _, v := range base {
		byKey[key(v)] = v
	}
	for _, v := range changes {
		byKey[key(v)] = v
	}
	out := make([]T, 0, len(byKey))
	for _, v := range byKey {
		if !removed(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(key(a), key(b)) })
	return out
}
