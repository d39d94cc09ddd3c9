package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// Entry is one non-zero (asset, owner) balance
type Entry struct {
	Asset  asset.Asset    `json:"asset"`
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

// Ledger maps (asset, owner) to an unsigned 256-bit amount.
//
// Balances live in a B-tree keyed by asset||owner so iteration order is
// deterministic (app hash, snapshots). Zero balances are not stored.
// Not safe for concurrent use: the owning exchange serializes access.
type Ledger struct {
	balances *btree.Map[string, uint256.Int]
	totals   map[asset.Asset]*uint256.Int

	// undo journal, non-nil while a transaction is open
	journal []change
	// keys changed by committed work since the last TakeChanges
	dirty map[string]struct{}
}

type change struct {
	key       string
	asset     asset.Asset
	prev      uint256.Int
	prevTotal uint256.Int
}

// New returns an empty ledger
func New() *Ledger {
	return &Ledger{
		balances: btree.NewMap[string, uint256.Int](32),
		totals:   make(map[asset.Asset]*uint256.Int),
		dirty:    make(map[string]struct{}),
	}
}

func key(a asset.Asset, owner common.Address) string {
	buf := make([]byte, 0, 2*common.AddressLength)
	buf = append(buf, a.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	return string(buf)
}

func splitKey(k string) (asset.Asset, common.Address) {
	a := asset.Fungible(common.BytesToAddress([]byte(k[:common.AddressLength])))
	return a, common.BytesToAddress([]byte(k[common.AddressLength:]))
}

// BalanceOf returns the balance, zero for unknown keys. The result is a copy.
func (l *Ledger) BalanceOf(a asset.Asset, owner common.Address) *uint256.Int {
	v, ok := l.balances.Get(key(a, owner))
	if !ok {
		return new(uint256.Int)
	}
	return v.Clone()
}

// Total returns the sum of all balances recorded for an asset
func (l *Ledger) Total(a asset.Asset) *uint256.Int {
	t, ok := l.totals[a]
	if !ok {
		return new(uint256.Int)
	}
	return t.Clone()
}

// Assets lists every asset with a non-zero total, ordered by address
func (l *Ledger) Assets() []asset.Asset {
	out := make([]asset.Asset, 0, len(l.totals))
	for a := range l.totals {
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y asset.Asset) int {
		return bytes.Compare(x.Bytes(), y.Bytes())
	})
	return out
}

// Credit adds amount to the (asset, owner) balance.
// Fails only if the balance or the asset total would exceed 2^256-1.
func (l *Ledger) Credit(a asset.Asset, owner common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	k := key(a, owner)
	prev, _ := l.balances.Get(k)
	prevTotal := l.total(a)

	var next, nextTotal uint256.Int
	if _, overflow := next.AddOverflow(&prev, amount); overflow {
		return fmt.Errorf("credit %s to %s: %w", amount, owner.Hex(), ErrBalanceOverflow)
	}
	if _, overflow := nextTotal.AddOverflow(&prevTotal, amount); overflow {
		return fmt.Errorf("credit %s total: %w", a, ErrBalanceOverflow)
	}

	l.record(k, a, prev, prevTotal)
	l.set(k, a, next, nextTotal)
	return nil
}

// Debit subtracts amount from the (asset, owner) balance.
// Fails with ErrInsufficientBalance if the balance is lower than amount.
func (l *Ledger) Debit(a asset.Asset, owner common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	k := key(a, owner)
	prev, _ := l.balances.Get(k)
	if prev.Lt(amount) {
		return fmt.Errorf("debit %s %s from %s (have %s): %w",
			amount, a, owner.Hex(), prev.Dec(), ErrInsufficientBalance)
	}
	prevTotal := l.total(a)

	var next, nextTotal uint256.Int
	next.Sub(&prev, amount)
	nextTotal.Sub(&prevTotal, amount)

	l.record(k, a, prev, prevTotal)
	l.set(k, a, next, nextTotal)
	return nil
}

func (l *Ledger) total(a asset.Asset) uint256.Int {
	if t, ok := l.totals[a]; ok {
		return *t
	}
	return uint256.Int{}
}

func (l *Ledger) set(k string, a asset.Asset, bal, total uint256.Int) {
	if bal.IsZero() {
		l.balances.Delete(k)
	} else {
		l.balances.Set(k, bal)
	}
	if total.IsZero() {
		delete(l.totals, a)
	} else {
		t := total
		l.totals[a] = &t
	}
}

func (l *Ledger) record(k string, a asset.Asset, prev, prevTotal uint256.Int) {
	if l.journal == nil {
		l.dirty[k] = struct{}{}
		return
	}
	l.journal = append(l.journal, change{key: k, asset: a, prev: prev, prevTotal: prevTotal})
}

// Begin opens an undo journal. Every Credit/Debit until Commit or Rollback
// is recorded so it can be reverted.
func (l *Ledger) Begin() {
	if l.journal != nil {
		panic("ledger: nested transaction")
	}
	l.journal = make([]change, 0, 8)
}

// Commit keeps all changes made since Begin
func (l *Ledger) Commit() {
	for _, c := range l.journal {
		l.dirty[c.key] = struct{}{}
	}
	l.journal = nil
}

// Rollback reverts every change made since Begin, newest first
func (l *Ledger) Rollback() {
	for i := len(l.journal) - 1; i >= 0; i-- {
		c := l.journal[i]
		l.set(c.key, c.asset, c.prev, c.prevTotal)
	}
	l.journal = nil
}

// Scan visits every non-zero balance ordered by (asset, owner).
// Returning false stops the iteration.
func (l *Ledger) Scan(fn func(Entry) bool) {
	l.balances.Scan(func(k string, v uint256.Int) bool {
		a, owner := splitKey(k)
		return fn(Entry{Asset: a, Owner: owner, Amount: v.Clone()})
	})
}

// Len returns the number of non-zero balances
func (l *Ledger) Len() int {
	return l.balances.Len()
}

// Restore replaces the ledger content with entries (used when loading a
// persisted snapshot). Must not be called inside a transaction.
func (l *Ledger) Restore(entries []Entry) error {
	if l.journal != nil {
		return errors.New("ledger: restore inside transaction")
	}
	fresh := New()
	for _, e := range entries {
		if err := fresh.Credit(e.Asset, e.Owner, e.Amount); err != nil {
			return fmt.Errorf("restore %s/%s: %w", e.Asset, e.Owner.Hex(), err)
		}
	}
	l.balances = fresh.balances
	l.totals = fresh.totals
	l.dirty = make(map[string]struct{})
	return nil
}

// TakeChanges returns the current value of every balance changed by
// committed work since the previous call, ordered by (asset, owner), and
// forgets them. A zero Amount means the balance is gone.
func (l *Ledger) TakeChanges() []Entry {
	keys := make([]string, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		a, owner := splitKey(k)
		v, _ := l.balances.Get(k)
		out = append(out, Entry{Asset: a, Owner: owner, Amount: v.Clone()})
	}
	l.dirty = make(map[string]struct{})
	return out
}
