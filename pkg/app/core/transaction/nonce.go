package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"
)

var (
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrNonceTooHigh = errors.New("nonce too high")
)

// NonceEntry is one account's next expected nonce
type NonceEntry struct {
	Account common.Address `json:"account"`
	Next    uint64         `json:"next"`
}

// Nonces tracks the next expected nonce per account. Nonces start at 0
// and must be used in sequence.
type Nonces struct {
	mu    sync.RWMutex
	next  btree.Map[string, uint64]
	dirty btree.Set[string]
}

func NewNonces() *Nonces {
	return &Nonces{}
}

// Next returns the nonce acc must use for its next transaction
func (n *Nonces) Next(acc common.Address) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, _ := n.next.Get(string(acc.Bytes()))
	return v
}

// Use consumes nonce for acc if it is the expected one
func (n *Nonces) Use(acc common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := string(acc.Bytes())
	want, _ := n.next.Get(key)
	switch {
	case nonce < want:
		return fmt.Errorf("%w: %s has %d, want %d", ErrNonceTooLow, acc.Hex(), nonce, want)
	case nonce > want:
		return fmt.Errorf("%w: %s has %d, want %d", ErrNonceTooHigh, acc.Hex(), nonce, want)
	}
	n.next.Set(key, want+1)
	n.dirty.Insert(key)
	return nil
}

// Entries returns every tracked account in address order
func (n *Nonces) Entries() []NonceEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]NonceEntry, 0, n.next.Len())
	n.next.Scan(func(k string, v uint64) bool {
		out = append(out, NonceEntry{Account: common.BytesToAddress([]byte(k)), Next: v})
		return true
	})
	return out
}

// Restore replaces all tracked nonces
func (n *Nonces) Restore(entries []NonceEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next.Clear()
	n.dirty.Clear()
	for _, e := range entries {
		n.next.Set(string(e.Account.Bytes()), e.Next)
	}
}

// TakeChanges returns the accounts whose nonce moved since the previous
// call, in address order, and forgets them
func (n *Nonces) TakeChanges() []NonceEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NonceEntry, 0, n.dirty.Len())
	n.dirty.Scan(func(k string) bool {
		v, _ := n.next.Get(k)
		out = append(out, NonceEntry{Account: common.BytesToAddress([]byte(k)), Next: v})
		return true
	})
	n.dirty.Clear()
	return out
}
