package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrSupplyOverflow = errors.New("native supply overflow")

// Wallets holds native-asset balances outside the exchange. The node funds
// it from genesis; value only moves between holders afterwards.
type Wallets struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	supply   uint256.Int
	emit     func(Event)
	dirty    map[common.Address]struct{}
}

func NewWallets() *Wallets {
	return &Wallets{
		balances: make(map[common.Address]*uint256.Int),
		dirty:    make(map[common.Address]struct{}),
	}
}

// SetEmitter installs the sink for native Transfer events
func (w *Wallets) SetEmitter(fn func(Event)) {
	w.mu.Lock()
	w.emit = fn
	w.mu.Unlock()
}

// Mint credits genesis funds
func (w *Wallets) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint native: %w", ErrZeroAddress)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var supply uint256.Int
	if _, overflow := supply.AddOverflow(&w.supply, amount); overflow {
		return ErrSupplyOverflow
	}
	w.supply = supply
	cur := w.balances[to]
	if cur == nil {
		cur = new(uint256.Int)
	}
	w.balances[to] = new(uint256.Int).Add(cur, amount)
	w.dirty[to] = struct{}{}
	return nil
}

func (w *Wallets) BalanceOf(owner common.Address) *uint256.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if b, ok := w.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Supply is the sum of everything minted
func (w *Wallets) Supply() *uint256.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.supply.Clone()
}

// Transfer sends native value between holders
func (w *Wallets) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("native transfer: %w", ErrZeroAddress)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	src := w.balances[from]
	if src == nil || src.Lt(amount) {
		return fmt.Errorf("native transfer %s from %s: %w", amount.Dec(), from.Hex(), ErrInsufficientBalance)
	}
	w.balances[from] = new(uint256.Int).Sub(src, amount)
	dst := w.balances[to]
	if dst == nil {
		dst = new(uint256.Int)
	}
	w.balances[to] = new(uint256.Int).Add(dst, amount)
	w.dirty[from] = struct{}{}
	w.dirty[to] = struct{}{}
	if w.emit != nil {
		w.emit(Transfer{From: from, To: to, Value: amount.Clone()})
	}
	return nil
}
