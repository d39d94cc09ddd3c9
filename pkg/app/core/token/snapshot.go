package token

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Holding is one balance. Snapshots hold only non-zero ones; change sets
// use zero for a balance that is gone.
type Holding struct {
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

// Allowance is one approval, zero meaning revoked in change sets
type Allowance struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// State is a token's full persisted form
type State struct {
	Address    common.Address `json:"address"`
	Name       string         `json:"name"`
	Symbol     string         `json:"symbol"`
	Supply     *uint256.Int   `json:"supply"`
	Holdings   []Holding      `json:"holdings"`
	Allowances []Allowance    `json:"allowances"`
}

// WalletState is the native wallets' persisted form
type WalletState struct {
	Supply   *uint256.Int `json:"supply"`
	Holdings []Holding    `json:"holdings"`
}

func holdingsOf(m map[common.Address]*uint256.Int) []Holding {
	out := make([]Holding, 0, len(m))
	for owner, amt := range m {
		if amt.IsZero() {
			continue
		}
		out = append(out, Holding{Owner: owner, Amount: amt.Clone()})
	}
	slices.SortFunc(out, func(a, b Holding) int { return bytes.Compare(a.Owner[:], b.Owner[:]) })
	return out
}

// State returns the token's holdings and allowances ordered by address
func (t *Token) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := State{
		Address:  t.address,
		Name:     t.name,
		Symbol:   t.symbol,
		Supply:   t.supply.Clone(),
		Holdings: holdingsOf(t.balances),
	}
	for owner, m := range t.allowances {
		for spender, amt := range m {
			if amt.IsZero() {
				continue
			}
			st.Allowances = append(st.Allowances, Allowance{Owner: owner, Spender: spender, Amount: amt.Clone()})
		}
	}
	sortAllowances(st.Allowances)
	return st
}

// FromState rebuilds a token saved with State
func FromState(st State) *Token {
	t := &Token{
		address:         st.Address,
		name:            st.Name,
		symbol:          st.Symbol,
		supply:          st.Supply.Clone(),
		balances:        make(map[common.Address]*uint256.Int, len(st.Holdings)),
		allowances:      make(map[common.Address]map[common.Address]*uint256.Int),
		dirtyHoldings:   make(map[common.Address]struct{}),
		dirtyAllowances: make(map[[2]common.Address]struct{}),
	}
	for _, h := range st.Holdings {
		t.balances[h.Owner] = h.Amount.Clone()
	}
	for _, a := range st.Allowances {
		m, ok := t.allowances[a.Owner]
		if !ok {
			m = make(map[common.Address]*uint256.Int)
			t.allowances[a.Owner] = m
		}
		m[a.Spender] = a.Amount.Clone()
	}
	return t
}

func (w *Wallets) State() WalletState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WalletState{Supply: w.supply.Clone(), Holdings: holdingsOf(w.balances)}
}

// Restore replaces every native balance
func (w *Wallets) Restore(st WalletState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances = make(map[common.Address]*uint256.Int, len(st.Holdings))
	for _, h := range st.Holdings {
		w.balances[h.Owner] = h.Amount.Clone()
	}
	w.supply.Clear()
	if st.Supply != nil {
		w.supply.Set(st.Supply)
	}
	w.dirty = make(map[common.Address]struct{})
}

// TakeChanges returns the supply and every holding touched since the
// previous call, in address order, and forgets them. ok is false when
// nothing moved.
func (w *Wallets) TakeChanges() (WalletState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.dirty) == 0 {
		return WalletState{}, false
	}
	st := WalletState{Supply: w.supply.Clone(), Holdings: touched(w.balances, w.dirty)}
	w.dirty = make(map[common.Address]struct{})
	return st, true
}

// TakeChanges returns the token's metadata with only the holdings and
// allowances touched since the previous call, and forgets them. ok is false
// when nothing moved.
func (t *Token) TakeChanges() (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.dirtyHoldings) == 0 && len(t.dirtyAllowances) == 0 {
		return State{}, false
	}
	st := State{
		Address:  t.address,
		Name:     t.name,
		Symbol:   t.symbol,
		Supply:   t.supply.Clone(),
		Holdings: touched(t.balances, t.dirtyHoldings),
	}
	for k := range t.dirtyAllowances {
		amt := t.allowances[k[0]][k[1]]
		if amt == nil {
			amt = new(uint256.Int)
		}
		st.Allowances = append(st.Allowances, Allowance{Owner: k[0], Spender: k[1], Amount: amt.Clone()})
	}
	sortAllowances(st.Allowances)
	t.dirtyHoldings = make(map[common.Address]struct{})
	t.dirtyAllowances = make(map[[2]common.Address]struct{})
	return st, true
}

func touched(m map[common.Address]*uint256.Int, dirty map[common.Address]struct{}) []Holding {
	out := make([]Holding, 0, len(dirty))
	for owner := range dirty {
		amt := m[owner]
		if amt == nil {
			amt = new(uint256.Int)
		}
		out = append(out, Holding{Owner: owner, Amount: amt.Clone()})
	}
	slices.SortFunc(out, func(a, b Holding) int { return bytes.Compare(a.Owner[:], b.Owner[:]) })
	return out
}

func sortAllowances(as []Allowance) {
	slices.SortFunc(as, func(a, b Allowance) int {
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Spender[:], b.Spender[:])
	})
}
