package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
)

// Decimals used by every token in this package (ether-style scaling)
const Decimals = 18

// Event is a notification emitted by a token or the native wallets
type Event interface {
	EventName() string
}

// Transfer is emitted whenever value moves between two holders
type Transfer struct {
	Token common.Address `json:"token"`
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *uint256.Int   `json:"value"`
}

func (Transfer) EventName() string { return "Transfer" }

// Approval is emitted whenever an allowance is set
type Approval struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *uint256.Int   `json:"value"`
}

func (Approval) EventName() string { return "Approval" }

// Token is an in-memory fungible token with the standard
// transfer/approve/transferFrom capability set. The whole supply is minted
// to the deployer at construction. Every operation is all-or-nothing.
type Token struct {
	address common.Address
	name    string
	symbol  string
	supply  *uint256.Int

	mu         sync.RWMutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	emit       func(Event)

	// touched since the last TakeChanges
	dirtyHoldings   map[common.Address]struct{}
	dirtyAllowances map[[2]common.Address]struct{}
}

// New deploys a token at address and mints supply to deployer
func New(address common.Address, name, symbol string, supply *uint256.Int, deployer common.Address) (*Token, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("deploy %s: %w", symbol, ErrZeroAddress)
	}
	if deployer == (common.Address{}) {
		return nil, fmt.Errorf("mint %s: %w", symbol, ErrZeroAddress)
	}
	t := &Token{
		address:         address,
		name:            name,
		symbol:          symbol,
		supply:          supply.Clone(),
		balances:        make(map[common.Address]*uint256.Int),
		allowances:      make(map[common.Address]map[common.Address]*uint256.Int),
		dirtyHoldings:   make(map[common.Address]struct{}),
		dirtyAllowances: make(map[[2]common.Address]struct{}),
	}
	t.balances[deployer] = supply.Clone()
	t.dirtyHoldings[deployer] = struct{}{}
	return t, nil
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return Decimals }

// TotalSupply is fixed after deployment
func (t *Token) TotalSupply() *uint256.Int { return t.supply.Clone() }

// SetEmitter installs the sink for Transfer and Approval events
func (t *Token) SetEmitter(fn func(Event)) {
	t.mu.Lock()
	t.emit = fn
	t.mu.Unlock()
}

func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Transfer moves value from the caller to to
func (t *Token) Transfer(from, to common.Address, value *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.move(from, to, value); err != nil {
		return err
	}
	t.notify(Transfer{Token: t.address, From: from, To: to, Value: value.Clone()})
	return nil
}

// Approve lets spender move up to value of owner's balance. A new approval
// replaces the previous one.
func (t *Token) Approve(owner, spender common.Address, value *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return fmt.Errorf("approve %s: %w", t.symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	m[spender] = value.Clone()
	t.dirtyAllowances[[2]common.Address{owner, spender}] = struct{}{}
	t.notify(Approval{Token: t.address, Owner: owner, Spender: spender, Value: value.Clone()})
	return nil
}

// TransferFrom moves value from from to to on behalf of spender, consuming
// spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, value *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from == (common.Address{}) {
		return fmt.Errorf("transferFrom %s: %w", t.symbol, ErrZeroAddress)
	}
	allowed := t.allowances[from][spender]
	if allowed == nil || allowed.Lt(value) {
		have := "0"
		if allowed != nil {
			have = allowed.Dec()
		}
		return fmt.Errorf("%s spender %s wants %s, allowed %s: %w",
			t.symbol, spender.Hex(), value.Dec(), have, ErrInsufficientAllowance)
	}
	if err := t.move(from, to, value); err != nil {
		return err
	}
	t.allowances[from][spender] = new(uint256.Int).Sub(allowed, value)
	t.dirtyAllowances[[2]common.Address{from, spender}] = struct{}{}
	t.notify(Transfer{Token: t.address, From: from, To: to, Value: value.Clone()})
	return nil
}

// move must be called with mu held. It leaves balances untouched on error.
func (t *Token) move(from, to common.Address, value *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer %s: %w", t.symbol, ErrZeroAddress)
	}
	src := t.balances[from]
	if src == nil || src.Lt(value) {
		return fmt.Errorf("%s transfer %s from %s: %w", t.symbol, value.Dec(), from.Hex(), ErrInsufficientBalance)
	}
	src = new(uint256.Int).Sub(src, value)
	t.balances[from] = src

	// total supply is fixed, so a recipient balance can never overflow
	dst := t.balances[to]
	if dst == nil {
		dst = new(uint256.Int)
	}
	t.balances[to] = new(uint256.Int).Add(dst, value)
	t.dirtyHoldings[from] = struct{}{}
	t.dirtyHoldings[to] = struct{}{}
	return nil
}

func (t *Token) notify(ev Event) {
	if t.emit != nil {
		t.emit(ev)
	}
}
