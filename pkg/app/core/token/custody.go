package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
)

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrTokenExists  = errors.New("token already registered")
)

// Custodian moves one asset between its holders and the exchange's custody
// account. It is all the exchange knows about an external asset.
type Custodian interface {
	// TransferIn pulls amount from from into custody
	TransferIn(from common.Address, amount *uint256.Int) error
	// TransferOut pays amount from custody to to
	TransferOut(to common.Address, amount *uint256.Int) error
	// BalanceOf reports owner's balance on the external ledger
	BalanceOf(owner common.Address) *uint256.Int
}

// tokenCustody pulls with transferFrom, so the owner must approve the
// exchange first.
type tokenCustody struct {
	token    *Token
	exchange common.Address
}

func (c tokenCustody) TransferIn(from common.Address, amount *uint256.Int) error {
	return c.token.TransferFrom(c.exchange, from, c.exchange, amount)
}

func (c tokenCustody) TransferOut(to common.Address, amount *uint256.Int) error {
	return c.token.Transfer(c.exchange, to, amount)
}

func (c tokenCustody) BalanceOf(owner common.Address) *uint256.Int {
	return c.token.BalanceOf(owner)
}

// nativeCustody moves value that the caller attached to the call
type nativeCustody struct {
	wallets  *Wallets
	exchange common.Address
}

func (c nativeCustody) TransferIn(from common.Address, amount *uint256.Int) error {
	return c.wallets.Transfer(from, c.exchange, amount)
}

func (c nativeCustody) TransferOut(to common.Address, amount *uint256.Int) error {
	return c.wallets.Transfer(c.exchange, to, amount)
}

func (c nativeCustody) BalanceOf(owner common.Address) *uint256.Int {
	return c.wallets.BalanceOf(owner)
}

// Registry maps assets to their custodians for one exchange address
type Registry struct {
	exchange common.Address
	wallets  *Wallets

	mu     sync.RWMutex
	tokens *btree.Map[string, *Token]
}

func NewRegistry(exchange common.Address, wallets *Wallets) *Registry {
	return &Registry{
		exchange: exchange,
		wallets:  wallets,
		tokens:   btree.NewMap[string, *Token](16),
	}
}

// Exchange returns the custody account address
func (r *Registry) Exchange() common.Address { return r.exchange }

func (r *Registry) Wallets() *Wallets { return r.wallets }

func (r *Registry) Register(t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := string(t.Address().Bytes())
	if _, ok := r.tokens.Get(k); ok {
		return fmt.Errorf("%s: %w", t.Address().Hex(), ErrTokenExists)
	}
	r.tokens.Set(k, t)
	return nil
}

// Token returns the registered token at addr
func (r *Registry) Token(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens.Get(string(addr.Bytes()))
}

// Tokens lists registered tokens ordered by address
func (r *Registry) Tokens() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Token, 0, r.tokens.Len())
	r.tokens.Scan(func(_ string, t *Token) bool {
		out = append(out, t)
		return true
	})
	return out
}

// Custodian resolves a to the custodian the exchange uses for it
func (r *Registry) Custodian(a asset.Asset) (Custodian, error) {
	if a.IsNative() {
		return nativeCustody{wallets: r.wallets, exchange: r.exchange}, nil
	}
	t, ok := r.Token(a.Address())
	if !ok {
		return nil, fmt.Errorf("%s: %w", a, ErrUnknownToken)
	}
	return tokenCustody{token: t, exchange: r.exchange}, nil
}
