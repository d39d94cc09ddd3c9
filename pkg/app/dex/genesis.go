package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/swapledger/pkg/app/core/token"
)

// Allocation funds one native wallet at genesis
type Allocation struct {
	Owner  common.Address
	Amount *uint256.Int
}

// TokenSpec deploys one token at genesis; Supply goes to Deployer
type TokenSpec struct {
	Address  common.Address
	Name     string
	Symbol   string
	Supply   *uint256.Int
	Deployer common.Address
	// Holders receive a share of the deployer's supply after deployment
	Holders []Allocation
}

type Genesis struct {
	Native []Allocation
	Tokens []TokenSpec
}

func (a *App) applyGenesis(g Genesis) error {
	for _, al := range g.Native {
		if err := a.wallets.Mint(al.Owner, al.Amount); err != nil {
			return fmt.Errorf("genesis native %s: %w", al.Owner.Hex(), err)
		}
	}
	for _, spec := range g.Tokens {
		t, err := token.New(spec.Address, spec.Name, spec.Symbol, spec.Supply, spec.Deployer)
		if err != nil {
			return fmt.Errorf("genesis token %s: %w", spec.Symbol, err)
		}
		for _, h := range spec.Holders {
			if err := t.Transfer(spec.Deployer, h.Owner, h.Amount); err != nil {
				return fmt.Errorf("genesis token %s to %s: %w", spec.Symbol, h.Owner.Hex(), err)
			}
		}
		if err := a.registry.Register(t); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}
	return nil
}
