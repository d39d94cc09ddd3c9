package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies what a balance or order side is denominated in.
// The zero address is reserved for the chain's native asset; any other
// address names a fungible token contract.
type Asset struct {
	addr common.Address
}

// Native is the chain's base asset (sentinel 0x000…000)
var Native = Asset{}

// Fungible returns the asset for the token contract at addr.
// Fungible(common.Address{}) is Native.
func Fungible(addr common.Address) Asset {
	return Asset{addr: addr}
}

// FromHex parses a 0x-prefixed 20-byte address into an Asset
func FromHex(s string) (Asset, error) {
	if !common.IsHexAddress(s) {
		return Asset{}, fmt.Errorf("invalid asset address: %q", s)
	}
	return Asset{addr: common.HexToAddress(s)}, nil
}

// IsNative reports whether a is the native asset
func (a Asset) IsNative() bool {
	return a.addr == (common.Address{})
}

// Address returns the external-interface form (zero address for Native)
func (a Asset) Address() common.Address {
	return a.addr
}

// Bytes returns the 20 raw address bytes, used for ordered keys
func (a Asset) Bytes() []byte {
	return a.addr.Bytes()
}

func (a Asset) String() string {
	return a.addr.Hex()
}

// MarshalText encodes the asset as its checksummed hex address
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.addr.Hex()), nil
}

func (a *Asset) UnmarshalText(b []byte) error {
	parsed, err := FromHex(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
