package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
)

// Key schema. Addresses are raw 20 bytes and numbers 8-byte big-endian,
// so prefix scans come back in (asset, owner) and id order.
//
//	st                          → commit meta (height, time, app hash, order count)
//	bal:<asset><owner>          → ledger entry
//	ord:<id>                    → order
//	non:<address>               → next nonce
//	wal                         → native supply
//	nat:<owner>                 → native holding
//	tok:<address>               → token name, symbol and supply
//	tkh:<token><owner>          → token holding
//	tka:<token><owner><spender> → token allowance
//	ev:<height><index>          → notification
//	b:<hash>                    → block
//	h:<height>                  → block hash
//	cm                          → committed block hash
//
// Amounts under wal, nat, tkh and tka are 32-byte big-endian. Commits only
// touch the keys a block changed; a zero amount deletes its key.
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixNonce   = "non:"
	prefixNative  = "nat:"
	prefixToken   = "tok:"
	prefixHolding = "tkh:"
	prefixAllow   = "tka:"
	prefixEvent   = "ev:"
	prefixBlock   = "b:"
	prefixHeight  = "h:"
)

var (
	keyMeta      = []byte("st")
	keyWallets   = []byte("wal")
	keyCommitted = []byte("cm")
)

func u64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func key(prefix string, parts ...[]byte) []byte {
	out := []byte(prefix)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func balanceKey(a asset.Asset, owner common.Address) []byte {
	return key(prefixBalance, a.Bytes(), owner[:])
}

func orderKey(id uint64) []byte { return key(prefixOrder, u64(id)) }

func nonceKey(addr common.Address) []byte { return key(prefixNonce, addr[:]) }

func nativeKey(owner common.Address) []byte { return key(prefixNative, owner[:]) }

func tokenKey(addr common.Address) []byte { return key(prefixToken, addr[:]) }

func holdingKey(tok, owner common.Address) []byte { return key(prefixHolding, tok[:], owner[:]) }

func allowanceKey(tok, owner, spender common.Address) []byte {
	return key(prefixAllow, tok[:], owner[:], spender[:])
}

func eventKey(height int64, index int) []byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	return key(prefixEvent, u64(uint64(height)), idx[:])
}

func eventPrefix(height int64) []byte { return key(prefixEvent, u64(uint64(height))) }

func blockKey(h common.Hash) []byte { return key(prefixBlock, h[:]) }

func heightKey(height uint64) []byte { return key(prefixHeight, u64(height)) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
