package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapledger/pkg/app/core/ledger"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/swapledger/pkg/app/core/token"
	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/app/dex"
	"github.com/uhyunpark/swapledger/pkg/chain"
)

// PebbleStore persists application state, notifications and blocks in one
// Pebble database. Each application commit is a single synced batch.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger
}

type meta struct {
	Height     int64       `json:"height"`
	Time       int64       `json:"time"`
	AppHash    common.Hash `json:"appHash"`
	OrderCount uint64      `json:"orderCount"`
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string, logger *zap.Logger) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:                64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes one block's changes and its notifications in one batch.
// Only the keys named in cs are touched.
func (s *PebbleStore) Commit(cs dex.ChangeSet, events []dex.Notification) error {
	b := s.db.NewBatch()
	defer b.Close()

	err := setJSON(b, keyMeta, meta{
		Height:     cs.Height,
		Time:       cs.Time,
		AppHash:    cs.AppHash,
		OrderCount: cs.Exchange.OrderCount,
	})
	if err != nil {
		return err
	}

	for _, e := range cs.Exchange.Balances {
		k := balanceKey(e.Asset, e.Owner)
		if e.Amount.IsZero() {
			err = b.Delete(k, nil)
		} else {
			err = setJSON(b, k, e)
		}
		if err != nil {
			return err
		}
	}
	for _, o := range cs.Exchange.Orders {
		if err := setJSON(b, orderKey(o.ID), o); err != nil {
			return err
		}
	}
	for _, n := range cs.Nonces {
		if err := b.Set(nonceKey(n.Account), u64(n.Next), nil); err != nil {
			return err
		}
	}
	if w := cs.Wallets; w != nil {
		supply := w.Supply.Bytes32()
		if err := b.Set(keyWallets, supply[:], nil); err != nil {
			return err
		}
		for _, h := range w.Holdings {
			if err := putAmount(b, nativeKey(h.Owner), h.Amount); err != nil {
				return err
			}
		}
	}
	for _, t := range cs.Tokens {
		if err := setJSON(b, tokenKey(t.Address), token.State{
			Address: t.Address, Name: t.Name, Symbol: t.Symbol, Supply: t.Supply,
		}); err != nil {
			return err
		}
		for _, h := range t.Holdings {
			if err := putAmount(b, holdingKey(t.Address, h.Owner), h.Amount); err != nil {
				return err
			}
		}
		for _, a := range t.Allowances {
			if err := putAmount(b, allowanceKey(t.Address, a.Owner, a.Spender), a.Amount); err != nil {
				return err
			}
		}
	}
	for _, n := range events {
		if err := setJSON(b, eventKey(n.Height, n.Index), n); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit height %d: %w", cs.Height, err)
	}
	s.logger.Debug("state committed",
		zap.Int64("height", cs.Height),
		zap.Int("balances", len(cs.Exchange.Balances)),
		zap.Int("orders", len(cs.Exchange.Orders)),
		zap.Int("nonces", len(cs.Nonces)),
		zap.Int("tokens", len(cs.Tokens)),
		zap.Int("events", len(events)))
	return nil
}

// putAmount sets k to v, or deletes k when v is zero
func putAmount(w pebble.Writer, k []byte, v *uint256.Int) error {
	if v.IsZero() {
		return w.Delete(k, nil)
	}
	b := v.Bytes32()
	return w.Set(k, b[:], nil)
}

func amountOf(k, v []byte) (*uint256.Int, error) {
	if len(v) != 32 {
		return nil, fmt.Errorf("bad amount under %x", k)
	}
	return new(uint256.Int).SetBytes32(v), nil
}

// LoadState reads the last committed state. ok is false on an empty database.
func (s *PebbleStore) LoadState() (dex.State, bool, error) {
	var m meta
	found, err := s.getJSON(keyMeta, &m)
	if err != nil || !found {
		return dex.State{}, false, err
	}
	st := dex.State{
		Height:  m.Height,
		Time:    m.Time,
		AppHash: m.AppHash,
	}
	st.Exchange.OrderCount = m.OrderCount

	err = s.scan([]byte(prefixBalance), func(_, v []byte) error {
		var e ledger.Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("failed to unmarshal balance: %w", err)
		}
		st.Exchange.Balances = append(st.Exchange.Balances, e)
		return nil
	})
	if err != nil {
		return dex.State{}, false, err
	}

	err = s.scan([]byte(prefixOrder), func(_, v []byte) error {
		var o orderbook.Order
		if err := json.Unmarshal(v, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		st.Exchange.Orders = append(st.Exchange.Orders, o)
		return nil
	})
	if err != nil {
		return dex.State{}, false, err
	}

	err = s.scan([]byte(prefixNonce), func(k, v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("bad nonce value under %x", k)
		}
		st.Nonces = append(st.Nonces, transaction.NonceEntry{
			Account: common.BytesToAddress(k[len(prefixNonce):]),
			Next:    binaryU64(v),
		})
		return nil
	})
	if err != nil {
		return dex.State{}, false, err
	}

	if err := s.loadWallets(&st.Wallets); err != nil {
		return dex.State{}, false, err
	}
	if st.Tokens, err = s.loadTokens(); err != nil {
		return dex.State{}, false, err
	}
	return st, true, nil
}

func (s *PebbleStore) loadWallets(w *token.WalletState) error {
	data, closer, err := s.db.Get(keyWallets)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get native supply: %w", err)
	}
	w.Supply, err = amountOf(keyWallets, data)
	closer.Close()
	if err != nil {
		return err
	}
	return s.scan([]byte(prefixNative), func(k, v []byte) error {
		amt, err := amountOf(k, v)
		if err != nil {
			return err
		}
		w.Holdings = append(w.Holdings, token.Holding{
			Owner:  common.BytesToAddress(k[len(prefixNative):]),
			Amount: amt,
		})
		return nil
	})
}

func (s *PebbleStore) loadTokens() ([]token.State, error) {
	var out []token.State
	idx := make(map[common.Address]int)
	err := s.scan([]byte(prefixToken), func(_, v []byte) error {
		var t token.State
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("failed to unmarshal token: %w", err)
		}
		idx[t.Address] = len(out)
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	owned := func(k []byte, prefix string) (*token.State, []byte, error) {
		rest := k[len(prefix):]
		i, ok := idx[common.BytesToAddress(rest[:common.AddressLength])]
		if !ok {
			return nil, nil, fmt.Errorf("entry %x for unknown token", k)
		}
		return &out[i], rest[common.AddressLength:], nil
	}

	err = s.scan([]byte(prefixHolding), func(k, v []byte) error {
		t, rest, err := owned(k, prefixHolding)
		if err != nil {
			return err
		}
		amt, err := amountOf(k, v)
		if err != nil {
			return err
		}
		t.Holdings = append(t.Holdings, token.Holding{Owner: common.BytesToAddress(rest), Amount: amt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.scan([]byte(prefixAllow), func(k, v []byte) error {
		t, rest, err := owned(k, prefixAllow)
		if err != nil {
			return err
		}
		amt, err := amountOf(k, v)
		if err != nil {
			return err
		}
		t.Allowances = append(t.Allowances, token.Allowance{
			Owner:   common.BytesToAddress(rest[:common.AddressLength]),
			Spender: common.BytesToAddress(rest[common.AddressLength:]),
			Amount:  amt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns the notifications committed at height, in order. Data is
// left as raw JSON.
func (s *PebbleStore) Events(height int64) ([]dex.Notification, error) {
	var out []dex.Notification
	err := s.scan(eventPrefix(height), func(_, v []byte) error {
		var n struct {
			dex.Notification
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("failed to unmarshal event: %w", err)
		}
		n.Notification.Data = n.Data
		out = append(out, n.Notification)
		return nil
	})
	return out, err
}

func (s *PebbleStore) getJSON(k []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %q: %w", k, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", k, err)
	}
	return true, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

var (
	_ dex.Store        = (*PebbleStore)(nil)
	_ chain.BlockStore = (*PebbleStore)(nil)
)
