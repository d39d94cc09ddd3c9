package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/swapledger/pkg/chain"
)

// SaveBlock stores b, indexes it by height and marks it committed
func (s *PebbleStore) SaveBlock(b chain.Block) error {
	h := chain.HashOfBlock(b)
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockKey(h), val, nil); err != nil {
		return err
	}
	if err := batch.Set(heightKey(uint64(b.Height)), h[:], nil); err != nil {
		return err
	}
	if err := batch.Set(keyCommitted, h[:], nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save block %d: %w", b.Height, err)
	}
	return nil
}

func (s *PebbleStore) GetBlock(h common.Hash) (chain.Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(h))
	if errors.Is(err, pebble.ErrNotFound) {
		return chain.Block{}, false, nil
	}
	if err != nil {
		return chain.Block{}, false, err
	}
	defer closer.Close()
	var out chain.Block
	if err := decodeGob(val, &out); err != nil {
		return chain.Block{}, false, fmt.Errorf("decode block %s: %w", h.Hex(), err)
	}
	return out, true, nil
}

func (s *PebbleStore) GetBlockByHeight(height chain.Height) (chain.Block, bool, error) {
	h, ok, err := s.getHash(heightKey(uint64(height)))
	if err != nil || !ok {
		return chain.Block{}, false, err
	}
	return s.GetBlock(h)
}

func (s *PebbleStore) GetCommitted() (common.Hash, bool, error) {
	return s.getHash(keyCommitted)
}

func (s *PebbleStore) getHash(k []byte) (common.Hash, bool, error) {
	val, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	defer closer.Close()
	return common.BytesToHash(val), true, nil
}

func binaryU64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
