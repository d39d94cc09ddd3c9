package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[common.Hash]Block
	byHeight  map[Height]common.Hash
	committed *common.Hash
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks:   make(map[common.Hash]Block),
		byHeight: make(map[Height]common.Hash),
	}
}

func (s *InMemoryBlockStore) SaveBlock(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := HashOfBlock(b)
	s.blocks[h] = b
	s.byHeight[b.Height] = h
	s.committed = &h
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h common.Hash) (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) GetBlockByHeight(height Height) (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byHeight[height]
	if !ok {
		return Block{}, false, nil
	}
	return s.blocks[h], true, nil
}

func (s *InMemoryBlockStore) GetCommitted() (common.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return common.Hash{}, false, nil
	}
	return *s.committed, true, nil
}

var _ BlockStore = (*InMemoryBlockStore)(nil)
