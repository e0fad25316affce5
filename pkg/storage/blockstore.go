package storage

import (
	"sync"

	"github.com/uhyunpark/spotmargin/pkg/chain"
)

// InMemoryBlockStore keeps the block log in memory. Used by tests and by
// nodes started without a data directory.
type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[chain.Height]chain.Block
	head   *chain.Height
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[chain.Height]chain.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h chain.Height) (chain.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) SetHead(h chain.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = &h
	return nil
}

func (s *InMemoryBlockStore) Head() (chain.Height, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return 0, false, nil
	}
	return *s.head, true, nil
}

var _ chain.BlockStore = (*InMemoryBlockStore)(nil)
