package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Block is one batch of ledger transactions. Payload holds the transactions
// joined by 0x00; AppHash is the ledger state hash after applying them.
type Block struct {
	Height  Height
	Parent  Hash
	Time    time.Time
	Payload []byte
	AppHash Hash
}

// GenesisBlock is the implicit parent of height 1.
func GenesisBlock() Block {
	return Block{Height: 0, Time: time.Unix(0, 0).UTC()}
}

// HashOfBlock commits to height, parent, payload and time. AppHash is left
// out because it is only known after execution.
func HashOfBlock(b Block) Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	binary.BigEndian.PutUint64(buf[:], uint64(len(b.Payload)))
	h.Write(buf[:])
	h.Write(b.Payload)
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// BlockStore persists the block log. Implementations live in pkg/storage.
type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(height Height) (Block, bool, error)
	SetHead(height Height) error
	Head() (Height, bool, error)
}

// WAL journals lines of text.
type WAL interface {
	Append(line string)
}

// Executor turns mempool contents into payloads and applies committed blocks.
type Executor interface {
	PreparePayload(next Height) []byte
	OnCommit(b Block) Hash
}
