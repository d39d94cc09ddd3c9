package chain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

type Height uint64

type Block struct {
	Height   Height
	Parent   common.Hash
	Payload  []byte
	Proposer []byte // BLS public key of the producer
	Time     time.Time

	// Set after execution; not part of the block hash
	AppHash common.Hash
	// BLS signature over HashOfBlock
	Signature []byte
}

// Txs splits the payload back into transactions
func (b Block) Txs() [][]byte {
	return splitPayload(b.Payload)
}

func (b Block) String() string {
	return fmt.Sprintf("block{h=%d hash=%s txs=%d}", b.Height, HashOfBlock(b).TerminalString(), len(b.Txs()))
}

// HashOfBlock commits to the sequenced data only: height, parent,
// payload, proposer and time. AppHash is known only after execution and
// is verified separately, as in Tendermint's header/app-hash split.
func HashOfBlock(b Block) common.Hash {
	h := sha3.NewLegacyKeccak256()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	h.Write(b.Parent[:])

	binary.BigEndian.PutUint64(buf[:], uint64(len(b.Payload)))
	h.Write(buf[:])
	h.Write(b.Payload)
	h.Write(b.Proposer)

	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	var out common.Hash
	h.Sum(out[:0])
	return out
}

// BlockStore persists committed blocks. SaveBlock also moves the
// committed head to b.
type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(h common.Hash) (Block, bool, error)
	GetBlockByHeight(height Height) (Block, bool, error)
	GetCommitted() (common.Hash, bool, error)
}

// joinPayload concatenates txs with a 0x00 delimiter. JSON transactions
// never contain a raw NUL byte.
func joinPayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

func splitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}
