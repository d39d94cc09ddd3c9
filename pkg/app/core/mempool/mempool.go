package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
)

// Class buckets transactions for block ordering.
type Class int

const (
	ClassFunding Class = iota // deposits, withdrawals, token approve/transfer
	ClassMake
	ClassCancel
	ClassFill
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassFunding:
		return "funding"
	case ClassMake:
		return "make"
	case ClassCancel:
		return "cancel"
	case ClassFill:
		return "fill"
	default:
		return "unknown"
	}
}

// ClassifyRaw classifies a raw transaction by its JSON envelope type.
//
//	{"type": "makeOrder", ...}   -> ClassMake
//	{"type": "cancelOrder", ...} -> ClassCancel
//	{"type": "fillOrder", ...}   -> ClassFill
//
// Everything else, malformed input included, is ClassFunding; the
// application rejects what it cannot decode.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassFunding
	}

	var envelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return ClassFunding
	}

	switch envelope.Type {
	case transaction.TxMakeOrder:
		return ClassMake
	case transaction.TxCancelOrder:
		return ClassCancel
	case transaction.TxFillOrder:
		return ClassFill
	default:
		return ClassFunding
	}
}

// Mempool keeps one FIFO queue per class. A block takes funding first so
// deposits land before the orders that spend them, then makes, then
// cancels, then fills; within a class, admission order.
type Mempool struct {
	mu     sync.Mutex
	queues [numClasses][][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) Class {
	cp := append([]byte(nil), b...)
	c := ClassifyRaw(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[c] = append(m.queues[c], cp)
	return c
}

// SelectForProposal returns up to maxBytes worth of txs in class order,
// removing selected txs from the mempool. maxBytes <= 0 means no limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	pull := func(q *[][]byte) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	for c := range m.queues {
		pull(&m.queues[c])
	}
	return out
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}
