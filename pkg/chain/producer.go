package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapledger/pkg/crypto"
	"github.com/uhyunpark/swapledger/pkg/util"
)

var (
	ErrProposalRejected = errors.New("proposal rejected by application")
	ErrUnsigned         = errors.New("block is not signed")
	ErrBadBlockSig      = errors.New("bad block signature")
)

// Producer is the single sequencer: it drains the application's mempool
// into blocks, executes them and stores the result. Block time comes from
// the producer clock and never decreases.
type Producer struct {
	App    Application
	Store  BlockStore
	Signer *crypto.BLSSigner // nil produces unsigned blocks
	Clock  util.Clock
	Logger *zap.SugaredLogger

	// MinBlockTime throttles production; a block is cut at most this often
	MinBlockTime time.Duration
	MaxTxBytes   int64
	// EmptyBlocks produces blocks with no transactions
	EmptyBlocks bool

	// OnBlockCommit runs after a block is executed and stored
	OnBlockCommit func(b Block, res ResponseFinalizeBlock)

	mu       sync.RWMutex
	head     Block
	headHash common.Hash
	hasHead  bool
}

// NewProducer resumes from the store's committed head, if any
func NewProducer(app Application, store BlockStore, signer *crypto.BLSSigner) (*Producer, error) {
	p := &Producer{
		App:          app,
		Store:        store,
		Signer:       signer,
		Clock:        util.RealClock{},
		Logger:       zap.NewNop().Sugar(),
		MinBlockTime: 200 * time.Millisecond,
		MaxTxBytes:   1 << 24,
	}
	h, ok, err := store.GetCommitted()
	if err != nil {
		return nil, fmt.Errorf("load committed head: %w", err)
	}
	if ok {
		b, found, err := store.GetBlock(h)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", h.Hex(), err)
		}
		if !found {
			return nil, fmt.Errorf("committed block %s missing from store", h.Hex())
		}
		p.head, p.headHash, p.hasHead = b, h, true
	}
	return p, nil
}

// Head returns the last committed block
func (p *Producer) Head() (Block, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.head, p.hasHead
}

// ProduceBlock cuts, executes and stores one block. It reports false when
// the mempool was empty and EmptyBlocks is off.
func (p *Producer) ProduceBlock() (Block, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := Height(1)
	if p.hasHead {
		next = p.head.Height + 1
	}

	prep := p.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: p.MaxTxBytes})
	if len(prep.Txs) == 0 && !p.EmptyBlocks {
		return Block{}, false, nil
	}

	now := p.Clock.Now()
	if p.hasHead && now.Before(p.head.Time) {
		now = p.head.Time
	}
	b := Block{
		Height:  next,
		Parent:  p.headHash,
		Payload: joinPayload(prep.Txs),
		Time:    now,
	}
	txs := b.Txs()
	if !p.App.ProcessProposal(RequestProcessProposal{Height: int64(next), Txs: txs}).Accept {
		return Block{}, false, fmt.Errorf("height %d: %w", next, ErrProposalRejected)
	}
	if p.Signer != nil {
		b.Proposer = p.Signer.PublicKeyBytes()
		h := HashOfBlock(b)
		b.Signature = p.Signer.Sign(h[:])
	}

	res, err := p.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(next),
		Timestamp: now.Unix(),
		Txs:       txs,
	})
	if err != nil {
		return Block{}, false, fmt.Errorf("finalize height %d: %w", next, err)
	}
	b.AppHash = res.AppHash

	if err := p.Store.SaveBlock(b); err != nil {
		return Block{}, false, fmt.Errorf("save height %d: %w", next, err)
	}
	p.head, p.headHash, p.hasHead = b, HashOfBlock(b), true

	if p.OnBlockCommit != nil {
		p.OnBlockCommit(b, res)
	}
	return b, true, nil
}

// Run produces blocks until ctx is done or a block fails to commit
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(p.MinBlockTime):
		}
		b, ok, err := p.ProduceBlock()
		if err != nil {
			p.Logger.Errorw("block_failed", "err", err)
			return err
		}
		if ok {
			p.Logger.Debugw("block_committed",
				"height", b.Height,
				"txs", len(b.Txs()),
				"apphash", b.AppHash.Hex())
		}
	}
}

// VerifyBlockSignature checks b's signature against its proposer key
func VerifyBlockSignature(b Block) error {
	if len(b.Proposer) == 0 || len(b.Signature) == 0 {
		return ErrUnsigned
	}
	pk, err := crypto.ParseBLSPublicKey(b.Proposer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadBlockSig, err)
	}
	h := HashOfBlock(b)
	if !crypto.VerifyBLS(pk, b.Signature, h[:]) {
		return ErrBadBlockSig
	}
	return nil
}
