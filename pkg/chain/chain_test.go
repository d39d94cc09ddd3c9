package chain

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/swapledger/pkg/crypto"
)

// mockApp records what it was asked to execute
type mockApp struct {
	mu      sync.Mutex
	pending [][]byte
	reject  bool
	fail    error
	blocks  []RequestFinalizeBlock
}

func (m *mockApp) push(tx string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, []byte(tx))
}

func (m *mockApp) PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := m.pending
	m.pending = nil
	return ResponsePrepareProposal{Txs: txs}
}

func (m *mockApp) ProcessProposal(RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: !m.reject}
}

func (m *mockApp) FinalizeBlock(req RequestFinalizeBlock) (ResponseFinalizeBlock, error) {
	if m.fail != nil {
		return ResponseFinalizeBlock{}, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, req)
	var h common.Hash
	h[0] = byte(req.Height)
	h[1] = byte(len(req.Txs))
	return ResponseFinalizeBlock{AppHash: h, TxResults: make([]TxResult, len(req.Txs))}, nil
}

// stepClock returns scripted times
type stepClock struct {
	times []time.Time
}

func (c *stepClock) Now() time.Time {
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func (c *stepClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestProducer(t *testing.T, app Application, store BlockStore) *Producer {
	t.Helper()
	signer, err := crypto.NewBLSSignerFromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	p, err := NewProducer(app, store, signer)
	require.NoError(t, err)
	return p
}

func TestPayloadRoundTrip(t *testing.T) {
	txs := [][]byte{[]byte(`{"type":"a"}`), []byte(`{"type":"b"}`)}
	assert.Equal(t, txs, splitPayload(joinPayload(txs)))
	assert.Empty(t, splitPayload(nil))
}

func TestHashOfBlockIgnoresExecutionFields(t *testing.T) {
	b := Block{Height: 3, Payload: []byte("x"), Time: time.Unix(100, 0)}
	h := HashOfBlock(b)

	b.AppHash = common.HexToHash("0x01")
	b.Signature = []byte{9}
	assert.Equal(t, h, HashOfBlock(b))

	b.Time = time.Unix(101, 0)
	assert.NotEqual(t, h, HashOfBlock(b))
}

func TestProduceBlock(t *testing.T) {
	app := &mockApp{}
	store := NewInMemoryBlockStore()
	p := newTestProducer(t, app, store)
	p.Clock = &stepClock{times: []time.Time{time.Unix(1000, 0), time.Unix(990, 0)}}

	_, ok, err := p.ProduceBlock()
	require.NoError(t, err)
	assert.False(t, ok, "empty mempool should not cut a block")

	app.push(`{"type":"depositETH"}`)
	app.push(`{"type":"makeOrder"}`)
	b1, ok, err := p.ProduceBlock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Height(1), b1.Height)
	assert.Equal(t, common.Hash{}, b1.Parent)
	assert.Len(t, b1.Txs(), 2)
	assert.NoError(t, VerifyBlockSignature(b1))

	// the clock went backwards; block time must not
	app.push(`{"type":"fillOrder"}`)
	b2, ok, err := p.ProduceBlock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HashOfBlock(b1), b2.Parent)
	assert.False(t, b2.Time.Before(b1.Time))
	assert.Equal(t, int64(1000), app.blocks[1].Timestamp)

	head, found, err := store.GetCommitted()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, HashOfBlock(b2), head)

	byHeight, found, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, b1.AppHash, byHeight.AppHash)

	// a new producer resumes after the stored head
	resumed := newTestProducer(t, app, store)
	h, ok := resumed.Head()
	require.True(t, ok)
	assert.Equal(t, Height(2), h.Height)
}

func TestProduceBlockErrors(t *testing.T) {
	app := &mockApp{reject: true}
	p := newTestProducer(t, app, NewInMemoryBlockStore())
	app.push("tx")
	_, _, err := p.ProduceBlock()
	assert.ErrorIs(t, err, ErrProposalRejected)

	boom := errors.New("disk full")
	app = &mockApp{fail: boom}
	p = newTestProducer(t, app, NewInMemoryBlockStore())
	app.push("tx")
	_, _, err = p.ProduceBlock()
	assert.ErrorIs(t, err, boom)
	_, ok := p.Head()
	assert.False(t, ok)
}

func TestVerifyBlockSignature(t *testing.T) {
	app := &mockApp{}
	p := newTestProducer(t, app, NewInMemoryBlockStore())
	app.push("tx")
	b, _, err := p.ProduceBlock()
	require.NoError(t, err)

	tampered := b
	tampered.Payload = []byte("other")
	assert.ErrorIs(t, VerifyBlockSignature(tampered), ErrBadBlockSig)
	assert.ErrorIs(t, VerifyBlockSignature(Block{}), ErrUnsigned)
}

func TestRunStopsOnCancel(t *testing.T) {
	app := &mockApp{}
	p := newTestProducer(t, app, NewInMemoryBlockStore())
	p.MinBlockTime = time.Millisecond
	committed := make(chan Block, 1)
	p.OnBlockCommit = func(b Block, _ ResponseFinalizeBlock) {
		select {
		case committed <- b:
		default:
		}
	}
	app.push("tx")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case b := <-committed:
		assert.Equal(t, Height(1), b.Height)
	case <-time.After(5 * time.Second):
		t.Fatal("no block produced")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
