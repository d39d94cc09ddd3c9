package chain

import (
	"github.com/ethereum/go-ethereum/common"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult reports one transaction's outcome. Log is empty on success.
type TxResult struct {
	OK  bool
	Log string
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   common.Hash // Hash of application state after execution
}

// Application is the state machine the producer sequences for
type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	// FinalizeBlock executes and commits a block. An error means the
	// state could not be committed and the producer must stop.
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
