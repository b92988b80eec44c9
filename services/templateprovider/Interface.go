// Package templateprovider implements the Template Provider application logic
// (spec component 7): per-peer session state beyond the transport handshake,
// template construction and caching, the fee-delta / tip-change push loop, and the
// handling of every Template Distribution message. The bitcoin node is reached only
// through the Mining capability interface defined in this file; production wires an
// IPC-backed client, tests wire the Mock.
package templateprovider

import (
	"context"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// BlockRef identifies a chain tip.
type BlockRef struct {
	Hash   chainhash.Hash
	Height int32
}

// BlockCreateOptions parameterizes CreateNewBlock. The coinbase reservation fields
// come from the peer's COINBASE_OUTPUT_CONSTRAINTS.
type BlockCreateOptions struct {
	UseMempool                      bool
	CoinbaseOutputMaxAdditionalSize uint32
	CoinbaseMaxAdditionalSigops     uint16
}

// WaitNextOptions parameterizes BlockTemplate.WaitNext.
type WaitNextOptions struct {
	Timeout      time.Duration
	FeeThreshold int64
	MinInterval  time.Duration
}

// Block is the node-provided template block. Txs[0] is the coinbase candidate; the
// remaining transactions are the mempool selection.
type Block struct {
	Version  uint32
	PrevHash chainhash.Hash
	Time     uint32
	NBits    uint32
	Txs      []*bt.Tx

	// CoinbaseWitness is the first (and only) witness stack element of the
	// coinbase input, currently the BIP 141 witness reserved value. Nil for
	// templates without witness data.
	CoinbaseWitness []byte
}

// BlockTemplate is a handle onto one block template held by the node. Handles stay
// valid until released by the cache so REQUEST_TRANSACTION_DATA and SUBMIT_SOLUTION
// can be answered for templates that are no longer the best one.
type BlockTemplate interface {
	// GetBlock returns the template's block contents.
	GetBlock() *Block

	// GetTxFees returns the fee of each non-coinbase transaction in satoshis, in
	// block order.
	GetTxFees() []int64

	// GetCoinbaseMerklePath returns the merkle path from the coinbase position to
	// the root, shortest step first.
	GetCoinbaseMerklePath() []chainhash.Hash

	// WaitNext blocks until the node considers a better template available (tip
	// changed or fees improved past opts.FeeThreshold) or opts.Timeout elapses, in
	// which case it returns nil.
	WaitNext(ctx context.Context, opts WaitNextOptions) (BlockTemplate, error)

	// SubmitSolution forwards a solved header + coinbase to the node.
	SubmitSolution(ctx context.Context, version uint32, timestamp uint32, nonce uint32, coinbaseTx []byte) (bool, error)
}

// MiningI is the capability consumed from the bitcoin node. The IPC
// transport behind it is an external collaborator; the caller must keep the
// capability alive until the template provider has stopped.
type MiningI interface {
	// GetTip returns the node's active chain tip, or nil before one exists.
	GetTip(ctx context.Context) (*BlockRef, error)

	// WaitTipChanged blocks until the active tip differs from current or timeout
	// elapses; it returns the (possibly unchanged) tip.
	WaitTipChanged(ctx context.Context, current chainhash.Hash, timeout time.Duration) (*BlockRef, error)

	// IsInitialBlockDownload reports whether the node is still syncing.
	IsInitialBlockDownload(ctx context.Context) (bool, error)

	// CreateNewBlock assembles a fresh template from the mempool.
	CreateNewBlock(ctx context.Context, opts BlockCreateOptions) (BlockTemplate, error)
}
