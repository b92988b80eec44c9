package templateprovider

import (
	"context"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/mock"
)

// MiningMock implements a mock version of the MiningI interface for testing.
type MiningMock struct {
	mock.Mock
}

// NewMiningMock creates a new mock Mining capability.
func NewMiningMock() *MiningMock {
	return &MiningMock{}
}

func (m *MiningMock) GetTip(ctx context.Context) (*BlockRef, error) {
	args := m.Called(ctx)

	if args.Error(1) != nil {
		return nil, args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, nil
	}

	return args.Get(0).(*BlockRef), nil
}

func (m *MiningMock) WaitTipChanged(ctx context.Context, current chainhash.Hash, timeout time.Duration) (*BlockRef, error) {
	args := m.Called(ctx, current, timeout)

	if args.Error(1) != nil {
		return nil, args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, nil
	}

	return args.Get(0).(*BlockRef), nil
}

func (m *MiningMock) IsInitialBlockDownload(ctx context.Context) (bool, error) {
	args := m.Called(ctx)

	if args.Error(1) != nil {
		return false, args.Error(1)
	}

	return args.Bool(0), nil
}

func (m *MiningMock) CreateNewBlock(ctx context.Context, opts BlockCreateOptions) (BlockTemplate, error) {
	args := m.Called(ctx, opts)

	if args.Error(1) != nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(BlockTemplate), nil
}

// BlockTemplateMock implements a mock version of the BlockTemplate interface.
type BlockTemplateMock struct {
	mock.Mock
}

func NewBlockTemplateMock() *BlockTemplateMock {
	return &BlockTemplateMock{}
}

func (m *BlockTemplateMock) GetBlock() *Block {
	args := m.Called()

	return args.Get(0).(*Block)
}

func (m *BlockTemplateMock) GetTxFees() []int64 {
	args := m.Called()

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]int64)
}

func (m *BlockTemplateMock) GetCoinbaseMerklePath() []chainhash.Hash {
	args := m.Called()

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]chainhash.Hash)
}

func (m *BlockTemplateMock) WaitNext(ctx context.Context, opts WaitNextOptions) (BlockTemplate, error) {
	args := m.Called(ctx, opts)

	if args.Error(1) != nil {
		return nil, args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, nil
	}

	return args.Get(0).(BlockTemplate), nil
}

func (m *BlockTemplateMock) SubmitSolution(ctx context.Context, version uint32, timestamp uint32, nonce uint32, coinbaseTx []byte) (bool, error) {
	args := m.Called(ctx, version, timestamp, nonce, coinbaseTx)

	if args.Error(1) != nil {
		return false, args.Error(1)
	}

	return args.Bool(0), nil
}
