package templateprovider

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
)

// defaultBlockSaveDelay is how long the save worker waits before serializing a
// solved block, so the reactor and update loop can move on to the next template
// first.
const defaultBlockSaveDelay = 500 * time.Millisecond

// saveBlockAsync persists the block constructed from template plus the submitted
// solution to <datadir>/<blockhash>.dat, whether or not the node accepted it. The
// file lets an operator inspect a rejected or losing block, or keep a winning one
// as a souvenir.
func (tp *TemplateProvider) saveBlockAsync(template BlockTemplate, sol *sv2wire.SubmitSolution, submitted bool) {
	tp.blockSaves.Add(1)

	go func() {
		defer tp.blockSaves.Done()

		time.Sleep(tp.blockSaveDelay)

		if err := tp.saveBlock(template, sol, submitted); err != nil {
			tp.logger.Errorf("saving solved block for template %d: %v", sol.TemplateID, err)
		}
	}()
}

// WaitBlockSaves blocks until every pending block save has finished. Called
// during shutdown so no save worker outlives the daemon.
func (tp *TemplateProvider) WaitBlockSaves() {
	tp.blockSaves.Wait()
}

func (tp *TemplateProvider) saveBlock(template BlockTemplate, sol *sv2wire.SubmitSolution, submitted bool) error {
	block := template.GetBlock()

	coinbase, err := bt.NewTxFromBytes(sol.CoinbaseTx)
	if err != nil {
		return err
	}

	merkleRoot := merkleRootFromCoinbase(coinbase.TxIDChainHash(), template.GetCoinbaseMerklePath())

	header := make([]byte, 0, 80)
	header = appendUint32(header, sol.Version)
	header = append(header, block.PrevHash[:]...)
	header = append(header, merkleRoot[:]...)
	header = appendUint32(header, sol.HeaderTimestamp)
	header = appendUint32(header, block.NBits)
	header = appendUint32(header, sol.HeaderNonce)

	blockHash := chainhash.DoubleHashH(header)

	buf := append([]byte{}, header...)
	buf = appendCompactSize(buf, uint64(len(block.Txs)))
	buf = append(buf, sol.CoinbaseTx...)

	for _, tx := range block.Txs[1:] {
		buf = append(buf, tx.Bytes()...)
	}

	if err := os.MkdirAll(tp.settings.Sv2.DataDir, 0o700); err != nil {
		return err
	}

	path := filepath.Join(tp.settings.Sv2.DataDir, blockHash.String()+".dat")

	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return err
	}

	tp.logger.Debugf("wrote block %s to %s (submitted=%v)", blockHash, path, submitted)

	return nil
}

// merkleRootFromCoinbase folds the merkle path onto the coinbase txid, shortest
// step first, yielding the block's merkle root.
func merkleRootFromCoinbase(coinbase *chainhash.Hash, path []chainhash.Hash) chainhash.Hash {
	acc := *coinbase

	for _, branch := range path {
		concat := make([]byte, 0, 64)
		concat = append(concat, acc[:]...)
		concat = append(concat, branch[:]...)
		acc = chainhash.DoubleHashH(concat)
	}

	return acc
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)

	return append(b, tmp[:]...)
}

func appendCompactSize(b []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(b, byte(v))
	case v <= 0xffff:
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(v))

		return append(append(b, 0xfd), tmp[:]...)
	case v <= 0xffffffff:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))

		return append(append(b, 0xfe), tmp[:]...)
	default:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)

		return append(append(b, 0xff), tmp[:]...)
	}
}
