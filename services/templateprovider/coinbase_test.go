package templateprovider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCoinbaseTemplate(t *testing.T) {
	coinbase := rawTx(t, []byte{0x03, 0xAA, 0xBB, 0xCC}, 625_000_000, []byte{0x51})

	ct, err := BuildCoinbaseTemplate(coinbase, nil)
	require.NoError(t, err)

	require.Equal(t, uint32(2), ct.Version)
	require.Equal(t, uint32(0xFFFFFFFF), ct.Sequence)
	require.Equal(t, []byte{0x03, 0xAA, 0xBB, 0xCC}, ct.ScriptSigPrefix)
	require.Equal(t, uint64(625_000_000), ct.ValueRemaining)
	require.Equal(t, uint32(1), ct.OutputsCount)
	require.Equal(t, uint32(0), ct.LockTime)
	require.Nil(t, ct.Witness)

	// Serialized output: value(8) + script varint(1) + script(1).
	require.Len(t, ct.Outputs, 10)
}

func TestBuildCoinbaseTemplate_CarriesWitnessReserve(t *testing.T) {
	coinbase := rawTx(t, []byte{0x03, 0xAA, 0xBB, 0xCC}, 100, []byte{0x51})

	witness := make([]byte, 32)
	witness[0] = 0xcd

	ct, err := BuildCoinbaseTemplate(coinbase, witness)
	require.NoError(t, err)
	require.Equal(t, witness, ct.Witness)
}

func TestBuildCoinbaseTemplate_PrefixTooLongRejected(t *testing.T) {
	coinbase := rawTx(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 100, []byte{0x51})

	_, err := BuildCoinbaseTemplate(coinbase, nil)
	require.Error(t, err)
}

func TestBuildCoinbaseTemplate_EightBytePrefixAccepted(t *testing.T) {
	coinbase := rawTx(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 100, []byte{0x51})

	ct, err := BuildCoinbaseTemplate(coinbase, nil)
	require.NoError(t, err)
	require.Len(t, ct.ScriptSigPrefix, maxScriptSigPrefixLen)
}

func TestBuildCoinbaseTemplate_NilRejected(t *testing.T) {
	_, err := BuildCoinbaseTemplate(nil, nil)
	require.Error(t, err)
}

func TestTargetFromNBits(t *testing.T) {
	// The genesis-era difficulty-1 target: 0x1d00ffff expands to
	// 0x00000000ffff0000...0000 (big-endian), stored little-endian in Sv2.
	target := targetFromNBits(0x1d00ffff)

	// Little-endian: bytes 26..27 hold 0xffff, everything above is zero.
	require.Equal(t, byte(0xff), target[26])
	require.Equal(t, byte(0xff), target[27])
	require.Equal(t, byte(0x00), target[28])
	require.Equal(t, byte(0x00), target[25])

	for i := 28; i < 32; i++ {
		require.Equal(t, byte(0x00), target[i])
	}
}

func TestSumFees(t *testing.T) {
	require.Equal(t, int64(0), sumFees(nil))
	require.Equal(t, int64(600), sumFees([]int64{100, 200, 300}))
}
