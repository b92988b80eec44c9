package sv2wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// setupConnectionFixture is the canonical 65-byte SETUP_CONNECTION payload shared
// by the codec tests in this file: protocol=0x02, min=2, max=2, flags=1,
// endpoint "127.0.0.1":8442.
func setupConnectionFixture(t *testing.T) (*SetupConnection, []byte) {
	t.Helper()

	sc := &SetupConnection{
		Protocol:        ProtocolTemplateDistribution,
		MinVersion:      2,
		MaxVersion:      2,
		Flags:           1,
		EndpointHost:    "127.0.0.1",
		EndpointPort:    8442,
		Vendor:          "sv2-test",
		HardwareVersion: "cpu",
		Firmware:        "v0.1",
		DeviceID:        "integration-test-client-0",
	}

	msg, err := sc.Encode()
	require.NoError(t, err)

	return sc, msg.Payload
}

func TestSetupConnection_EncodeDecode(t *testing.T) {
	sc, payload := setupConnectionFixture(t)

	// protocol(1) + min(2) + max(2) + flags(4) + host(1+9) + port(2) +
	// vendor(1+8) + hw(1+3) + fw(1+4) + device(1+25) = 65
	require.Len(t, payload, 65)

	got, err := DecodeSetupConnection(payload)
	require.NoError(t, err)
	require.Equal(t, sc, got)
}

func TestSetupConnection_TruncatedPayloadRejected(t *testing.T) {
	_, payload := setupConnectionFixture(t)

	for i := 0; i < len(payload); i++ {
		_, err := DecodeSetupConnection(payload[:i])
		require.Error(t, err, "truncation at %d bytes must fail", i)
	}
}

func TestSetupConnection_TrailingBytesRejected(t *testing.T) {
	_, payload := setupConnectionFixture(t)

	_, err := DecodeSetupConnection(append(payload, 0x00))
	require.Error(t, err)
}

func TestMessage_HeaderRoundTrip(t *testing.T) {
	msg := &Message{ExtensionType: 0, Type: MsgTypeNewTemplate, Payload: []byte{1, 2, 3, 4, 5}}

	b, err := msg.Bytes()
	require.NoError(t, err)
	require.Len(t, b, HeaderSize+5)

	decoded, length, err := DecodeHeader(b)
	require.NoError(t, err)
	require.Equal(t, MsgTypeNewTemplate, decoded.Type)
	require.Equal(t, uint32(5), length)
}

func TestNewTemplate_EncodeDecode(t *testing.T) {
	var path1, path2 [32]byte
	path1[0] = 0xaa
	path2[31] = 0xbb

	nt := &NewTemplate{
		TemplateID:               7,
		FutureTemplate:           false,
		Version:                  0x20000000,
		CoinbaseTxVersion:        2,
		CoinbasePrefix:           []byte{0x03, 0x10, 0x27, 0x00},
		CoinbaseTxInputSequence:  0xFFFFFFFF,
		CoinbaseTxValueRemaining: 625_000_000,
		CoinbaseTxOutputsCount:   1,
		CoinbaseTxOutputs:        []byte{0x00, 0x01, 0x02},
		CoinbaseTxLocktime:       0,
		MerklePath:               [][32]byte{path1, path2},
	}

	msg, err := nt.Encode()
	require.NoError(t, err)
	require.Equal(t, MsgTypeNewTemplate, msg.Type)

	got, err := DecodeNewTemplate(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, nt, got)
}

func TestSetNewPrevHash_EncodeDecode(t *testing.T) {
	var prev, target [32]byte
	prev[0] = 0x11
	target[31] = 0xff

	sp := &SetNewPrevHash{
		TemplateID:      7,
		PrevHash:        prev,
		HeaderTimestamp: 1231006505,
		NBits:           0x1d00ffff,
		Target:          target,
	}

	msg, err := sp.Encode()
	require.NoError(t, err)

	got, err := DecodeSetNewPrevHash(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, sp, got)
}

func TestSubmitSolution_EncodeDecode(t *testing.T) {
	ss := &SubmitSolution{
		TemplateID:      9,
		Version:         0x20000000,
		HeaderTimestamp: 1231006505,
		HeaderNonce:     0,
		CoinbaseTx:      []byte{0xde, 0xad, 0xbe, 0xef},
	}

	msg, err := ss.Encode()
	require.NoError(t, err)

	got, err := DecodeSubmitSolution(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, ss, got)
}

func TestRequestTransactionDataSuccess_EncodeDecode(t *testing.T) {
	m := &RequestTransactionDataSuccess{
		TemplateID:      3,
		ExcessData:      nil,
		TransactionList: [][]byte{{0x01}, {0x02, 0x03}},
	}

	msg, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeRequestTransactionDataSuccess(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, m.TemplateID, got.TemplateID)
	require.Equal(t, m.TransactionList, got.TransactionList)
	require.Empty(t, got.ExcessData)
}

func TestSetupConnectionError_ClosedReasonSet(t *testing.T) {
	for _, code := range []string{SetupErrUnsupportedProtocol, SetupErrUnsupportedVersion, SetupErrUnexpectedMessage} {
		m := &SetupConnectionError{ErrorCode: code}

		msg, err := m.Encode()
		require.NoError(t, err)

		got, err := DecodeSetupConnectionError(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, code, got.ErrorCode)
	}
}

func TestBool_InvalidByteRejected(t *testing.T) {
	nt := &NewTemplate{FutureTemplate: true}

	msg, err := nt.Encode()
	require.NoError(t, err)

	// future_template sits at offset 8; corrupt it to an invalid BOOL byte.
	msg.Payload[8] = 0x02

	_, err = DecodeNewTemplate(msg.Payload)
	require.Error(t, err)
}
