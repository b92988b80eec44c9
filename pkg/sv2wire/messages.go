package sv2wire

import (
	"github.com/bsv-blockchain/sv2tp/errors"
)

// MsgType identifies an Sv2 message within its extension.
type MsgType uint8

// Template Distribution message types.
const (
	MsgTypeSetupConnection               MsgType = 0x00
	MsgTypeSetupConnectionSuccess        MsgType = 0x01
	MsgTypeSetupConnectionError          MsgType = 0x02
	MsgTypeCoinbaseOutputConstraints     MsgType = 0x70
	MsgTypeNewTemplate                   MsgType = 0x71
	MsgTypeSetNewPrevHash                MsgType = 0x72
	MsgTypeRequestTransactionData        MsgType = 0x73
	MsgTypeRequestTransactionDataSuccess MsgType = 0x74
	MsgTypeRequestTransactionDataError   MsgType = 0x75
	MsgTypeSubmitSolution                MsgType = 0x76
)

// ProtocolTemplateDistribution is the SETUP_CONNECTION protocol discriminator the
// Template Provider accepts.
const ProtocolTemplateDistribution uint8 = 0x02

// TPVersion is the protocol version this implementation speaks; used_version is
// negotiated as min(peer max_version, TPVersion).
const TPVersion uint16 = 2

// SETUP_CONNECTION_ERROR reason codes: a closed set so no internal diagnostics can
// leak to the peer.
const (
	SetupErrUnsupportedProtocol = "unsupported-protocol"
	SetupErrUnsupportedVersion  = "unsupported-version"
	SetupErrUnexpectedMessage   = "unexpected-message"
)

// Message is a logical Sv2 message: the header fields plus the raw encoded payload.
// The payload may exceed one transport frame; reassembly is the transport's job.
type Message struct {
	ExtensionType uint16
	Type          MsgType
	Payload       []byte
}

// EncodeHeader produces the 6-byte logical message header for this message.
func (m *Message) EncodeHeader() ([]byte, error) {
	if len(m.Payload) > MaxMessageLength {
		return nil, errors.NewDecodeError("payload length %d overflows u24", len(m.Payload))
	}

	w := &writer{buf: make([]byte, 0, HeaderSize)}
	w.putU16(m.ExtensionType)
	w.putU8(uint8(m.Type))
	w.putU24(uint32(len(m.Payload)))

	return w.buf, nil
}

// Bytes returns header ‖ payload.
func (m *Message) Bytes() ([]byte, error) {
	hdr, err := m.EncodeHeader()
	if err != nil {
		return nil, err
	}

	return append(hdr, m.Payload...), nil
}

// DecodeHeader parses a 6-byte logical message header, returning the message with
// an empty payload and the declared payload length.
func DecodeHeader(b []byte) (*Message, uint32, error) {
	if len(b) < HeaderSize {
		return nil, 0, errors.NewDecodeError("message header needs %d bytes, have %d", HeaderSize, len(b))
	}

	r := &reader{buf: b[:HeaderSize]}

	ext, _ := r.u16()
	typ, _ := r.u8()
	length, _ := r.u24()

	return &Message{ExtensionType: ext, Type: MsgType(typ)}, length, nil
}

// SetupConnection is the first message a peer sends after the handshake.
type SetupConnection struct {
	Protocol        uint8
	MinVersion      uint16
	MaxVersion      uint16
	Flags           uint32
	EndpointHost    string
	EndpointPort    uint16
	Vendor          string
	HardwareVersion string
	Firmware        string
	DeviceID        string
}

func (m *SetupConnection) Encode() (*Message, error) {
	w := &writer{}
	w.putU8(m.Protocol)
	w.putU16(m.MinVersion)
	w.putU16(m.MaxVersion)
	w.putU32(m.Flags)

	if err := w.putStr0_255(m.EndpointHost); err != nil {
		return nil, err
	}

	w.putU16(m.EndpointPort)

	for _, s := range []string{m.Vendor, m.HardwareVersion, m.Firmware, m.DeviceID} {
		if err := w.putStr0_255(s); err != nil {
			return nil, err
		}
	}

	return &Message{Type: MsgTypeSetupConnection, Payload: w.buf}, nil
}

func DecodeSetupConnection(payload []byte) (*SetupConnection, error) {
	r := &reader{buf: payload}
	m := &SetupConnection{}

	var err error

	if m.Protocol, err = r.u8(); err != nil {
		return nil, err
	}

	if m.MinVersion, err = r.u16(); err != nil {
		return nil, err
	}

	if m.MaxVersion, err = r.u16(); err != nil {
		return nil, err
	}

	if m.Flags, err = r.u32(); err != nil {
		return nil, err
	}

	if m.EndpointHost, err = r.str0_255(); err != nil {
		return nil, err
	}

	if m.EndpointPort, err = r.u16(); err != nil {
		return nil, err
	}

	if m.Vendor, err = r.str0_255(); err != nil {
		return nil, err
	}

	if m.HardwareVersion, err = r.str0_255(); err != nil {
		return nil, err
	}

	if m.Firmware, err = r.str0_255(); err != nil {
		return nil, err
	}

	if m.DeviceID, err = r.str0_255(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// SetupConnectionSuccess acknowledges SETUP_CONNECTION with the negotiated version.
type SetupConnectionSuccess struct {
	UsedVersion uint16
	Flags       uint32
}

func (m *SetupConnectionSuccess) Encode() (*Message, error) {
	w := &writer{}
	w.putU16(m.UsedVersion)
	w.putU32(m.Flags)

	return &Message{Type: MsgTypeSetupConnectionSuccess, Payload: w.buf}, nil
}

func DecodeSetupConnectionSuccess(payload []byte) (*SetupConnectionSuccess, error) {
	r := &reader{buf: payload}
	m := &SetupConnectionSuccess{}

	var err error

	if m.UsedVersion, err = r.u16(); err != nil {
		return nil, err
	}

	if m.Flags, err = r.u32(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// SetupConnectionError rejects SETUP_CONNECTION with a short reason code.
type SetupConnectionError struct {
	Flags     uint32
	ErrorCode string
}

func (m *SetupConnectionError) Encode() (*Message, error) {
	w := &writer{}
	w.putU32(m.Flags)

	if err := w.putStr0_255(m.ErrorCode); err != nil {
		return nil, err
	}

	return &Message{Type: MsgTypeSetupConnectionError, Payload: w.buf}, nil
}

func DecodeSetupConnectionError(payload []byte) (*SetupConnectionError, error) {
	r := &reader{buf: payload}
	m := &SetupConnectionError{}

	var err error

	if m.Flags, err = r.u32(); err != nil {
		return nil, err
	}

	if m.ErrorCode, err = r.str0_255(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// CoinbaseOutputConstraints tells the TP how much coinbase space the peer needs.
type CoinbaseOutputConstraints struct {
	MaxAdditionalSize   uint32
	MaxAdditionalSigops uint16
}

func (m *CoinbaseOutputConstraints) Encode() (*Message, error) {
	w := &writer{}
	w.putU32(m.MaxAdditionalSize)
	w.putU16(m.MaxAdditionalSigops)

	return &Message{Type: MsgTypeCoinbaseOutputConstraints, Payload: w.buf}, nil
}

func DecodeCoinbaseOutputConstraints(payload []byte) (*CoinbaseOutputConstraints, error) {
	r := &reader{buf: payload}
	m := &CoinbaseOutputConstraints{}

	var err error

	if m.MaxAdditionalSize, err = r.u32(); err != nil {
		return nil, err
	}

	if m.MaxAdditionalSigops, err = r.u16(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// NewTemplate carries a block template minus its header prev-hash binding.
type NewTemplate struct {
	TemplateID               uint64
	FutureTemplate           bool
	Version                  uint32
	CoinbaseTxVersion        uint32
	CoinbasePrefix           []byte
	CoinbaseTxInputSequence  uint32
	CoinbaseTxValueRemaining uint64
	CoinbaseTxOutputsCount   uint32
	CoinbaseTxOutputs        []byte
	CoinbaseTxLocktime       uint32
	MerklePath               [][32]byte
}

func (m *NewTemplate) Encode() (*Message, error) {
	w := &writer{}
	w.putU64(m.TemplateID)
	w.putBool(m.FutureTemplate)
	w.putU32(m.Version)
	w.putU32(m.CoinbaseTxVersion)

	if err := w.putB0_255(m.CoinbasePrefix); err != nil {
		return nil, err
	}

	w.putU32(m.CoinbaseTxInputSequence)
	w.putU64(m.CoinbaseTxValueRemaining)
	w.putU32(m.CoinbaseTxOutputsCount)

	if err := w.putB0_64K(m.CoinbaseTxOutputs); err != nil {
		return nil, err
	}

	w.putU32(m.CoinbaseTxLocktime)

	if err := w.putSeqU256(m.MerklePath); err != nil {
		return nil, err
	}

	return &Message{Type: MsgTypeNewTemplate, Payload: w.buf}, nil
}

func DecodeNewTemplate(payload []byte) (*NewTemplate, error) {
	r := &reader{buf: payload}
	m := &NewTemplate{}

	var err error

	if m.TemplateID, err = r.u64(); err != nil {
		return nil, err
	}

	if m.FutureTemplate, err = r.boolean(); err != nil {
		return nil, err
	}

	if m.Version, err = r.u32(); err != nil {
		return nil, err
	}

	if m.CoinbaseTxVersion, err = r.u32(); err != nil {
		return nil, err
	}

	if m.CoinbasePrefix, err = r.b0_255(); err != nil {
		return nil, err
	}

	if m.CoinbaseTxInputSequence, err = r.u32(); err != nil {
		return nil, err
	}

	if m.CoinbaseTxValueRemaining, err = r.u64(); err != nil {
		return nil, err
	}

	if m.CoinbaseTxOutputsCount, err = r.u32(); err != nil {
		return nil, err
	}

	if m.CoinbaseTxOutputs, err = r.b0_64K(); err != nil {
		return nil, err
	}

	if m.CoinbaseTxLocktime, err = r.u32(); err != nil {
		return nil, err
	}

	if m.MerklePath, err = r.seqU256(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// SetNewPrevHash binds a previously sent template to a chain tip.
type SetNewPrevHash struct {
	TemplateID      uint64
	PrevHash        [32]byte
	HeaderTimestamp uint32
	NBits           uint32
	Target          [32]byte
}

func (m *SetNewPrevHash) Encode() (*Message, error) {
	w := &writer{}
	w.putU64(m.TemplateID)
	w.putU256(m.PrevHash)
	w.putU32(m.HeaderTimestamp)
	w.putU32(m.NBits)
	w.putU256(m.Target)

	return &Message{Type: MsgTypeSetNewPrevHash, Payload: w.buf}, nil
}

func DecodeSetNewPrevHash(payload []byte) (*SetNewPrevHash, error) {
	r := &reader{buf: payload}
	m := &SetNewPrevHash{}

	var err error

	if m.TemplateID, err = r.u64(); err != nil {
		return nil, err
	}

	if m.PrevHash, err = r.u256(); err != nil {
		return nil, err
	}

	if m.HeaderTimestamp, err = r.u32(); err != nil {
		return nil, err
	}

	if m.NBits, err = r.u32(); err != nil {
		return nil, err
	}

	if m.Target, err = r.u256(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// RequestTransactionData asks for the non-coinbase transactions of a template.
type RequestTransactionData struct {
	TemplateID uint64
}

func (m *RequestTransactionData) Encode() (*Message, error) {
	w := &writer{}
	w.putU64(m.TemplateID)

	return &Message{Type: MsgTypeRequestTransactionData, Payload: w.buf}, nil
}

func DecodeRequestTransactionData(payload []byte) (*RequestTransactionData, error) {
	r := &reader{buf: payload}
	m := &RequestTransactionData{}

	var err error

	if m.TemplateID, err = r.u64(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// RequestTransactionDataSuccess returns every non-coinbase transaction of the
// template, serialized with witnesses.
type RequestTransactionDataSuccess struct {
	TemplateID      uint64
	ExcessData      []byte
	TransactionList [][]byte
}

func (m *RequestTransactionDataSuccess) Encode() (*Message, error) {
	w := &writer{}
	w.putU64(m.TemplateID)

	if err := w.putB0_64K(m.ExcessData); err != nil {
		return nil, err
	}

	if err := w.putSeqB0_64K(m.TransactionList); err != nil {
		return nil, err
	}

	return &Message{Type: MsgTypeRequestTransactionDataSuccess, Payload: w.buf}, nil
}

func DecodeRequestTransactionDataSuccess(payload []byte) (*RequestTransactionDataSuccess, error) {
	r := &reader{buf: payload}
	m := &RequestTransactionDataSuccess{}

	var err error

	if m.TemplateID, err = r.u64(); err != nil {
		return nil, err
	}

	if m.ExcessData, err = r.b0_64K(); err != nil {
		return nil, err
	}

	if m.TransactionList, err = r.seqB0_64K(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// RequestTransactionDataError rejects a RequestTransactionData for an unknown or
// expired template.
type RequestTransactionDataError struct {
	TemplateID uint64
	ErrorCode  string
}

func (m *RequestTransactionDataError) Encode() (*Message, error) {
	w := &writer{}
	w.putU64(m.TemplateID)

	if err := w.putStr0_255(m.ErrorCode); err != nil {
		return nil, err
	}

	return &Message{Type: MsgTypeRequestTransactionDataError, Payload: w.buf}, nil
}

func DecodeRequestTransactionDataError(payload []byte) (*RequestTransactionDataError, error) {
	r := &reader{buf: payload}
	m := &RequestTransactionDataError{}

	var err error

	if m.TemplateID, err = r.u64(); err != nil {
		return nil, err
	}

	if m.ErrorCode, err = r.str0_255(); err != nil {
		return nil, err
	}

	return m, r.finish()
}

// SubmitSolution submits a solved header + coinbase for a template.
type SubmitSolution struct {
	TemplateID      uint64
	Version         uint32
	HeaderTimestamp uint32
	HeaderNonce     uint32
	CoinbaseTx      []byte
}

func (m *SubmitSolution) Encode() (*Message, error) {
	w := &writer{}
	w.putU64(m.TemplateID)
	w.putU32(m.Version)
	w.putU32(m.HeaderTimestamp)
	w.putU32(m.HeaderNonce)

	if err := w.putB0_64K(m.CoinbaseTx); err != nil {
		return nil, err
	}

	return &Message{Type: MsgTypeSubmitSolution, Payload: w.buf}, nil
}

func DecodeSubmitSolution(payload []byte) (*SubmitSolution, error) {
	r := &reader{buf: payload}
	m := &SubmitSolution{}

	var err error

	if m.TemplateID, err = r.u64(); err != nil {
		return nil, err
	}

	if m.Version, err = r.u32(); err != nil {
		return nil, err
	}

	if m.HeaderTimestamp, err = r.u32(); err != nil {
		return nil, err
	}

	if m.HeaderNonce, err = r.u32(); err != nil {
		return nil, err
	}

	if m.CoinbaseTx, err = r.b0_64K(); err != nil {
		return nil, err
	}

	return m, r.finish()
}
