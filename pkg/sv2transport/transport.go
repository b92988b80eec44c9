// Package sv2transport implements the post-handshake framed AEAD transport. A
// Transport starts life owning a Noise-XK HandshakeState (pkg/sv2noise) and, once
// the third handshake message has been processed, replaces it with the two
// directional CipherStates used to seal and open every subsequent frame. Framing
// is length:u24-LE ‖ ciphertext-and-tag; a logical Sv2 message larger than one
// frame is split by the sender and reassembled by the receiver.
package sv2transport

import (
	"time"

	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2noise"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
)

const (
	// MaxFramePayload is the largest plaintext a single frame may carry:
	// 65535 bytes of ciphertext minus the 16-byte AEAD tag.
	MaxFramePayload = 65535 - sv2noise.TagLen

	// maxFrameCiphertext bounds the u24 length prefix of a frame.
	maxFrameCiphertext = 65535

	// frameLengthSize is the 3-byte length prefix in front of every frame.
	frameLengthSize = 3

	// sendChunkCap caps the slice GetBytesToSend hands to the socket writer.
	sendChunkCap = 64 * 1024
)

type handshakePhase int

const (
	phaseHandshake handshakePhase = iota
	phaseTransport
	phaseFailed
)

// Transport is the per-connection Sv2Transport. It is not safe for concurrent use;
// the reactor goroutine that owns the peer session is its only caller.
type Transport struct {
	phase handshakePhase

	// Exactly one of responder/initiator is non-nil until the handshake
	// completes, then both are nil: the handshake state is destroyed once the
	// directional ciphers exist.
	responder *sv2noise.ResponderHandshake
	initiator *sv2noise.InitiatorHandshake

	sendCipher *sv2noise.CipherState
	recvCipher *sv2noise.CipherState

	peerStaticKey [32]byte

	// handshakeExpect is how many bytes the next inbound handshake step needs.
	handshakeExpect int

	now func() time.Time

	sendQueue       []byte
	messageInFlight bool

	recvBuf  []byte // raw encrypted inbound bytes
	asmBuf   []byte // decrypted bytes awaiting logical message reassembly
	recvMsgs []*sv2wire.Message
}

// NewResponder constructs a Transport for an accepted connection, acting as the
// Noise-XK responder (the Template Provider side). The certificate must have been
// issued for staticKeypair's public key.
func NewResponder(staticKeypair sv2noise.Keypair, certificate sv2noise.Certificate) *Transport {
	return &Transport{
		phase:           phaseHandshake,
		responder:       sv2noise.NewResponderHandshake(staticKeypair, certificate),
		handshakeExpect: sv2noise.HandshakeStep1Size,
		now:             time.Now,
	}
}

// NewInitiator constructs a Transport for an outbound connection, acting as the
// Noise-XK initiator (the mining-peer side, used by tests and by peer tooling). The
// first handshake message is queued immediately.
func NewInitiator(staticKeypair sv2noise.Keypair, responderStaticPubKey, authorityPubKey [32]byte) (*Transport, error) {
	ih := sv2noise.NewInitiatorHandshake(staticKeypair, responderStaticPubKey, authorityPubKey)

	msg1, err := ih.WriteMessage1()
	if err != nil {
		return nil, err
	}

	return &Transport{
		phase:           phaseHandshake,
		initiator:       ih,
		handshakeExpect: sv2noise.HandshakeStep2Size,
		sendQueue:       msg1,
		now:             time.Now,
	}, nil
}

// HandshakeComplete reports whether both CipherStates are established.
func (t *Transport) HandshakeComplete() bool {
	return t.phase == phaseTransport
}

// Failed reports whether the transport has hit an unrecoverable error; the owning
// session must be disconnected.
func (t *Transport) Failed() bool {
	return t.phase == phaseFailed
}

// PeerStaticKey returns the peer's static X25519 public key learned during the
// handshake. Only valid once HandshakeComplete.
func (t *Transport) PeerStaticKey() [32]byte {
	return t.peerStaticKey
}

func (t *Transport) fail(err error) error {
	t.phase = phaseFailed
	return err
}

// SetMessageToSend encodes msg, splits it into AEAD-sealed frames and appends them
// to the outbound queue. Returns false (and queues nothing) if a prior message is
// still in flight or the handshake has not completed: only one message may be in
// flight at a time.
func (t *Transport) SetMessageToSend(msg *sv2wire.Message) (bool, error) {
	if t.phase != phaseTransport {
		return false, nil
	}

	if t.messageInFlight {
		return false, nil
	}

	plain, err := msg.Bytes()
	if err != nil {
		return false, err
	}

	for off := 0; off < len(plain); {
		end := off + MaxFramePayload
		if end > len(plain) {
			end = len(plain)
		}

		ct, err := t.sendCipher.EncryptWithAD(nil, plain[off:end])
		if err != nil {
			return false, t.fail(err)
		}

		var lenPrefix [frameLengthSize]byte
		lenPrefix[0] = byte(len(ct))
		lenPrefix[1] = byte(len(ct) >> 8)
		lenPrefix[2] = byte(len(ct) >> 16)

		t.sendQueue = append(t.sendQueue, lenPrefix[:]...)
		t.sendQueue = append(t.sendQueue, ct...)

		off = end
	}

	t.messageInFlight = true

	return true, nil
}

// GetBytesToSend returns the next contiguous slice of outbound bytes (at most
// sendChunkCap) and whether more bytes will remain after the caller consumes it.
// haveNext lets the caller signal that another message is already queued behind
// this one.
func (t *Transport) GetBytesToSend(haveNext bool) ([]byte, bool) {
	n := len(t.sendQueue)
	if n > sendChunkCap {
		n = sendChunkCap
	}

	more := len(t.sendQueue) > n || haveNext

	return t.sendQueue[:n], more
}

// MarkBytesSent drops n bytes from the front of the outbound queue after the
// socket consumed them.
func (t *Transport) MarkBytesSent(n int) {
	if n > len(t.sendQueue) {
		n = len(t.sendQueue)
	}

	t.sendQueue = t.sendQueue[n:]

	if len(t.sendQueue) == 0 {
		t.sendQueue = nil
		t.messageInFlight = false
	}
}

// BytesPending reports how many outbound bytes are queued but not yet consumed.
func (t *Transport) BytesPending() int {
	return len(t.sendQueue)
}

// ReceivedBytes appends b to the inbound buffer and processes as much of it as
// possible: handshake steps while in handshake phase, encrypted frames afterwards.
// It returns true when at least one complete logical Sv2 message became available
// (drain with NextMessage). Any error is terminal for the session.
func (t *Transport) ReceivedBytes(b []byte) (bool, error) {
	if t.phase == phaseFailed {
		return false, errors.NewTransportError("transport already failed")
	}

	t.recvBuf = append(t.recvBuf, b...)

	if t.phase == phaseHandshake {
		if err := t.processHandshakeBytes(); err != nil {
			return false, t.fail(err)
		}

		if t.phase != phaseTransport {
			return false, nil
		}
	}

	if err := t.processFrames(); err != nil {
		return false, t.fail(err)
	}

	return len(t.recvMsgs) > 0, nil
}

// NextMessage pops the oldest fully reassembled message, or nil when none remain.
func (t *Transport) NextMessage() *sv2wire.Message {
	if len(t.recvMsgs) == 0 {
		return nil
	}

	msg := t.recvMsgs[0]
	t.recvMsgs = t.recvMsgs[1:]

	return msg
}

func (t *Transport) processHandshakeBytes() error {
	for t.phase == phaseHandshake && len(t.recvBuf) >= t.handshakeExpect {
		stepLen := t.handshakeExpect
		step := t.recvBuf[:stepLen]

		switch {
		case t.responder != nil && t.handshakeExpect == sv2noise.HandshakeStep1Size:
			if err := t.responder.ReadMessage1(step); err != nil {
				return err
			}

			msg2, err := t.responder.WriteMessage2()
			if err != nil {
				return err
			}

			t.sendQueue = append(t.sendQueue, msg2...)
			t.handshakeExpect = sv2noise.HandshakeStep3Size

		case t.responder != nil:
			result, err := t.responder.ReadMessage3(step)
			if err != nil {
				return err
			}

			t.completeHandshake(result)

		case t.initiator != nil:
			if err := t.initiator.ReadMessage2(step, t.now()); err != nil {
				return err
			}

			msg3, result, err := t.initiator.WriteMessage3()
			if err != nil {
				return err
			}

			t.sendQueue = append(t.sendQueue, msg3...)
			t.completeHandshake(result)

		default:
			return errors.NewHandshakeError("handshake state missing")
		}

		t.recvBuf = t.recvBuf[stepLen:]
	}

	return nil
}

func (t *Transport) completeHandshake(result *sv2noise.HandshakeResult) {
	t.sendCipher = result.SendCipher
	t.recvCipher = result.RecvCipher
	t.peerStaticKey = result.PeerStaticKey
	t.responder = nil
	t.initiator = nil
	t.phase = phaseTransport
	t.handshakeExpect = 0
}

func (t *Transport) processFrames() error {
	for {
		if len(t.recvBuf) < frameLengthSize {
			return nil
		}

		ctLen := int(t.recvBuf[0]) | int(t.recvBuf[1])<<8 | int(t.recvBuf[2])<<16

		if ctLen < sv2noise.TagLen {
			return errors.NewMalformedLengthError("frame ciphertext length %d below tag size", ctLen)
		}

		if ctLen > maxFrameCiphertext {
			return errors.NewMalformedLengthError("frame ciphertext length %d exceeds %d", ctLen, maxFrameCiphertext)
		}

		if len(t.recvBuf) < frameLengthSize+ctLen {
			return nil
		}

		ct := t.recvBuf[frameLengthSize : frameLengthSize+ctLen]

		plain, err := t.recvCipher.DecryptWithAD(nil, ct)
		if err != nil {
			return err
		}

		t.asmBuf = append(t.asmBuf, plain...)
		t.recvBuf = t.recvBuf[frameLengthSize+ctLen:]

		if err := t.assembleMessages(); err != nil {
			return err
		}
	}
}

// assembleMessages extracts every complete logical Sv2 message from the decrypted
// reassembly buffer. A message header may itself span frames, so this only commits
// once both the 6-byte header and the declared payload are fully buffered.
func (t *Transport) assembleMessages() error {
	for {
		if len(t.asmBuf) < sv2wire.HeaderSize {
			return nil
		}

		msg, payloadLen, err := sv2wire.DecodeHeader(t.asmBuf)
		if err != nil {
			return err
		}

		total := sv2wire.HeaderSize + int(payloadLen)
		if len(t.asmBuf) < total {
			return nil
		}

		msg.Payload = make([]byte, payloadLen)
		copy(msg.Payload, t.asmBuf[sv2wire.HeaderSize:total])

		t.recvMsgs = append(t.recvMsgs, msg)
		t.asmBuf = t.asmBuf[total:]
	}
}
