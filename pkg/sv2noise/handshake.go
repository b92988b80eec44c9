package sv2noise

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/bsv-blockchain/sv2tp/errors"
)

// protocolName is the Noise protocol name for this cipher suite.
// Its SHA-256 digest seeds both h and ck, since the name is longer than HASHLEN.
const protocolName = "Noise_XK_secp256k1+X25519_ChaChaPoly_SHA256"

// Handshake step sizes are fixed: every implementation must produce exactly these
// byte counts so peers can read a handshake message without a length prefix.
const (
	HandshakeStep1Size = DHLen                                                         // 32
	HandshakeStep2Size = DHLen + (DHLen + TagLen) + (handshakeCertPayloadSize + TagLen) // 170
	HandshakeStep3Size = DHLen + TagLen                                                 // 48
)

// symmetricState carries the Noise handshake's running hash and chaining key, plus
// the single cipher key active while encrypting handshake payloads. It is torn
// down once the handshake completes.
type symmetricState struct {
	h      [32]byte
	ck     [32]byte
	cipher *CipherState
	hasKey bool
}

func newSymmetricState() *symmetricState {
	h := sha256Sum([]byte(protocolName))

	return &symmetricState{h: h, ck: h}
}

func (s *symmetricState) mixHash(data []byte) {
	s.h = sha256Sum(s.h[:], data)
}

func (s *symmetricState) mixKey(ikm [32]byte) error {
	ck, tempK := hkdf2(s.ck[:], ikm[:])
	s.ck = ck

	cs, err := NewCipherState(tempK)
	if err != nil {
		return err
	}

	s.cipher = cs
	s.hasKey = true

	return nil
}

// encryptAndHash encrypts plaintext (if a key is set; otherwise passes it through
// unmodified, per Noise's EncryptAndHash with no key) and mixes the result into h.
func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return plaintext, nil
	}

	ct, err := s.cipher.EncryptWithAD(s.h[:], plaintext)
	if err != nil {
		return nil, err
	}

	s.mixHash(ct)

	return ct, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(ciphertext)
		return ciphertext, nil
	}

	pt, err := s.cipher.DecryptWithAD(s.h[:], ciphertext)
	if err != nil {
		return nil, err
	}

	s.mixHash(ciphertext)

	return pt, nil
}

// split derives the two directional CipherStates from the final chaining key, per
// Noise's Split(). By convention c1 is used by the initiator to send (and by the
// responder to receive); c2 is the reverse.
func (s *symmetricState) split() (c1, c2 *CipherState, err error) {
	k1, k2 := hkdf2(s.ck[:], nil)

	c1, err = NewCipherState(k1)
	if err != nil {
		return nil, nil, err
	}

	c2, err = NewCipherState(k2)
	if err != nil {
		return nil, nil, err
	}

	return c1, c2, nil
}

// HandshakeResult holds the two directional CipherStates produced by a completed
// Noise-XK handshake, the peer's static public key, and the handshake transcript
// hash, retained for future protocol extensions.
type HandshakeResult struct {
	SendCipher     *CipherState
	RecvCipher     *CipherState
	PeerStaticKey  [32]byte
	TranscriptHash [32]byte
}

// InitiatorHandshake drives the three-message Noise-XK handshake from the mining
// peer's side, where the Template Provider's static key is known in advance (the
// "XK" in Noise-XK).
type InitiatorHandshake struct {
	sym                *symmetricState
	staticKeypair      Keypair
	ephemeral          Keypair
	responderStatic    [32]byte
	responderEphemeral [32]byte
	authorityPubKey    [32]byte
	rand               io.Reader
}

// NewInitiatorHandshake starts a handshake as the initiator (a JDC/Pool peer), who
// must already know the Template Provider's static public key and the authority's
// x-only pubkey used to validate its Certificate.
func NewInitiatorHandshake(staticKeypair Keypair, responderStaticPubKey, authorityPubKey [32]byte) *InitiatorHandshake {
	sym := newSymmetricState()
	sym.mixHash(responderStaticPubKey[:]) // XK pre-message: responder static known in advance

	return &InitiatorHandshake{
		sym:             sym,
		staticKeypair:   staticKeypair,
		responderStatic: responderStaticPubKey,
		authorityPubKey: authorityPubKey,
		rand:            rand.Reader,
	}
}

// WriteMessage1 produces the exactly-32-byte "-> e" message.
func (ih *InitiatorHandshake) WriteMessage1() ([]byte, error) {
	ephemeral, err := GenerateKeypair(ih.rand)
	if err != nil {
		return nil, err
	}

	ih.ephemeral = ephemeral
	ih.sym.mixHash(ephemeral.Public[:])

	out := make([]byte, HandshakeStep1Size)
	copy(out, ephemeral.Public[:])

	return out, nil
}

// ReadMessage2 consumes the responder's exactly-170-byte "<- e, ee, s, es" message,
// including its embedded Certificate, and verifies the certificate.
func (ih *InitiatorHandshake) ReadMessage2(msg []byte, now time.Time) error {
	if len(msg) != HandshakeStep2Size {
		return errors.NewHandshakeError("handshake step 2 must be %d bytes, got %d", HandshakeStep2Size, len(msg))
	}

	copy(ih.responderEphemeral[:], msg[0:32])
	ih.sym.mixHash(ih.responderEphemeral[:])

	ee, err := DH(ih.ephemeral.Private, ih.responderEphemeral)
	if err != nil {
		return err
	}

	if err := ih.sym.mixKey(ee); err != nil {
		return err
	}

	encStatic := msg[32 : 32+DHLen+TagLen]

	staticPT, err := ih.sym.decryptAndHash(encStatic)
	if err != nil {
		return errors.ErrAEADFailure
	}

	var responderStatic [32]byte
	copy(responderStatic[:], staticPT)

	if responderStatic != ih.responderStatic {
		return errors.ErrInvalidCert
	}

	es, err := DH(ih.ephemeral.Private, responderStatic)
	if err != nil {
		return err
	}

	if err := ih.sym.mixKey(es); err != nil {
		return err
	}

	encCert := msg[32+DHLen+TagLen:]

	certPT, err := ih.sym.decryptAndHash(encCert)
	if err != nil {
		return errors.ErrAEADFailure
	}

	cert, err := DecodeHandshakeCertificate(certPT, responderStatic)
	if err != nil {
		return errors.ErrInvalidCert
	}

	return cert.Verify(ih.authorityPubKey, responderStatic, now)
}

// WriteMessage3 produces the exactly-48-byte "-> s, se" message and, on success,
// the split CipherStates for the completed session.
func (ih *InitiatorHandshake) WriteMessage3() ([]byte, *HandshakeResult, error) {
	encStatic, err := ih.sym.encryptAndHash(ih.staticKeypair.Public[:])
	if err != nil {
		return nil, nil, err
	}

	se, err := DH(ih.staticKeypair.Private, ih.responderEphemeral)
	if err != nil {
		return nil, nil, err
	}

	if err := ih.sym.mixKey(se); err != nil {
		return nil, nil, err
	}

	c1, c2, err := ih.sym.split()
	if err != nil {
		return nil, nil, err
	}

	result := &HandshakeResult{
		SendCipher:     c1,
		RecvCipher:     c2,
		PeerStaticKey:  ih.responderStatic,
		TranscriptHash: ih.sym.h,
	}

	return encStatic, result, nil
}

// ResponderHandshake drives the three-message Noise-XK handshake from the Template
// Provider's side. Its static keypair and a Certificate already issued for that
// keypair (see keys.go/certificate.go) are fixed for the process lifetime and reused
// across every accepted connection.
type ResponderHandshake struct {
	sym               *symmetricState
	staticKeypair     Keypair
	certificate       Certificate
	ephemeral         Keypair
	initiatorEphemeral [32]byte
	initiatorStatic    [32]byte
	rand              io.Reader
}

// NewResponderHandshake starts a handshake as the responder (the Template
// Provider).
func NewResponderHandshake(staticKeypair Keypair, certificate Certificate) *ResponderHandshake {
	sym := newSymmetricState()
	sym.mixHash(staticKeypair.Public[:])

	return &ResponderHandshake{
		sym:           sym,
		staticKeypair: staticKeypair,
		certificate:   certificate,
		rand:          rand.Reader,
	}
}

// ReadMessage1 consumes the initiator's exactly-32-byte "-> e" message.
func (rh *ResponderHandshake) ReadMessage1(msg []byte) error {
	if len(msg) != HandshakeStep1Size {
		return errors.NewHandshakeError("handshake step 1 must be %d bytes, got %d", HandshakeStep1Size, len(msg))
	}

	copy(rh.initiatorEphemeral[:], msg)
	rh.sym.mixHash(rh.initiatorEphemeral[:])

	return nil
}

// WriteMessage2 produces the exactly-170-byte "<- e, ee, s, es" message, embedding
// this TP's Certificate.
func (rh *ResponderHandshake) WriteMessage2() ([]byte, error) {
	ephemeral, err := GenerateKeypair(rh.rand)
	if err != nil {
		return nil, err
	}

	rh.ephemeral = ephemeral
	rh.sym.mixHash(ephemeral.Public[:])

	ee, err := DH(ephemeral.Private, rh.initiatorEphemeral)
	if err != nil {
		return nil, err
	}

	if err := rh.sym.mixKey(ee); err != nil {
		return nil, err
	}

	encStatic, err := rh.sym.encryptAndHash(rh.staticKeypair.Public[:])
	if err != nil {
		return nil, err
	}

	es, err := DH(rh.staticKeypair.Private, rh.initiatorEphemeral)
	if err != nil {
		return nil, err
	}

	if err := rh.sym.mixKey(es); err != nil {
		return nil, err
	}

	encCert, err := rh.sym.encryptAndHash(rh.certificate.EncodeForHandshake())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HandshakeStep2Size)
	out = append(out, ephemeral.Public[:]...)
	out = append(out, encStatic...)
	out = append(out, encCert...)

	if len(out) != HandshakeStep2Size {
		return nil, errors.NewHandshakeError("internal error: handshake step 2 built as %d bytes, want %d", len(out), HandshakeStep2Size)
	}

	return out, nil
}

// ReadMessage3 consumes the initiator's exactly-48-byte "-> s, se" message and, on
// success, returns the split CipherStates for the completed session.
func (rh *ResponderHandshake) ReadMessage3(msg []byte) (*HandshakeResult, error) {
	if len(msg) != HandshakeStep3Size {
		return nil, errors.NewHandshakeError("handshake step 3 must be %d bytes, got %d", HandshakeStep3Size, len(msg))
	}

	staticPT, err := rh.sym.decryptAndHash(msg)
	if err != nil {
		return nil, errors.ErrAEADFailure
	}

	copy(rh.initiatorStatic[:], staticPT)

	se, err := DH(rh.ephemeral.Private, rh.initiatorStatic)
	if err != nil {
		return nil, err
	}

	if err := rh.sym.mixKey(se); err != nil {
		return nil, err
	}

	c1, c2, err := rh.sym.split()
	if err != nil {
		return nil, err
	}

	return &HandshakeResult{
		SendCipher:     c2,
		RecvCipher:     c1,
		PeerStaticKey:  rh.initiatorStatic,
		TranscriptHash: rh.sym.h,
	}, nil
}
