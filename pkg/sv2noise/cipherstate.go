package sv2noise

import (
	"encoding/binary"
	"math"

	"github.com/bsv-blockchain/sv2tp/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// CipherState is the Noise Protocol Framework's CipherState object: a 32-byte key
// and a monotonically increasing 64-bit nonce. Two exist per connection after the
// handshake completes, one per direction; only one exists, transiently, during
// the handshake itself.
type CipherState struct {
	aead  cipherAEAD
	nonce uint64
}

// cipherAEAD is satisfied by chacha20poly1305's returned cipher.AEAD; kept as a
// narrow interface so tests can substitute a recording fake.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewCipherState constructs a CipherState from a 32-byte key with its nonce at 0.
func NewCipherState(key [32]byte) (*CipherState, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.NewAEADError("constructing ChaCha20-Poly1305 AEAD: %v", err)
	}

	return &CipherState{aead: aead, nonce: 0}, nil
}

// nonceBytes builds the 12-byte ChaCha20-Poly1305 nonce from the 64-bit LE counter
// prefixed with 4 zero bytes.
func nonceBytes(n uint64) [chacha20poly1305.NonceSize]byte {
	var out [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(out[4:], n)

	return out
}

// EncryptWithAD seals plaintext under the current nonce, increments the nonce, and
// returns ciphertext||tag. Returns ErrNonceExhausted if the nonce is already at
// its maximum value; rekey is not supported, the session must end first.
func (c *CipherState) EncryptWithAD(associatedData, plaintext []byte) ([]byte, error) {
	if c.nonce == math.MaxUint64 {
		return nil, errors.ErrNonceExhausted
	}

	n := nonceBytes(c.nonce)
	ciphertext := c.aead.Seal(nil, n[:], plaintext, associatedData)
	c.nonce++

	return ciphertext, nil
}

// DecryptWithAD opens ciphertext (which must include the trailing tag) under the
// current nonce and increments the nonce on success. A tag mismatch, or any
// out-of-order nonce use such as replaying an earlier frame after the nonce has
// advanced, surfaces as ErrAEADFailure and the nonce is not advanced.
func (c *CipherState) DecryptWithAD(associatedData, ciphertext []byte) ([]byte, error) {
	if c.nonce == math.MaxUint64 {
		return nil, errors.ErrNonceExhausted
	}

	n := nonceBytes(c.nonce)

	plaintext, err := c.aead.Open(nil, n[:], ciphertext, associatedData)
	if err != nil {
		return nil, errors.NewAEADError("AEAD open failed at nonce %d: %v", c.nonce, err)
	}

	c.nonce++

	return plaintext, nil
}

// Nonce reports the next nonce value this CipherState will use, exposed so callers
// and tests can observe monotonicity without reaching into state.
func (c *CipherState) Nonce() uint64 {
	return c.nonce
}
