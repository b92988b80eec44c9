package sv2noise

import (
	"encoding/binary"
	"time"

	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// CertificateWireSize is the fixed encoded size of a Certificate:
// version(2) + valid_from(4) + valid_to(4) + signed_static_pubkey(32) + sig(64).
const CertificateWireSize = 2 + 4 + 4 + 32 + 64

// CertificateVersion is the only certificate wire version this implementation
// issues or accepts.
const CertificateVersion uint16 = 2

// AuthorityKeypair is the long-lived BIP-340 (x-only secp256k1) keypair that signs
// Certificates, persisted at <datadir>/sv2_authority.key.
type AuthorityKeypair struct {
	private *secp256k1.PrivateKey
}

// NewAuthorityKeypairFromBytes wraps a raw 32-byte secp256k1 scalar as loaded from
// disk by LoadOrCreateAuthorityKeypair (see keys.go).
func NewAuthorityKeypairFromBytes(b []byte) (*AuthorityKeypair, error) {
	if len(b) != 32 {
		return nil, errors.NewFatalError("authority key must be 32 bytes, got %d", len(b))
	}

	priv := secp256k1.PrivKeyFromBytes(b)

	return &AuthorityKeypair{private: priv}, nil
}

// Bytes returns the raw 32-byte private scalar, for on-disk persistence.
func (a *AuthorityKeypair) Bytes() []byte {
	return a.private.Serialize()
}

// XOnlyPubKey returns the 32-byte x-only public key that peers must be configured
// with out of band to verify certificates this authority issues.
func (a *AuthorityKeypair) XOnlyPubKey() [32]byte {
	var out [32]byte
	copy(out[:], a.private.PubKey().SerializeCompressed()[1:])

	return out
}

// Certificate asserts that a TP's static Noise X25519 public key is vouched for by
// an authority key within a validity window.
type Certificate struct {
	Version           uint16
	ValidFrom         uint32
	ValidTo           uint32
	SignedStaticPubKey [32]byte
	Signature         [64]byte
}

// certDigest computes sha256(version‖valid_from‖valid_to‖static_pubkey), the message
// the authority's BIP-340 signature covers.
func certDigest(version uint16, validFrom, validTo uint32, staticPubKey [32]byte) [32]byte {
	var buf [2 + 4 + 4 + 32]byte
	binary.LittleEndian.PutUint16(buf[0:2], version)
	binary.LittleEndian.PutUint32(buf[2:6], validFrom)
	binary.LittleEndian.PutUint32(buf[6:10], validTo)
	copy(buf[10:], staticPubKey[:])

	return sha256Sum(buf[:])
}

// IssueCertificate signs a Certificate binding staticPubKey to [validFrom,validTo]
// under the authority key.
func IssueCertificate(authority *AuthorityKeypair, staticPubKey [32]byte, validFrom, validTo uint32) (Certificate, error) {
	digest := certDigest(CertificateVersion, validFrom, validTo, staticPubKey)

	sig, err := schnorr.Sign(authority.private, digest[:])
	if err != nil {
		return Certificate{}, errors.NewFatalError("signing certificate: %v", err)
	}

	cert := Certificate{
		Version:            CertificateVersion,
		ValidFrom:          validFrom,
		ValidTo:            validTo,
		SignedStaticPubKey: staticPubKey,
	}
	copy(cert.Signature[:], sig.Serialize())

	return cert, nil
}

// Encode serializes the certificate to its fixed CertificateWireSize wire form.
func (c Certificate) Encode() []byte {
	buf := make([]byte, CertificateWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], c.Version)
	binary.LittleEndian.PutUint32(buf[2:6], c.ValidFrom)
	binary.LittleEndian.PutUint32(buf[6:10], c.ValidTo)
	copy(buf[10:42], c.SignedStaticPubKey[:])
	copy(buf[42:106], c.Signature[:])

	return buf
}

// DecodeCertificate parses a fixed-size certificate blob.
func DecodeCertificate(b []byte) (Certificate, error) {
	if len(b) != CertificateWireSize {
		return Certificate{}, errors.NewDecodeError("certificate must be %d bytes, got %d", CertificateWireSize, len(b))
	}

	var c Certificate
	c.Version = binary.LittleEndian.Uint16(b[0:2])
	c.ValidFrom = binary.LittleEndian.Uint32(b[2:6])
	c.ValidTo = binary.LittleEndian.Uint32(b[6:10])
	copy(c.SignedStaticPubKey[:], b[10:42])
	copy(c.Signature[:], b[42:106])

	return c, nil
}

// handshakeCertPayloadSize is the size of a Certificate as embedded in handshake
// message 2: version(2) + valid_from(4) + valid_to(4) + sig(64) = 74 bytes. The
// signed_static_pubkey field of the full wire Certificate is omitted here because
// it is, by construction, the static key sent earlier in the same message; this
// is what makes HandshakeStep2Size work out to exactly 170 bytes.
const handshakeCertPayloadSize = 2 + 4 + 4 + 64

// EncodeForHandshake serializes the certificate without its redundant
// signed_static_pubkey field, for embedding in handshake message 2.
func (c Certificate) EncodeForHandshake() []byte {
	buf := make([]byte, handshakeCertPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], c.Version)
	binary.LittleEndian.PutUint32(buf[2:6], c.ValidFrom)
	binary.LittleEndian.PutUint32(buf[6:10], c.ValidTo)
	copy(buf[10:74], c.Signature[:])

	return buf
}

// DecodeHandshakeCertificate parses the 74-byte handshake form and fills in
// SignedStaticPubKey from the static key received earlier in the same handshake
// message, reconstructing a full Certificate suitable for Verify.
func DecodeHandshakeCertificate(b []byte, staticPubKey [32]byte) (Certificate, error) {
	if len(b) != handshakeCertPayloadSize {
		return Certificate{}, errors.NewDecodeError("handshake certificate must be %d bytes, got %d", handshakeCertPayloadSize, len(b))
	}

	var c Certificate
	c.Version = binary.LittleEndian.Uint16(b[0:2])
	c.ValidFrom = binary.LittleEndian.Uint32(b[2:6])
	c.ValidTo = binary.LittleEndian.Uint32(b[6:10])
	copy(c.Signature[:], b[10:74])
	c.SignedStaticPubKey = staticPubKey

	return c, nil
}

// Verify checks the certificate: the
// BIP-340 signature must verify against authorityPubKey, the signed static pubkey
// must match staticPubKey just received over the wire, and now must fall within
// [ValidFrom,ValidTo]. Any failure returns ErrInvalidCert or ErrCertExpired; callers
// must not surface which subcheck failed to the peer.
func (c Certificate) Verify(authorityPubKey [32]byte, staticPubKey [32]byte, now time.Time) error {
	if c.SignedStaticPubKey != staticPubKey {
		return errors.ErrInvalidCert
	}

	pub, err := schnorr.ParsePubKey(authorityPubKey[:])
	if err != nil {
		return errors.ErrInvalidCert
	}

	sig, err := schnorr.ParseSignature(c.Signature[:])
	if err != nil {
		return errors.ErrInvalidCert
	}

	digest := certDigest(c.Version, c.ValidFrom, c.ValidTo, c.SignedStaticPubKey)
	if !sig.Verify(digest[:], pub) {
		return errors.ErrInvalidCert
	}

	nowUnix := uint32(now.Unix())
	if nowUnix < c.ValidFrom || nowUnix > c.ValidTo {
		return errors.ErrCertExpired
	}

	return nil
}
