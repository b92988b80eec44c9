package sv2noise

import (
	"testing"
	"time"

	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/stretchr/testify/require"
)

func issueTestCertificate(t *testing.T, validFrom, validTo uint32) (Certificate, *AuthorityKeypair, Keypair) {
	t.Helper()

	authority := testAuthority(t)

	static, err := NewStaticKeypair()
	require.NoError(t, err)

	cert, err := IssueCertificate(authority, static.Public, validFrom, validTo)
	require.NoError(t, err)

	return cert, authority, static
}

func TestCertificate_SignAndVerify(t *testing.T) {
	now := time.Now()
	cert, authority, static := issueTestCertificate(t, uint32(now.Unix())-10, uint32(now.Unix())+3600)

	require.NoError(t, cert.Verify(authority.XOnlyPubKey(), static.Public, now))
}

func TestCertificate_WireRoundTrip(t *testing.T) {
	now := time.Now()
	cert, authority, static := issueTestCertificate(t, uint32(now.Unix())-10, uint32(now.Unix())+3600)

	encoded := cert.Encode()
	require.Len(t, encoded, CertificateWireSize)

	decoded, err := DecodeCertificate(encoded)
	require.NoError(t, err)
	require.Equal(t, cert, decoded)
	require.NoError(t, decoded.Verify(authority.XOnlyPubKey(), static.Public, now))
}

func TestCertificate_HandshakeFormRoundTrip(t *testing.T) {
	now := time.Now()
	cert, authority, static := issueTestCertificate(t, uint32(now.Unix())-10, uint32(now.Unix())+3600)

	encoded := cert.EncodeForHandshake()
	require.Len(t, encoded, 74)

	decoded, err := DecodeHandshakeCertificate(encoded, static.Public)
	require.NoError(t, err)
	require.Equal(t, cert, decoded)
	require.NoError(t, decoded.Verify(authority.XOnlyPubKey(), static.Public, now))
}

func TestCertificate_TamperedSignatureRejected(t *testing.T) {
	now := time.Now()
	cert, authority, static := issueTestCertificate(t, uint32(now.Unix())-10, uint32(now.Unix())+3600)

	cert.Signature[0] ^= 0x01

	err := cert.Verify(authority.XOnlyPubKey(), static.Public, now)
	require.True(t, errors.Is(err, errors.ErrInvalidCert))
}

func TestCertificate_StaticKeyMismatchRejected(t *testing.T) {
	now := time.Now()
	cert, authority, _ := issueTestCertificate(t, uint32(now.Unix())-10, uint32(now.Unix())+3600)

	other, err := NewStaticKeypair()
	require.NoError(t, err)

	verr := cert.Verify(authority.XOnlyPubKey(), other.Public, now)
	require.True(t, errors.Is(verr, errors.ErrInvalidCert))
}

func TestCertificate_WindowEnforced(t *testing.T) {
	now := time.Now()
	nowUnix := uint32(now.Unix())

	cert, authority, static := issueTestCertificate(t, nowUnix-100, nowUnix+100)

	require.NoError(t, cert.Verify(authority.XOnlyPubKey(), static.Public, now))

	err := cert.Verify(authority.XOnlyPubKey(), static.Public, now.Add(200*time.Second))
	require.True(t, errors.Is(err, errors.ErrCertExpired))

	err = cert.Verify(authority.XOnlyPubKey(), static.Public, now.Add(-200*time.Second))
	require.True(t, errors.Is(err, errors.ErrCertExpired))
}

func TestLoadOrCreateAuthorityKeypair_PersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateAuthorityKeypair(dir)
	require.NoError(t, err)

	second, err := LoadOrCreateAuthorityKeypair(dir)
	require.NoError(t, err)

	require.Equal(t, first.XOnlyPubKey(), second.XOnlyPubKey())
	require.Equal(t, first.Bytes(), second.Bytes())
}
