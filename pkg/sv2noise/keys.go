package sv2noise

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// authorityKeyFileMode restricts the persisted authority key to owner read/write.
const authorityKeyFileMode = 0o600

// NewStaticKeypair generates a fresh X25519 keypair. The static Noise key is
// ephemeral per process: it is never written to disk and is regenerated every
// time the process starts.
func NewStaticKeypair() (Keypair, error) {
	return GenerateKeypair(rand.Reader)
}

// LoadOrCreateAuthorityKeypair loads the authority key from
// <dataDir>/sv2_authority.key, generating and persisting one on first run. The
// file holds the raw 32-byte secp256k1 scalar.
func LoadOrCreateAuthorityKeypair(dataDir string) (*AuthorityKeypair, error) {
	path := filepath.Join(dataDir, "sv2_authority.key")

	b, err := os.ReadFile(path)
	if err == nil {
		return NewAuthorityKeypairFromBytes(b)
	}

	if !os.IsNotExist(err) {
		return nil, errors.NewFatalError("reading authority key %s: %v", path, err)
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, errors.NewFatalError("generating authority key: %v", err)
	}

	keyBytes := priv.Serialize()

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errors.NewFatalError("creating data directory %s: %v", dataDir, err)
	}

	if err := os.WriteFile(path, keyBytes, authorityKeyFileMode); err != nil {
		return nil, errors.NewFatalError("writing authority key %s: %v", path, err)
	}

	return NewAuthorityKeypairFromBytes(keyBytes)
}
