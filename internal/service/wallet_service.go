package service

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"fluxapay-backend/internal/core/domain"

	"github.com/stellar/go/exp/crypto/derivation"
	"github.com/stellar/go/keypair"
	"golang.org/x/crypto/pbkdf2"
)

const bip39Rounds = 2048

// HDWalletService implements ports.KeyDeriver over a single master seed.
// The seed is loaded once at startup and held only in memory; every payment's
// signing key is a pure function of (seed, version, index), so no private key
// ever touches disk.
type HDWalletService struct {
	seed []byte
}

// NewHDWalletService builds the deriver from the configured master secret:
// either a hex-encoded seed (at least 32 bytes) or a BIP-39 mnemonic phrase.
// An empty or undecodable secret is a configuration error; callers must
// abort startup rather than derive from a default.
func NewHDWalletService(masterSecret string) (*HDWalletService, error) {
	secret := strings.TrimSpace(masterSecret)
	if secret == "" {
		return nil, fmt.Errorf("wallet: master seed is not configured")
	}

	seed, err := decodeMasterSeed(secret)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	return &HDWalletService{seed: seed}, nil
}

// Derive returns the signing keypair for a payment's derivation identifier.
func (s *HDWalletService) Derive(version int, index uint32) (*keypair.Full, error) {
	switch version {
	case domain.DerivationVersionSEP5:
		return s.deriveSEP5(index)
	default:
		return nil, fmt.Errorf("wallet: unknown derivation version %d", version)
	}
}

// DeriveAddress returns only the public deposit address for an identifier.
func (s *HDWalletService) DeriveAddress(version int, index uint32) (string, error) {
	kp, err := s.Derive(version, index)
	if err != nil {
		return "", err
	}
	return kp.Address(), nil
}

// deriveSEP5 walks the SEP-0005 path m/44'/148'/{index}'.
func (s *HDWalletService) deriveSEP5(index uint32) (*keypair.Full, error) {
	// All SEP-0005 path segments are hardened, so the index must fit below
	// the hardening offset.
	if index >= 1<<31 {
		return nil, fmt.Errorf("wallet: address index %d out of hardened range", index)
	}

	path := fmt.Sprintf(derivation.StellarAccountPathFormat, index)
	key, err := derivation.DeriveForPath(path, s.seed)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving %s: %w", path, err)
	}

	kp, err := keypair.FromRawSeed(key.RawSeed())
	if err != nil {
		return nil, fmt.Errorf("wallet: building keypair for index %d: %w", index, err)
	}
	return kp, nil
}

// decodeMasterSeed accepts a raw hex seed or a BIP-39 mnemonic. Mnemonics are
// stretched with PBKDF2-SHA512 exactly as BIP-39 specifies (salt "mnemonic",
// empty passphrase), so the same phrase always yields the same seed.
func decodeMasterSeed(secret string) ([]byte, error) {
	if raw, err := hex.DecodeString(secret); err == nil {
		if len(raw) < 32 {
			return nil, fmt.Errorf("hex master seed too short: %d bytes", len(raw))
		}
		return raw, nil
	}

	words := strings.Fields(secret)
	if len(words) < 12 {
		return nil, fmt.Errorf("master seed is neither hex nor a mnemonic phrase")
	}
	mnemonic := strings.Join(words, " ")
	return pbkdf2.Key([]byte(mnemonic), []byte("mnemonic"), bip39Rounds, 64, sha512.New), nil
}
