package sui

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	flagEd25519 byte = 0x00
	seedSize         = ed25519.SeedSize
)

// transactionIntent prefixes every transaction before hashing: scope
// TransactionData, version V0, app Sui.
var transactionIntent = []byte{0, 0, 0}

// Signer signs transaction bytes with an ed25519 key.
type Signer struct {
	key     ed25519.PrivateKey
	address string
}

// NewSigner builds a signer from a 32 byte ed25519 seed.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != seedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", seedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{key: key, address: deriveAddress(key.Public().(ed25519.PublicKey))}, nil
}

// ParsePrivateKey accepts the sui.keystore encoding base64(flag || seed) and
// also a bare hex seed with optional 0x prefix.
func ParsePrivateKey(encoded string) (*Signer, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("private key is empty")
	}
	if strings.HasPrefix(encoded, "suiprivkey") {
		return nil, errors.New("bech32 suiprivkey keys are not supported, export the key in base64 keystore form")
	}

	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(raw) == seedSize+1 {
		if raw[0] != flagEd25519 {
			return nil, fmt.Errorf("unsupported key scheme flag 0x%02x, only ed25519 is supported", raw[0])
		}
		return NewSigner(raw[1:])
	}

	trimmed := strings.TrimPrefix(strings.TrimPrefix(encoded, "0x"), "0X")
	if raw, err := hex.DecodeString(trimmed); err == nil && len(raw) == seedSize {
		return NewSigner(raw)
	}
	return nil, errors.New("private key must be base64(flag||seed) or a 32 byte hex seed")
}

// Address returns the 0x prefixed Sui address of the key.
func (s *Signer) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// PublicKey exposes the raw ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// SignTransaction signs base64 encoded transaction bytes and returns the
// serialized signature flag || sig || pubkey in base64.
func (s *Signer) SignTransaction(txBytes string) (string, error) {
	if s == nil {
		return "", errors.New("signer is not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return "", fmt.Errorf("decode tx bytes: %w", err)
	}
	digest := TransactionDigest(raw)
	sig := ed25519.Sign(s.key, digest[:])

	serialized := make([]byte, 0, 1+len(sig)+ed25519.PublicKeySize)
	serialized = append(serialized, flagEd25519)
	serialized = append(serialized, sig...)
	serialized = append(serialized, s.PublicKey()...)
	return base64.StdEncoding.EncodeToString(serialized), nil
}

// TransactionDigest hashes intent || txBytes with blake2b-256.
func TransactionDigest(txBytes []byte) [32]byte {
	msg := make([]byte, 0, len(transactionIntent)+len(txBytes))
	msg = append(msg, transactionIntent...)
	msg = append(msg, txBytes...)
	return blake2b.Sum256(msg)
}

func deriveAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, flagEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}
