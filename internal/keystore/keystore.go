// Package keystore decrypts wallet credentials on demand.
//
// Stored envelopes have the form "v1:<n>:<base64(salt|nonce|ciphertext)>". The
// encryption key is derived from the user's secret with scrypt and the payload
// is sealed with XChaCha20-Poly1305.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrDecrypt        = errors.New("credential decryption failed")
	ErrWalletNotFound = errors.New("wallet not found")
)

const (
	envelopeVersion = "v1"
	saltSize        = 16
	keySize         = chacha20poly1305.KeySize
	scryptR         = 8
	scryptP         = 1
)

// Wallet is what the keystore needs to know about a stored credential.
type Wallet struct {
	ID           uint
	Venue        string
	Address      string
	EncryptedKey string
}

// WalletSource loads wallets by id.
type WalletSource interface {
	GetWallet(ctx context.Context, id uint) (*Wallet, error)
}

// Key is a decrypted credential. Bytes are wiped by Wipe.
type Key struct {
	WalletID uint
	Venue    string
	Address  string
	Bytes    []byte
}

func (k *Key) Wipe() {
	if k == nil {
		return
	}
	for i := range k.Bytes {
		k.Bytes[i] = 0
	}
}

type Keystore struct {
	wallets WalletSource
}

func New(wallets WalletSource) *Keystore {
	return &Keystore{wallets: wallets}
}

// Decrypt returns the plaintext credential for walletID. The caller owns the
// returned key and must Wipe it; prefer WithKey.
func (k *Keystore) Decrypt(ctx context.Context, walletID uint, secret string) (*Key, error) {
	w, err := k.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %d: %w", walletID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
	}

	plain, err := Open(w.EncryptedKey, secret)
	if err != nil {
		return nil, fmt.Errorf("wallet %d: %w", walletID, err)
	}

	key := &Key{WalletID: w.ID, Venue: w.Venue, Address: w.Address, Bytes: plain}
	if IsEVMVenue(w.Venue) {
		addr, err := AddressOf(plain)
		if err != nil {
			key.Wipe()
			return nil, fmt.Errorf("wallet %d: %w: %v", walletID, ErrDecrypt, err)
		}
		if w.Address != "" && !strings.EqualFold(addr, w.Address) {
			key.Wipe()
			return nil, fmt.Errorf("wallet %d: %w: key does not match address", walletID, ErrDecrypt)
		}
		key.Address = addr
	}
	return key, nil
}

// WithKey decrypts the credential, hands it to fn and wipes it afterwards,
// including when fn panics.
func (k *Keystore) WithKey(ctx context.Context, walletID uint, secret string, fn func(*Key) error) error {
	key, err := k.Decrypt(ctx, walletID, secret)
	if err != nil {
		return err
	}
	defer key.Wipe()
	return fn(key)
}

// Verify checks that secret unlocks the wallet without keeping the key.
func (k *Keystore) Verify(ctx context.Context, walletID uint, secret string) error {
	return k.WithKey(ctx, walletID, secret, func(*Key) error { return nil })
}

// Seal encrypts plaintext with secret. n is the scrypt cost (power of two).
func Seal(plaintext []byte, secret string, n int) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	if n < 2 || n&(n-1) != 0 {
		return "", fmt.Errorf("scrypt N must be a power of two > 1, got %d", n)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	aead, err := deriveAEAD(secret, salt, n)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, []byte(envelopeVersion))

	return fmt.Sprintf("%s:%d:%s", envelopeVersion, n, base64.StdEncoding.EncodeToString(out)), nil
}

// Open reverses Seal.
func Open(envelope, secret string) ([]byte, error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || parts[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope", ErrDecrypt)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad cost parameter", ErrDecrypt)
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrDecrypt)
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := raw[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := deriveAEAD(secret, salt, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := aead.Open(nil, nonce, sealed, []byte(envelopeVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong secret or corrupted data", ErrDecrypt)
	}
	return plain, nil
}

type aeadCipher interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func deriveAEAD(secret string, salt []byte, n int) (aeadCipher, error) {
	dk, err := scrypt.Key([]byte(secret), salt, n, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer func() {
		for i := range dk {
			dk[i] = 0
		}
	}()
	aead, err := chacha20poly1305.NewX(dk)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}

// IsEVMVenue reports whether the venue's credential is a secp256k1 private key.
func IsEVMVenue(venue string) bool {
	switch venue {
	case "hyperliquid", "proxy":
		return true
	}
	return false
}

// AddressOf derives the checksummed address of a raw secp256k1 private key.
func AddressOf(privateKey []byte) (string, error) {
	pk, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

// ParsePrivateKeyHex decodes a 0x-prefixed or bare hex private key.
func ParsePrivateKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	if _, err := crypto.ToECDSA(b); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return b, nil
}

// ValidAddress reports whether s is a well-formed hex address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}
