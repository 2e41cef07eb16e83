package keyexchange

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/sonet-social/messaging/crypto"
)

const (
	saltFile  = "identity.salt"
	saltSize  = 32
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	filePerms = 0o600
	dirPerms  = 0o700
)

// IdentityStore persists identities encrypted at rest. The file key is
// derived from a passphrase with scrypt; the identity itself is sealed with
// NaCl secretbox so a stolen data directory reveals nothing without the
// passphrase.
type IdentityStore struct {
	dataDir   string
	masterKey [32]byte
}

// storedIdentity is the serialized form inside the sealed box.
type storedIdentity struct {
	UserID     string    `json:"user_id"`
	PrivateKey string    `json:"private_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewIdentityStore opens (or initializes) an encrypted identity store in
// dataDir, deriving the master key from the passphrase and a per-store salt.
func NewIdentityStore(dataDir string, passphrase []byte) (*IdentityStore, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	if err := os.MkdirAll(dataDir, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	salt, err := loadOrGenerateSalt(filepath.Join(dataDir, saltFile))
	if err != nil {
		return nil, err
	}

	derived, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}

	store := &IdentityStore{dataDir: dataDir}
	copy(store.masterKey[:], derived)
	crypto.ZeroBytes(derived)

	return store, nil
}

func loadOrGenerateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("corrupt salt file: %d bytes", len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, filePerms); err != nil {
		return nil, fmt.Errorf("failed to write salt file: %w", err)
	}
	return salt, nil
}

// Save seals an identity to disk under its user ID.
func (s *IdentityStore) Save(id *Identity) error {
	if id == nil || id.KeyPair == nil {
		return errors.New("cannot save nil identity")
	}

	plain, err := json.Marshal(storedIdentity{
		UserID:     id.UserID,
		PrivateKey: hex.EncodeToString(id.KeyPair.Private[:]),
		CreatedAt:  id.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize identity: %w", err)
	}
	defer crypto.ZeroBytes(plain)

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.masterKey)
	path := filepath.Join(s.dataDir, "identity_"+id.UserID+".enc")
	if err := os.WriteFile(path, sealed, filePerms); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// Load opens a sealed identity by user ID. A wrong passphrase surfaces as a
// failed box open, not as garbage key material.
func (s *IdentityStore) Load(userID string) (*Identity, error) {
	path := filepath.Join(s.dataDir, "identity_"+userID+".enc")
	sealed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no stored identity for %s: %w", userID, err)
		}
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	if len(sealed) < 24 {
		return nil, errors.New("corrupt identity file")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.masterKey)
	if !ok {
		return nil, errors.New("failed to unseal identity: wrong passphrase or corrupt file")
	}
	defer crypto.ZeroBytes(plain)

	var stored storedIdentity
	if err := json.Unmarshal(plain, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse identity: %w", err)
	}

	privBytes, err := hex.DecodeString(stored.PrivateKey)
	if err != nil || len(privBytes) != 32 {
		return nil, errors.New("corrupt private key in identity file")
	}
	var priv [32]byte
	copy(priv[:], privBytes)
	crypto.ZeroBytes(privBytes)

	keyPair, err := crypto.FromSecretKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to restore keypair: %w", err)
	}

	return &Identity{
		UserID:    stored.UserID,
		KeyPair:   keyPair,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Close wipes the derived master key.
func (s *IdentityStore) Close() {
	crypto.ZeroBytes(s.masterKey[:])
}
