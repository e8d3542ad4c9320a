package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// encryptionKeySuffix is mixed into the per-source-file key derivation.
// Keying off host_path alone (rather than a mount-wide secret) means moving
// the source file invalidates any cache built for it at the old path.
const encryptionKeySuffix = "fuse-img2heic-encryption-key"

// hkdfInfo domain-separates the cache payload key from any other key an
// hkdf.New call over the same secret might ever be asked to derive.
const hkdfInfo = "fuse-img2heic cache payload key v1"

// deriveFileKey expands host_path (plus the fixed suffix) through
// HKDF-SHA256 into the AES-256 key used to seal/open this source file's
// cache payload. HKDF rather than a bare SHA-256 digest keeps this
// derivation extendable to further per-purpose subkeys (e.g. a future
// header-authentication key) without risking key reuse across purposes.
func deriveFileKey(hostPath string) [32]byte {
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(hostPath+encryptionKeySuffix), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		// hkdf.Reader only errors once its output limit (255*hash size)
		// is exceeded; a single 32-byte read never approaches it.
		panic(fmt.Sprintf("cache: hkdf expand: %v", err))
	}
	return key
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cache: build AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cache: build GCM: %w", err)
	}
	return gcm, nil
}

// seal encrypts plaintext under the key derived from hostPath, returning
// the ciphertext (with appended tag) and the nonce used.
func seal(hostPath string, plaintext []byte) (ciphertext []byte, nonce [nonceSize]byte, err error) {
	gcm, err := newGCM(deriveFileKey(hostPath))
	if err != nil {
		return nil, nonce, err
	}
	if _, err = io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("cache: generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce[:], plaintext, nil)
	return ciphertext, nonce, nil
}

// open decrypts ciphertext sealed by seal for the same hostPath and nonce.
// Failure here (wrong key, tampered ciphertext/tag, wrong nonce) surfaces
// as ErrDecryptionFailed, a recoverable cache fault: the caller treats it
// as a miss and deletes the file.
func open(hostPath string, nonce [nonceSize]byte, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(deriveFileKey(hostPath))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
