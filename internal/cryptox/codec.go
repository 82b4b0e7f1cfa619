// Package cryptox implements the chunk and file-name encryption used for
// backups, and the password derivation that produces the secret it consumes.
//
// Every encrypted chunk is self-contained:
//
//	salt (16) | nonce (12) | AES-256-GCM ciphertext | tag (16)
//
// The AES key is derived per chunk with HKDF-SHA256 from the caller's secret
// and the chunk's random salt.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/dmitrijs2005/peervault/internal/common"
	"golang.org/x/crypto/hkdf"
)

const (
	// ChunkSize is the plaintext size of one file chunk on the wire.
	ChunkSize = 4096

	saltSize  = 16
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	// Overhead is the number of bytes Encrypt adds to any input.
	Overhead = saltSize + nonceSize + tagSize

	// EncryptedChunkSize is the size of a full encrypted chunk, which is the
	// unit an encrypted file must be read back in.
	EncryptedChunkSize = ChunkSize + Overhead
)

var hkdfInfo = []byte("peervault chunk v1")

// ErrDecryptionFailed is returned when a ciphertext does not authenticate
// under the given secret: wrong password, truncated or corrupted data.
var ErrDecryptionFailed = errors.New("decryption failed")

func chunkAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), salt, hkdfInfo), key); err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under secret. The result is always exactly
// len(plaintext)+Overhead bytes long. Inputs of any size are accepted; file
// contents are passed one ChunkSize piece at a time, paths as a whole.
func Encrypt(plaintext []byte, secret string) ([]byte, error) {
	out := make([]byte, saltSize+nonceSize, len(plaintext)+Overhead)
	copy(out[:saltSize], common.GenerateRandByteArray(saltSize))
	copy(out[saltSize:], common.GenerateRandByteArray(nonceSize))

	aead, err := chunkAEAD(secret, out[:saltSize])
	if err != nil {
		return nil, err
	}

	return aead.Seal(out, out[saltSize:saltSize+nonceSize], plaintext, nil), nil
}

// Decrypt reverses Encrypt. Any failure to authenticate is reported as
// ErrDecryptionFailed.
func Decrypt(ciphertext []byte, secret string) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrDecryptionFailed
	}

	salt := ciphertext[:saltSize]
	nonce := ciphertext[saltSize : saltSize+nonceSize]

	aead, err := chunkAEAD(secret, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// EncryptName encrypts a relative path and encodes it with the URL-safe
// base64 alphabet, producing a single valid path segment.
func EncryptName(relPath string, secret string) (string, error) {
	sealed, err := Encrypt([]byte(relPath), secret)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptName recovers the relative path from a name produced by EncryptName.
// Both padded and unpadded encodings are accepted.
func DecryptName(name string, secret string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(name, "="))
	if err != nil {
		return "", ErrDecryptionFailed
	}

	plain, err := Decrypt(sealed, secret)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
