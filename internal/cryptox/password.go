package cryptox

import (
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// secretSalt is constant: a password derives the same secret on every node.
var secretSalt = []byte("peervault/backup-secret/v1")

// DeriveMasterKey stretches password with argon2id into a 32-byte key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// DeriveSecret turns a user password into the opaque secret string handed to
// the orchestrator and the codec.
func DeriveSecret(password []byte) string {
	return hex.EncodeToString(DeriveMasterKey(password, secretSalt))
}
