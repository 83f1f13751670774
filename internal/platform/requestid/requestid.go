package requestid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random 128-bit identifier encoded as 32 hex characters.
func New() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
