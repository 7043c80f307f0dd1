// Package idgen generates short hash-based identifiers for sessions.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"
)

// SessionPrefix prefixes every verification session id.
const SessionPrefix = "vs"

// DefaultLength is the number of base36 characters in a session id.
const DefaultLength = 8

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts data to a base36 string of exactly length characters,
// zero-padded on the left and truncated to the least significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	mod := new(big.Int)

	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		num.DivMod(num, base, mod)
		out[i] = base36Alphabet[mod.Int64()]
	}
	return string(out)
}

// SessionID derives a session id from the submission, the creating agent and
// the creation time. nonce is bumped by callers on collision.
func SessionID(submissionID, agentID string, at time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", submissionID, agentID, at.UnixNano(), nonce)
	sum := sha256.Sum256([]byte(content))
	// 6 bytes = 48 bits, comfortably more than 8 base36 chars need
	return fmt.Sprintf("%s-%s", SessionPrefix, EncodeBase36(sum[:6], DefaultLength))
}
