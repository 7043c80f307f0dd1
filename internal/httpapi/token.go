package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IntakeClaims are the claims carried by a call-result intake token.
type IntakeClaims struct {
	// SubmissionID pins the token to one submission. Empty allows any.
	SubmissionID string    `json:"submission_id,omitempty"`
	Source       string    `json:"source,omitempty"` // Who issued it, for the audit trail
	Expiry       time.Time `json:"exp"`
}

// GenerateIntakeToken creates an HMAC-signed intake token.
//
// Token format: base64(json(claims)).base64(hmac-sha256(claims))
func GenerateIntakeToken(claims IntakeClaims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("intake secret is empty")
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token claims: %w", err)
	}
	return base64.URLEncoding.EncodeToString(claimsJSON) + "." +
		base64.URLEncoding.EncodeToString(sign(claimsJSON, secret)), nil
}

func sign(payload, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}

// ValidateIntakeToken checks the signature and expiry of token and returns
// its claims.
func ValidateIntakeToken(token string, secret []byte, now time.Time) (*IntakeClaims, error) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return nil, fmt.Errorf("invalid token format")
	}
	claimsJSON, err := base64.URLEncoding.DecodeString(token[:i])
	if err != nil {
		return nil, fmt.Errorf("invalid token encoding: %w", err)
	}
	signature, err := base64.URLEncoding.DecodeString(token[i+1:])
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(signature, sign(claimsJSON, secret)) {
		return nil, fmt.Errorf("invalid token signature")
	}

	var claims IntakeClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("invalid token claims: %w", err)
	}
	if now.After(claims.Expiry) {
		return nil, fmt.Errorf("token expired at %s", claims.Expiry.Format(time.RFC3339))
	}
	return &claims, nil
}

// Allows reports whether the token may close submissionID.
func (c *IntakeClaims) Allows(submissionID string) bool {
	return c.SubmissionID == "" || c.SubmissionID == submissionID
}
