package approval

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	MinTokenLength = 4
	MaxTokenLength = 8
)

// Issuer mints approval tokens: lower-case hex strings of a fixed length.
// Uniqueness among outstanding tokens is enforced by the store; callers
// ask for a fresh token when the store reports a clash.
type Issuer struct {
	length int
	rand   io.Reader
}

func NewIssuer(length int) (*Issuer, error) {
	if length < MinTokenLength || length > MaxTokenLength {
		return nil, fmt.Errorf("token length %d outside %d..%d", length, MinTokenLength, MaxTokenLength)
	}
	return &Issuer{length: length, rand: rand.Reader}, nil
}

// NewToken returns a random token.
func (i *Issuer) NewToken() (string, error) {
	buf := make([]byte, (i.length+1)/2)
	if _, err := io.ReadFull(i.rand, buf); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return hex.EncodeToString(buf)[:i.length], nil
}
