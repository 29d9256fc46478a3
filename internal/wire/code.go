package wire

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// CodeLength is the number of digits in a room code.
const CodeLength = 4

// ErrBadCode indicates a room code that is not a 4-digit string after
// normalization.
var ErrBadCode = errors.New("room code must be 4 digits")

// NormalizeCode strips whitespace and upper-cases a user-entered room code.
func NormalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// ValidateCode reports whether a normalized code has the required shape.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrBadCode
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ErrBadCode
		}
	}
	return nil
}

// CodeSource yields candidate room codes for host attempts. Deterministic
// sources are substituted in tests.
type CodeSource func() string

// RandomCode returns a uniformly random 4-digit room code.
func RandomCode() string {
	return fmt.Sprintf("%04d", randomIndex(10000))
}

// randomIndex returns a cryptographically secure random index in [0, max).
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("random source failed: %v", err))
	}
	return int(n.Int64())
}
