package cryptox

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// NewNumericCode returns a uniformly random string of digits decimal digits.
// Leading zeros are kept.
func NewNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", errors.New("digits must be positive")
	}

	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(randReader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
