package cryptox

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestNewNumericCode_Shape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewNumericCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
	}
}

func TestNewNumericCode_KeepsLeadingZeros(t *testing.T) {
	orig := randReader
	t.Cleanup(func() { randReader = orig })

	// rand.Int reads one byte per draw for max=10; zero bytes yield digit 0.
	randReader = bytes.NewReader(make([]byte, 64))

	code, err := NewNumericCode(6)
	require.NoError(t, err)
	assert.Equal(t, "000000", code)
}

func TestNewNumericCode_Errors(t *testing.T) {
	_, err := NewNumericCode(0)
	assert.Error(t, err)

	orig := randReader
	t.Cleanup(func() { randReader = orig })
	randReader = failingReader{}

	_, err = NewNumericCode(6)
	assert.Error(t, err)
}
