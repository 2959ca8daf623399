package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode(5)
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9A-F]{10}$`, code)
		assert.False(t, seen[code])
		seen[code] = true
	}
}
