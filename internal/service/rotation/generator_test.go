package rotation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Generator(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()

	t.Run("values are url safe and carry full entropy", func(t *testing.T) {
		value, err := gen.Generate()

		require.NoError(t, err)
		// 32 bytes in unpadded base64url
		assert.Len(t, value, 43)
		assert.NotContains(t, value, "=", "no padding")
		for _, r := range value {
			ok := r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			require.True(t, ok, "unexpected rune %q in value %q", r, value)
		}
	})

	t.Run("values do not repeat", func(t *testing.T) {
		seen := map[string]bool{}
		for range 1000 {
			value, err := gen.Generate()
			require.NoError(t, err)
			require.False(t, seen[value], "generated value repeated: %s", value)
			seen[value] = true
		}
	})

	t.Run("no observable structure", func(t *testing.T) {
		first, err := gen.Generate()
		require.NoError(t, err)
		second, err := gen.Generate()
		require.NoError(t, err)

		// Consecutive values must not share a prefix the way counters do
		assert.False(t, strings.HasPrefix(second, first[:8]))
	})
}
