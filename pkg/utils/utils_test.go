package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", HashString("abc"))
}

func TestHashPartsSeparatesBoundaries(t *testing.T) {
	require.NotEqual(t, HashParts("ab", "c"), HashParts("a", "bc"))
	require.Equal(t, HashParts("x", "y"), HashParts("x", "y"))
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "redaç", TruncateRunes("redação", 5))
	require.Equal(t, "abc", TruncateRunes("abc", 10))
	require.Equal(t, "", TruncateRunes("abc", 0))
}
