package roomname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	name := Generate()
	parts := strings.Split(name, "-")
	require.Len(t, parts, len(lists))

	for i, part := range parts {
		assert.Contains(t, lists[i], part)
	}
}

func TestGenerateVaries(t *testing.T) {
	seen := make(map[string]struct{})
	for range 20 {
		seen[Generate()] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}
