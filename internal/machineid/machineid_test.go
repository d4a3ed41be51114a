package machineid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_ReturnsHostnamePrefixedID(t *testing.T) {
	id := Get()
	assert.NotEmpty(t, id)
	assert.Contains(t, id, "-")
}

func TestGet_IsStableAcrossCalls(t *testing.T) {
	first := Get()
	second := Get()
	assert.Equal(t, first, second)
}

func TestGet_SuffixIsEightHexChars(t *testing.T) {
	id := Get()
	parts := strings.Split(id, "-")
	suffix := parts[len(parts)-1]
	assert.Len(t, suffix, 8)
}
