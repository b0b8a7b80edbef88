package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToken_KnownVector(t *testing.T) {
	// sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashToken("abc"))
}

func TestHashToken_DeterministicAndDistinct(t *testing.T) {
	assert.Equal(t, HashToken("tok"), HashToken("tok"))
	assert.NotEqual(t, HashToken("tok"), HashToken("tok2"))
}

func TestEqualHashes(t *testing.T) {
	h := HashToken("x")
	assert.True(t, EqualHashes(h, HashToken("x")))
	assert.False(t, EqualHashes(h, HashToken("y")))
	assert.False(t, EqualHashes(h, ""))
}
