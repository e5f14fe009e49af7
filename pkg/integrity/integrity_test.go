package integrity

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSRI(t *testing.T) {
	data := []byte("console.log('hi');\n")
	sum := sha256.Sum256(data)
	want := "sha256-" + base64.StdEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, SRI(data))
}

func TestSRI_Empty(t *testing.T) {
	// Known SHA-256 of the empty string.
	assert.Equal(t, "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", SRI(nil))
}

func TestSRI_Deterministic(t *testing.T) {
	data := []byte{0x1f, 0x8b, 0x00, 0xff}
	assert.Equal(t, SRI(data), SRI(data))
}
