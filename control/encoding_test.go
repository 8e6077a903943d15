package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvToLocalPrefersUTF8(t *testing.T) {
	s := ConvToLocal([]byte("héllo"), nil)
	assert.Equal(t, "héllo", s)
}

func TestConvToLocalFallsBackToLatin1(t *testing.T) {
	// 0xE9 alone is not valid UTF-8 but is 'é' in Latin-1.
	s := ConvToLocal([]byte{0xE9}, nil)
	assert.Equal(t, "é", s)
}

func TestConvToServerForceUTF8(t *testing.T) {
	b := ConvToServer("héllo", true, nil)
	assert.Equal(t, []byte("héllo"), b)
}

func TestErrorWrapAndCodeOf(t *testing.T) {
	err := Wrap(Error|Timeout, nil)
	assert.Equal(t, Error|Timeout, CodeOf(err))
}
