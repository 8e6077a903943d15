package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyAssemblerSingleLine(t *testing.T) {
	var a replyAssembler
	r, err := a.Feed("220 Welcome")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 220, r.Code)
	assert.Equal(t, "Welcome", r.Message)
}

func TestReplyAssemblerMultiLine(t *testing.T) {
	var a replyAssembler
	r, err := a.Feed("211-Features:")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = a.Feed(" EPSV")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = a.Feed(" MLST type;size;")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = a.Feed("211 End")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 211, r.Code)
	assert.Len(t, r.Lines, 4)
}

func TestReplyAssemblerMalformed(t *testing.T) {
	var a replyAssembler
	_, err := a.Feed("xx")
	assert.Error(t, err)
}

func TestParsePASV(t *testing.T) {
	addr, err := ParsePASV("Entering Passive Mode (10,0,0,1,19,136)")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", addr.Host)
	assert.Equal(t, 19*256+136, addr.Port)
}

func TestParsePASVMalformed(t *testing.T) {
	_, err := ParsePASV("nonsense")
	assert.Error(t, err)
}

func TestParseEPSV(t *testing.T) {
	port, err := ParseEPSV("Entering Extended Passive Mode (|||6446|)")
	require.NoError(t, err)
	assert.Equal(t, 6446, port)
}

func TestParseFEAT(t *testing.T) {
	f := ParseFEAT([]string{" EPSV", " MLST type;size;modify;", " UTF8"})
	assert.True(t, f.Has("EPSV"))
	assert.True(t, f.Has("utf8"))
	assert.Equal(t, "type;size;modify;", f["MLST"])
	assert.False(t, f.Has("PBSZ"))
}
