package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fz3go/engine/control"
)

func TestParseLineReply(t *testing.T) {
	l := ParseLine("R listing complete")
	assert.Equal(t, LineReply, l.Kind)
	assert.Equal(t, "listing complete", l.Payload)
}

func TestParseLineDoneSuccess(t *testing.T) {
	l := ParseLine("D 0")
	require.Equal(t, LineDone, l.Kind)
	assert.Equal(t, 0, l.DoneStatus)
	assert.Equal(t, control.Ok, CodeForDoneStatus(l.DoneStatus))
}

func TestParseLineDoneFailure(t *testing.T) {
	l := ParseLine("D 1")
	assert.Equal(t, 1, l.DoneStatus)
	assert.True(t, CodeForDoneStatus(l.DoneStatus).IsError())
}

func TestParseLineHostKeyChanged(t *testing.T) {
	l := ParseLine("HC ssh-ed25519 AAAA...")
	assert.Equal(t, LineRequestHostKeyChanged, l.Kind)
	assert.Equal(t, "ssh-ed25519 AAAA...", l.Payload)
}

func TestParseLineHostKeyBetterAlgo(t *testing.T) {
	l := ParseLine("HB ssh-rsa")
	assert.Equal(t, LineRequestHostKeyBetterAlgo, l.Kind)
}

func TestParseLineHostKeyNewSingleChar(t *testing.T) {
	l := ParseLine("H ssh-ed25519 AAAA...")
	assert.Equal(t, LineRequestHostKeyNew, l.Kind)
}

func TestParseLineListEntry(t *testing.T) {
	l := ParseLine("L 20240102120000 4096 somefile.txt")
	require.Equal(t, LineListEntry, l.Kind)
	assert.Equal(t, "20240102120000", l.ListMTime)
	assert.Equal(t, int64(4096), l.ListSize)
	assert.Equal(t, "somefile.txt", l.ListName)
}

func TestParseLineUnknownMarker(t *testing.T) {
	l := ParseLine("Z garbage")
	assert.Equal(t, LineUnknown, l.Kind)
}

func TestEscapeWildcard(t *testing.T) {
	assert.Equal(t, `\[a\]\*\?\\b`, EscapeWildcard(`[a]*?\b`))
	assert.Equal(t, "plainfile.txt", EscapeWildcard("plainfile.txt"))
}

func TestQuoteFilename(t *testing.T) {
	assert.Equal(t, `"simple.txt"`, QuoteFilename("simple.txt"))
	assert.Equal(t, `"a""b"`, QuoteFilename(`a"b`))
}

func TestChallengeIDStableForSamePreambleInstruction(t *testing.T) {
	c1 := challenge{preamble: "p", instruction: "i"}
	c2 := challenge{preamble: "p", instruction: "i"}
	assert.Equal(t, c1.id(), c2.id())

	c3 := challenge{preamble: "p2", instruction: "i"}
	assert.NotEqual(t, c1.id(), c3.id())
}

func TestHelperRepeatedPasswordChallengeSignalsAuthFail(t *testing.T) {
	h := &Helper{seenChallenges: make(map[string]bool)}
	failed := false
	h.OnAuthFail = func() { failed = true }

	h.lastPreamble = "Password:"
	h.lastInstruction = ""
	dispatchLine(h, Line{Kind: LineRequestPassword})
	assert.False(t, failed, "first challenge is not a repeat")

	dispatchLine(h, Line{Kind: LineRequestPassword})
	assert.True(t, failed, "second identical challenge signals authentication failure")
}

func TestHelperQuotaRequestDispatches(t *testing.T) {
	h := &Helper{seenChallenges: make(map[string]bool)}
	var gotDir QuotaDirection
	var gotBytes int64
	h.OnQuota = func(dir QuotaDirection, n int64) { gotDir = dir; gotBytes = n }

	h.handleQuotaRequest("send1048576")
	assert.Equal(t, QuotaSend, gotDir)
	assert.Equal(t, int64(1048576), gotBytes)

	h.handleQuotaRequest("recv2048")
	assert.Equal(t, QuotaRecv, gotDir)
	assert.Equal(t, int64(2048), gotBytes)
}

func TestNewChallengeIDUnique(t *testing.T) {
	a := NewChallengeID()
	b := NewChallengeID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

// dispatchLine runs the challenge-correlation branch of ReadLine's switch
// without needing a live subprocess.
func dispatchLine(h *Helper, l Line) {
	switch l.Kind {
	case LineRequestPassword:
		c := challenge{preamble: h.lastPreamble, instruction: h.lastInstruction}
		id := c.id()
		if h.seenChallenges[id] && h.OnAuthFail != nil {
			h.OnAuthFail()
		}
		h.seenChallenges[id] = true
	}
}
