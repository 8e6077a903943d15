package ftp

import (
	"testing"

	"github.com/fz3go/engine/control"
	"github.com/stretchr/testify/assert"
)

func TestRawTransferSkipsTypeWhenAlreadySent(t *testing.T) {
	op := NewRawTransferOp(&Socket{}, "RETR foo.txt", TypeImage, ModePassive, false, 0, false, nil)
	sent := TypeImage
	op.lastSentType = &sent
	op.state = dsType

	code := op.Send(nil, &control.Frame{})
	assert.Equal(t, control.Continue, code)
	assert.Equal(t, dsPortPasv, op.state)
}

func TestRawTransferFinishesOnlyWhenBothControlAndDataDone(t *testing.T) {
	op := NewRawTransferOp(&Socket{}, "RETR foo.txt", TypeImage, ModePassive, false, 0, false, nil)
	code := op.finishControl(Reply{Code: 226, Message: "Transfer complete"})
	assert.Equal(t, control.WouldBlock, code)

	code = op.NotifyDataEOF()
	assert.Equal(t, control.Ok, code)
}

func TestRawTransferDataEOFBeforeControl(t *testing.T) {
	op := NewRawTransferOp(&Socket{}, "RETR foo.txt", TypeImage, ModePassive, false, 0, false, nil)
	code := op.NotifyDataEOF()
	assert.Equal(t, control.WouldBlock, code)

	code = op.finishControl(Reply{Code: 226})
	assert.Equal(t, control.Ok, code)
}

func TestRawTransferControlErrorOverridesDataDone(t *testing.T) {
	op := NewRawTransferOp(&Socket{}, "RETR foo.txt", TypeImage, ModePassive, false, 0, false, nil)
	op.NotifyDataEOF()
	code := op.finishControl(Reply{Code: 550, Message: "Failed"})
	assert.True(t, code.Has(control.Error))
}
