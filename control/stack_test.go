package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOp struct {
	id       OpID
	topLevel bool
	sendCode Code
	subResult Code
}

func (o *stubOp) ID() OpID          { return o.id }
func (o *stubOp) TopLevel() bool    { return o.topLevel }
func (o *stubOp) Send(ctx context.Context, f *Frame) Code { return o.sendCode }
func (o *stubOp) ParseResponse(ctx context.Context, f *Frame) Code { return Ok }
func (o *stubOp) SubcommandResult(f *Frame, prev Code, finished Operation) Code {
	if o.subResult != 0 {
		return o.subResult
	}
	return prev
}

// Pushing N
// non-top-level operations then failing the top yields exactly one final
// notification, with no operation's SubcommandResult overriding the error.
func TestStackUnwindsWithSingleFinalNotification(t *testing.T) {
	s := NewStack(nil, 0)
	var finalCodes []Code
	s.OnFinalResult = func(c Code) { finalCodes = append(finalCodes, c) }

	for i := 0; i < 4; i++ {
		s.Push(&stubOp{id: OpID(i), sendCode: WouldBlock})
	}
	s.ResetOperation(Error | CriticalError)

	require.Len(t, finalCodes, 1)
	assert.Equal(t, Error|CriticalError, finalCodes[0])
	assert.Equal(t, 0, s.Len())
}

func TestSendNextCommandPopsOnOk(t *testing.T) {
	s := NewStack(nil, 0)
	var final Code
	s.OnFinalResult = func(c Code) { final = c }
	s.Push(&stubOp{sendCode: Ok})

	code := s.SendNextCommand(context.Background())
	assert.Equal(t, Ok, code)
	assert.Equal(t, Ok, final)
}

func TestSubcommandResultContinueKeepsParentOnStack(t *testing.T) {
	s := NewStack(nil, 0)
	parent := &stubOp{id: OpConnect, subResult: Continue}
	child := &stubOp{id: OpLogon, sendCode: Error}
	s.Push(parent)
	s.Push(child)

	s.ResetOperation(Error)
	assert.Equal(t, 1, s.Len(), "parent stays on the stack when SubcommandResult returns Continue")
}

func TestAsyncRequestRoundTrip(t *testing.T) {
	s := NewStack(nil, 0)
	var notified []Notification
	s.Notify = func(n Notification) { notified = append(notified, n) }
	s.Push(&stubOp{sendCode: WouldBlock})

	id := s.SendAsyncRequest("prompt")
	require.Len(t, notified, 1)
	assert.True(t, s.Top().WaitingAsync)

	code := s.SetAsyncRequestReply(context.Background(), id, "reply")
	assert.False(t, s.Top().WaitingAsync)
	assert.Equal(t, WouldBlock, code) // stubOp isn't an AsyncReplyHandler so we fall to SendNextCommand, which WouldBlocks again
}

func TestStaleAsyncReplyIgnored(t *testing.T) {
	s := NewStack(nil, 0)
	s.Push(&stubOp{sendCode: WouldBlock})
	id := s.SendAsyncRequest("x")

	code := s.SetAsyncRequestReply(context.Background(), id+1, "y")
	assert.Equal(t, WouldBlock, code)
	assert.True(t, s.Top().WaitingAsync, "stale reply must not clear the waiting flag")
}
