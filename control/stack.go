package control

import (
	"context"
	"time"

	"github.com/fz3go/engine/eventloop"
	"github.com/fz3go/engine/oplock"
)

// Frame is one entry of the operation stack: an Operation plus the mutable
// bookkeeping an Operation carries (state, waiting-for-async
// flag, held oplock).
type Frame struct {
	Op           Operation
	State        int
	WaitingAsync bool
	AsyncID      uint64
	Lock         *oplock.Lock
}

// Notification is whatever the engine façade turns into a host-visible
// event; Stack only needs to hand it to the configured sink.
type Notification any

// Stack is the LIFO of operations for one control socket: SendNextCommand,
// ResetOperation, the timeout timer, and the async-request/file-exists-
// prompt plumbing. It holds no
// protocol-specific logic; FTP/HTTP/SFTP/object-storage control sockets
// supply that through the hooks below.
type Stack struct {
	frames []*Frame

	// CanSendNow reports whether the underlying socket can accept another
	// command right now (e.g. the write buffer isn't backed up). nil means
	// "always".
	CanSendNow func() bool
	// OnFinalResult is invoked once the stack becomes empty, carrying the
	// code the (now gone) top-level operation finished with.
	OnFinalResult func(code Code)
	// OnCloseConnection is invoked when a result with the Disconnected bit
	// must tear down the underlying connection before anything else happens.
	OnCloseConnection func(code Code)
	// Notify enqueues a Notification for the host application.
	Notify func(Notification)

	loop         *eventloop.Loop
	timeoutDur   time.Duration
	timeoutID    eventloop.TimerID
	asyncCounter uint64

	lastActivity time.Time
}

// NewStack creates an empty Stack driven by loop, with the given idle
// timeout.
func NewStack(loop *eventloop.Loop, timeout time.Duration) *Stack {
	return &Stack{loop: loop, timeoutDur: timeout}
}

// Push adds a new operation to the top of the stack; Send will be called
// on it next time the socket is idle.
func (s *Stack) Push(op Operation) *Frame {
	f := &Frame{Op: op}
	s.frames = append(s.frames, f)
	return f
}

// Top returns the current top frame, or nil if the stack is empty.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Len reports the stack depth.
func (s *Stack) Len() int { return len(s.frames) }

// Drain pops every frame with Canceled|Disconnected, calling Reset on each
// so deferred cleanup runs exactly once.
func (s *Stack) Drain() {
	for s.Len() > 0 {
		s.popOne(Canceled | Disconnected)
	}
}

// SendNextCommand drives the stack: while it is non-empty and the top
// isn't waiting on an async reply, either the
// protocol says it can't send right now (arm timeout, return WouldBlock),
// or top.Send() is called and its result interpreted.
func (s *Stack) SendNextCommand(ctx context.Context) Code {
	for {
		top := s.Top()
		if top == nil {
			return Ok
		}
		if top.WaitingAsync || (top.Lock != nil && top.Lock.Waiting()) {
			return WouldBlock
		}
		if s.CanSendNow != nil && !s.CanSendNow() {
			s.armTimeout()
			return WouldBlock
		}
		s.touch()
		code := top.Op.Send(ctx, top)
		switch {
		case code == Continue:
			continue
		case code == WouldBlock:
			s.armTimeout()
			return WouldBlock
		case code == Ok:
			s.finishTop(Ok)
			if s.Len() == 0 {
				return Ok
			}
			continue
		default: // some Error-family combination
			return s.handleFailure(code)
		}
	}
}

// HandleReply is called when a protocol reply arrives for the current top
// operation; it dispatches to ParseResponse and then falls into the same
// send loop so any newly-sendable command goes out immediately.
func (s *Stack) HandleReply(ctx context.Context) Code {
	top := s.Top()
	if top == nil {
		return Ok
	}
	s.touch()
	code := top.Op.ParseResponse(ctx, top)
	switch {
	case code == Continue:
		return s.SendNextCommand(ctx)
	case code == WouldBlock:
		s.armTimeout()
		return WouldBlock
	case code == Ok:
		s.finishTop(Ok)
		return s.SendNextCommand(ctx)
	default:
		return s.handleFailure(code)
	}
}

func (s *Stack) handleFailure(code Code) Code {
	if code.Has(Disconnected) && s.OnCloseConnection != nil {
		s.OnCloseConnection(code)
		return code
	}
	s.ResetOperation(code)
	return code
}

// finishTop pops the top frame with a clean Ok result, running the
// subcommand_result/engine-notification dance of ResetOperation without
// re-deriving a result code (Ok is always "clean").
func (s *Stack) finishTop(code Code) {
	s.popAndPropagate(code)
}

// ResetOperation pops the top, lets it adjust the result via Reset, then
// either calls the parent's
// SubcommandResult (clean codes) or recursively unwind the whole subtree
// (anything else), finally notifying the engine once the stack empties.
func (s *Stack) ResetOperation(code Code) {
	s.popAndPropagate(code)
}

func (s *Stack) popAndPropagate(code Code) {
	code, finished := s.popOne(code)
	if s.Len() == 0 {
		if s.OnFinalResult != nil {
			s.OnFinalResult(code)
		}
		return
	}
	if !code.clean() {
		// Non-clean codes (e.g. WouldBlock reached here via a direct
		// ResetOperation call) unwind the entire remaining subtree.
		s.popAndPropagate(code)
		return
	}
	parent := s.Top()
	result := parent.Op.SubcommandResult(parent, code, finished)
	switch result {
	case Continue:
		// Parent will be driven by the next SendNextCommand call.
	default:
		s.popAndPropagate(result)
	}
}

// popOne removes the top frame, invoking Reset if it implements Resettable,
// and returns the (possibly adjusted) result code along with the popped
// operation so the parent's SubcommandResult can inspect it.
func (s *Stack) popOne(code Code) (Code, Operation) {
	if len(s.frames) == 0 {
		return code, nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	if top.Lock != nil {
		top.Lock.Release()
		top.Lock = nil
	}
	if r, ok := top.Op.(Resettable); ok {
		code = r.Reset(code)
	}
	return code, top.Op
}

// SendAsyncRequest assigns a monotonically increasing id to n, marks the
// current top as waiting, and enqueues the notification.
func (s *Stack) SendAsyncRequest(n Notification) uint64 {
	top := s.Top()
	if top == nil {
		return 0
	}
	s.asyncCounter++
	id := s.asyncCounter
	top.WaitingAsync = true
	top.AsyncID = id
	if s.Notify != nil {
		s.Notify(n)
	}
	return id
}

// SetAsyncRequestReply delivers the host's reply for request id to the
// current top, if it matches the outstanding request; stale replies
// (cancelled requests, replaced operations) are ignored.
func (s *Stack) SetAsyncRequestReply(ctx context.Context, id uint64, reply any) Code {
	top := s.Top()
	if top == nil || !top.WaitingAsync || top.AsyncID != id {
		return WouldBlock
	}
	top.WaitingAsync = false
	h, ok := top.Op.(AsyncReplyHandler)
	if !ok {
		return s.SendNextCommand(ctx)
	}
	code := h.SetAsyncRequestReply(reply)
	switch code {
	case Continue:
		return s.SendNextCommand(ctx)
	case Ok:
		s.finishTop(Ok)
		return s.SendNextCommand(ctx)
	case WouldBlock:
		return WouldBlock
	default:
		return s.handleFailure(code)
	}
}

func (s *Stack) touch() {
	s.lastActivity = time.Now()
	s.armTimeout()
}

// armTimeout (re)arms the single timeout timer: it is rearmed after each
// I/O activity, and ignored while the top is waiting
// on an async reply or holds a lock.
func (s *Stack) armTimeout() {
	if s.loop == nil || s.timeoutDur <= 0 {
		return
	}
	if s.loop != nil {
		s.loop.Stop(s.timeoutID)
	}
	top := s.Top()
	if top != nil && (top.WaitingAsync || (top.Lock != nil && top.Lock.Waiting())) {
		return
	}
	s.timeoutID = s.loop.AfterFunc(s.timeoutDur, func() {
		if s.OnCloseConnection != nil {
			s.OnCloseConnection(Error | Timeout)
		}
	})
}

// CancelTimeout stops the armed timeout timer, e.g. on clean disconnect.
func (s *Stack) CancelTimeout() {
	if s.loop != nil {
		s.loop.Stop(s.timeoutID)
	}
}
