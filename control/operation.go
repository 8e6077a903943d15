package control

import "context"

// OpID identifies what kind of operation a Frame carries.
type OpID int

const (
	OpConnect OpID = iota
	OpList
	OpTransfer
	OpRawCommand
	OpDelete
	OpRemoveDir
	OpMkdir
	OpRename
	OpChmod
	OpHTTPRequest
	OpLogon      // ftp/sftp sub-operation
	OpRawTransfer // ftp data-channel sub-operation
	OpResolve     // object-storage sub-operation
)

// Operation is the polymorphic per-state-machine value a Frame carries:
// send/parse-response/subcommand-result, with an optional reset hook.
// There is deliberately no base class to inherit from: a
// concrete operation embeds whatever per-protocol state it needs and
// implements this interface directly.
type Operation interface {
	// ID reports which kind of operation this is.
	ID() OpID
	// TopLevel reports whether this operation's completion should be
	// reported to the engine rather than to a parent frame.
	TopLevel() bool
	// Send is called when this operation is the top of the stack and the
	// socket is ready to accept a new command.
	Send(ctx context.Context, f *Frame) Code
	// ParseResponse is called when a protocol reply arrives for the
	// current top-of-stack operation.
	ParseResponse(ctx context.Context, f *Frame) Code
	// SubcommandResult is invoked on a parent frame when a child operation
	// it pushed has just been popped. prevResult is the child's final
	// code; the default behaviour (for operations that don't need to react)
	// is to simply return prevResult unchanged.
	SubcommandResult(f *Frame, prevResult Code, finished Operation) Code
}

// Resettable operations get one last chance to adjust their result just
// before being popped, e.g. to clean up a partial download.
type Resettable interface {
	Reset(result Code) Code
}

// AsyncReplyHandler operations can issue an async request (file-exists
// prompt, interactive login, host-key verification, …) and receive the
// host's reply.
type AsyncReplyHandler interface {
	SetAsyncRequestReply(reply any) Code
}
