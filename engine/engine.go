// Package engine implements the host-facing façade: a single-command-at-
// a-time command queue over an event loop, reconnect logic with
// failed-login throttling, and cross-engine invalidate-cwd broadcasting.
// A command is accepted immediately and its result delivered later as a
// notification, once the operation stack it spawned has drained.
package engine

import (
	"context"
	"time"

	"github.com/fz3go/engine/backend/ftp"
	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/eventloop"
	"github.com/fz3go/engine/serverpath"
)

// CommandKind enumerates the façade's command set.
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdDisconnect
	CmdList
	CmdTransfer
	CmdRawCommand
	CmdDelete
	CmdRemoveDir
	CmdMkdir
	CmdRename
	CmdChmod
	CmdHTTPRequest
)

// mutating reports whether kind can invalidate another engine's current
// directory, triggering cross-engine invalidation on success.
func (k CommandKind) mutating() bool {
	switch k {
	case CmdDelete, CmdRemoveDir, CmdMkdir, CmdRename:
		return true
	default:
		return false
	}
}

// Command is one façade request. Execute carries the actual
// backend-specific work (building and pushing the right control.Operation
// onto the engine's stack); the façade itself only enforces preconditions,
// serialises one command at a time, and handles the cross-cutting
// reconnect/invalidation concerns.
type Command struct {
	Kind CommandKind

	// Site is consulted for CmdConnect.
	Site serverpath.Site
	// Path and NewPath identify the target(s) of list/transfer/delete/
	// remove-dir/mkdir/rename/chmod commands.
	Path    serverpath.Path
	NewPath serverpath.Path

	Execute func(e *Engine) control.Code
}

// Reply is the notification delivered once a command completes.
type Reply struct {
	Kind CommandKind
	Code control.Code
}

// Engine is one command-queue/connection façade.
type Engine struct {
	loop  *eventloop.Loop
	stack *control.Stack
	opts  Options

	// RetryConnecting decides whether a non-critical connect failure
	// should be retried. Defaults to always-true; a host can narrow this
	// (e.g. never retry on a known-permanent DNS failure).
	RetryConnecting func(site serverpath.Site) bool

	onNotify func(Reply)

	connected   bool
	busy        bool
	currentSite serverpath.Site
	currentPath serverpath.Path

	retryTimer   eventloop.TimerID
	retryPending bool
	retrySite    serverpath.Site
	retryCmd     Command

	pendingInvalidations []invalidateCwdEvent

	// pendingCmd holds the command whose Execute pushed operations onto the
	// stack instead of finishing synchronously (it returned WouldBlock); the
	// real result arrives later via onStackFinalResult.
	pendingCmd *Command

	// ftpSock and ftpCaps back the current connection once Execute wires a
	// real backend/ftp.Socket via FTPConnect; both are nil until then.
	ftpSock *ftp.Socket
	ftpCaps *ftp.ServerCapabilities
}

// New creates an Engine driven by loop, registering it in the process-
// global registry used for cross-engine invalidation.
func New(loop *eventloop.Loop, opts Options, onNotify func(Reply)) *Engine {
	e := &Engine{
		loop:            loop,
		stack:           control.NewStack(loop, opts.Timeout),
		opts:            opts,
		onNotify:        onNotify,
		RetryConnecting: func(serverpath.Site) bool { return true },
	}
	e.stack.OnFinalResult = e.onStackFinalResult
	globalRegistry.add(e)
	return e
}

// Close removes the engine from the process-global registry. Callers must
// stop using the engine afterwards.
func (e *Engine) Close() {
	if e.retryPending {
		e.loop.Stop(e.retryTimer)
		e.retryPending = false
	}
	if e.ftpSock != nil {
		e.ftpSock.Close()
		e.ftpSock = nil
	}
	globalRegistry.remove(e)
}

// Send submits cmd. It returns immediately with one of Ok (accepted; the
// actual result is delivered later via the notify callback), Busy (another
// command is outstanding), AlreadyConnected, or NotConnected.
func (e *Engine) Send(cmd Command) control.Code {
	if e.busy {
		return control.Busy
	}
	if cmd.Kind == CmdConnect && e.connected {
		return control.AlreadyConnected
	}
	if cmd.Kind != CmdConnect && cmd.Kind != CmdDisconnect && !e.connected {
		return control.NotConnected
	}
	e.busy = true
	e.loop.Post(e, cmd)
	return control.Ok
}

// HandleEvent implements eventloop.Handler: it receives both Command values
// posted by Send and invalidateCwdEvent values broadcast by other engines.
func (e *Engine) HandleEvent(ev eventloop.Event) {
	switch v := ev.(type) {
	case Command:
		e.runCommand(v)
	case invalidateCwdEvent:
		e.applyOrDeferInvalidation(v)
	case ftpReplyEvent:
		v.sock.DeliverReply(context.Background(), v.reply)
	}
}

func (e *Engine) runCommand(cmd Command) {
	var code control.Code
	if cmd.Execute != nil {
		code = cmd.Execute(e)
	}
	if code == control.WouldBlock {
		// Execute pushed one or more operations onto e.stack; the real
		// result arrives later via onStackFinalResult.
		e.pendingCmd = &cmd
		return
	}
	e.finishCommand(cmd, code)
}

func (e *Engine) finishCommand(cmd Command, code control.Code) {
	defer func() { e.busy = false }()

	switch cmd.Kind {
	case CmdConnect:
		e.handleConnectResult(cmd, code)
	case CmdDisconnect:
		e.connected = false
		e.currentSite = serverpath.Site{}
		e.currentPath = serverpath.Path{}
		if e.ftpSock != nil {
			e.ftpSock.Close()
			e.ftpSock = nil
			e.stack = control.NewStack(e.loop, e.opts.Timeout)
			e.stack.OnFinalResult = e.onStackFinalResult
		}
	}

	if cmd.Kind.mutating() && !code.IsError() {
		globalRegistry.broadcastInvalidate(e, invalidateCwdEvent{site: e.currentSite, path: cmd.Path})
	}

	e.notify(Reply{Kind: cmd.Kind, Code: code})
}

func (e *Engine) handleConnectResult(cmd Command, code control.Code) {
	if !code.IsError() {
		e.connected = true
		e.currentSite = cmd.Site
		return
	}
	if code.Has(control.CriticalError) || !e.RetryConnecting(cmd.Site) {
		return
	}
	globalFailedLogins.record(cmd.Site, false, e.reconnectWindow())
	if globalFailedLogins.retryCount(cmd.Site, e.reconnectWindow()) >= e.opts.MaxRetries {
		return
	}
	e.armReconnectTimer(cmd)
}

func (e *Engine) reconnectWindow() time.Duration {
	if e.opts.MaxRetries <= 0 {
		return e.opts.ReconnectDelay
	}
	return e.opts.ReconnectDelay * time.Duration(e.opts.MaxRetries)
}

// armReconnectTimer arms the reconnect timer with max(1s, configured_delay
// - time_since_last_failure).
func (e *Engine) armReconnectTimer(cmd Command) {
	delay := e.opts.ReconnectDelay
	if rec, ok := globalFailedLogins.mostRecent(cmd.Site, e.reconnectWindow()); ok {
		elapsed := time.Since(rec.at)
		delay = e.opts.ReconnectDelay - elapsed
	}
	if delay < time.Second {
		delay = time.Second
	}
	e.retrySite = cmd.Site
	e.retryCmd = cmd
	e.retryPending = true
	e.retryTimer = e.loop.AfterFunc(delay, func() {
		e.retryPending = false
		e.busy = true
		e.loop.Post(e, e.retryCmd)
	})
}

// Cancel aborts whatever the engine is doing: clears an outstanding
// reconnect timer and emits a Canceled|Disconnected reply, or resets the
// current operation stack with Canceled.
func (e *Engine) Cancel() {
	if e.retryPending {
		e.loop.Stop(e.retryTimer)
		e.retryPending = false
		e.busy = false
		e.notify(Reply{Kind: CmdConnect, Code: control.Canceled | control.Disconnected})
		return
	}
	if e.stack.Len() > 0 {
		e.stack.Drain()
	}
}

func (e *Engine) applyOrDeferInvalidation(ev invalidateCwdEvent) {
	if e.stack.Len() > 0 {
		e.pendingInvalidations = append(e.pendingInvalidations, ev)
		return
	}
	e.applyInvalidation(ev)
}

func (e *Engine) applyInvalidation(ev invalidateCwdEvent) {
	if !e.connected || !e.currentSite.SameResource(ev.site) {
		return
	}
	if ev.path.IsParentOf(e.currentPath, true, true) {
		e.currentPath = serverpath.Path{}
	}
}

// onStackFinalResult is wired as control.Stack.OnFinalResult: once an
// engine's operation stack empties, any invalidate_cwd events deferred
// while it was mid-operation are applied.
func (e *Engine) onStackFinalResult(code control.Code) {
	pending := e.pendingInvalidations
	e.pendingInvalidations = nil
	for _, ev := range pending {
		e.applyInvalidation(ev)
	}
	if e.pendingCmd != nil {
		cmd := *e.pendingCmd
		e.pendingCmd = nil
		e.finishCommand(cmd, code)
	}
}

func (e *Engine) notify(r Reply) {
	if e.onNotify != nil {
		e.onNotify(r)
	}
}

// Connected reports whether the engine currently holds an open connection.
func (e *Engine) Connected() bool { return e.connected }

// CurrentSite returns the site the engine is connected to.
func (e *Engine) CurrentSite() serverpath.Site { return e.currentSite }

// CurrentPath returns the engine's cached working directory.
func (e *Engine) CurrentPath() serverpath.Path { return e.currentPath }

// Stack exposes the underlying operation stack for backend wiring.
func (e *Engine) Stack() *control.Stack { return e.stack }
