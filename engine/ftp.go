package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fz3go/engine/backend/ftp"
	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/oplock"
	"github.com/fz3go/engine/serverpath"
)

// globalDirCache and globalOpLocks are shared across every engine in the
// process, mirroring globalRegistry/globalFailedLogins above: directory
// listings and advisory locks are keyed by site, not by connection, so two
// engines pointed at the same server must see the same state.
var (
	globalDirCache  = dircache.New()
	globalPathCache = dircache.NewPathCache()
	globalOpLocks   = oplock.New()
)

// LockObtained implements oplock.Owner: a lock this engine was waiting on
// just became obtainable, so re-drive the stack to pick it up where
// SendNextCommand left it parked.
func (e *Engine) LockObtained(*oplock.Lock) {
	e.stack.SendNextCommand(context.Background())
}

// ftpReplyEvent carries a parsed control-channel reply from the socket's
// foreign reader goroutine back onto the loop thread.
type ftpReplyEvent struct {
	sock  *ftp.Socket
	reply *ftp.Reply
}

// FTPConnect dials site, wraps the connection as an FTP control socket, and
// pushes backend/ftp's logon state machine onto the stack. The result is
// delivered asynchronously once the stack empties.
func (e *Engine) FTPConnect(site serverpath.Site, cred ftp.Credentials) control.Code {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", site.Host, site.Port), e.opts.Timeout)
	if err != nil {
		return control.ClassifyNetError(err)
	}
	e.attachFTPSocket(site, conn)
	e.ftpCaps = &ftp.ServerCapabilities{}
	e.stack.Push(ftp.NewLogonOp(e.ftpSock, site, cred, ftp.ProxyNone))
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPDisconnect tears down the current FTP connection, if any.
func (e *Engine) FTPDisconnect() control.Code {
	if e.ftpSock != nil {
		e.ftpSock.Close()
	}
	return control.Ok
}

// FTPList pushes a directory-listing operation, sharing the process-global
// directory cache and oplock manager across every connected engine.
func (e *Engine) FTPList(path serverpath.Path, refresh bool, result func(dircache.Listing, control.Code)) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	wrapped := func(l dircache.Listing, code control.Code) {
		if !code.IsError() && !l.Path.Empty() {
			if parent := l.Path.Parent(); !parent.Empty() {
				segs := l.Path.Segments()
				globalPathCache.Store(e.currentSite, parent, segs[len(segs)-1], l.Path)
			}
			e.currentPath = l.Path
		}
		if result != nil {
			result(l, code)
		}
	}
	e.stack.Push(ftp.NewListOp(e.ftpSock, globalDirCache, globalOpLocks, e, e.currentSite, path, refresh, wrapped))
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPTransfer pushes a file-transfer operation. onData is handed the data
// connection once the data-channel operation has it ready; the caller (the host, via its
// own closure) owns the local file handle and streams bytes against it,
// matching backend/ftp.FileTransferOp.Reset's "the engine layer owns the
// local file handle" contract.
func (e *Engine) FTPTransfer(remotePath serverpath.Path, remoteFile string, download, binary, preserveTime bool, cachedSize *int64, restartOffset int64, localModTime time.Time, onProgress func(int64), onResult func(control.Code), onData func(net.Conn), onCleanup func()) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	op := ftp.NewFileTransferOp(e.ftpSock, e.currentSite, e.ftpCaps, remotePath, remoteFile, download, binary, preserveTime, cachedSize, restartOffset, localModTime, e.currentSite.TimezoneOffsetMin, onProgress, onResult, onData, onCleanup)
	e.stack.Push(op)
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPMkdir pushes a make-directory operation; a completed mkdir is
// reflected into the shared directory cache so the parent's listing shows
// the new entry (unsure) without a round trip.
func (e *Engine) FTPMkdir(path serverpath.Path) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	site := e.currentSite
	op := ftp.NewMkdirOp(e.ftpSock, path, func(code control.Code) {
		if !code.IsError() {
			ftp.ApplyMutationToCache(globalDirCache, control.OpMkdir, site, path, "", serverpath.Path{}, "")
		}
	})
	e.stack.Push(op)
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPDelete pushes a delete operation over files within path. Each file
// that the server confirms deleted has its entry in the cached listing
// marked unsure as it happens; the entry stays in the listing until the
// directory is listed again.
func (e *Engine) FTPDelete(path serverpath.Path, files []string) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	site := e.currentSite
	op := ftp.NewDeleteOp(e.ftpSock, path, files, func(name string) {
		ftp.ApplyMutationToCache(globalDirCache, control.OpDelete, site, path, name, serverpath.Path{}, "")
	}, nil)
	e.stack.Push(op)
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPRemoveDir pushes a remove-directory operation and, on success, drops
// the removed directory's listings (and descendants) from the caches.
func (e *Engine) FTPRemoveDir(path serverpath.Path, subdir string) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	site := e.currentSite
	op := ftp.NewRemoveDirOp(e.ftpSock, path, subdir, func(code control.Code) {
		if !code.IsError() {
			ftp.ApplyMutationToCache(globalDirCache, control.OpRemoveDir, site, path, subdir, serverpath.Path{}, "")
			globalPathCache.InvalidatePath(site, path)
		}
	})
	e.stack.Push(op)
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPRename pushes an RNFR/RNTO rename. Same-directory renames update the
// cached entry in place; cross-directory moves invalidate the server's
// cache wholesale (the cache's own safe-side rule).
func (e *Engine) FTPRename(fromPath serverpath.Path, fromName string, toPath serverpath.Path, toName string) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	site := e.currentSite
	op := ftp.NewRenameOp(e.ftpSock, fromPath, fromName, toPath, toName, func(code control.Code) {
		if !code.IsError() {
			ftp.ApplyMutationToCache(globalDirCache, control.OpRename, site, fromPath, fromName, toPath, toName)
			globalPathCache.InvalidatePath(site, fromPath)
			globalPathCache.InvalidatePath(site, toPath)
		}
	})
	e.stack.Push(op)
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPChmod pushes a SITE CHMOD operation; the touched entry is marked
// unsure so the next listing refresh picks up the new permissions.
func (e *Engine) FTPChmod(path serverpath.Path, file, perms string) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	site := e.currentSite
	op := ftp.NewChmodOp(e.ftpSock, path, file, perms, func(code control.Code) {
		if !code.IsError() {
			ftp.ApplyMutationToCache(globalDirCache, control.OpChmod, site, path, file, serverpath.Path{}, "")
		}
	})
	e.stack.Push(op)
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// FTPRawCommand pushes a verbatim command line; onReply receives the
// server's final reply.
func (e *Engine) FTPRawCommand(text string, onReply func(ftp.Reply)) control.Code {
	if e.ftpSock == nil {
		return control.Error | control.NotConnected
	}
	e.stack.Push(ftp.NewRawCommandOp(e.ftpSock, text, onReply))
	e.stack.SendNextCommand(context.Background())
	return control.WouldBlock
}

// attachFTPSocket wires a freshly dialed conn as the engine's FTP control
// socket: the socket's own Stack becomes the engine's operation stack (so
// Cancel/Busy/OnFinalResult all operate on the real per-connection stack),
// and a reader goroutine is started to pump replies back onto the loop.
func (e *Engine) attachFTPSocket(site serverpath.Site, conn net.Conn) {
	var sock *ftp.Socket
	sock = ftp.NewSocket(e.loop, conn, site, func(r *ftp.Reply) {
		e.loop.Post(e, ftpReplyEvent{sock: sock, reply: r})
	})
	e.ftpSock = sock
	e.stack = sock.Stack
	e.stack.OnFinalResult = e.onStackFinalResult
	e.stack.OnCloseConnection = e.onFTPCloseConnection
	go e.pumpFTPSocket(sock)
}

func (e *Engine) onFTPCloseConnection(code control.Code) {
	if e.ftpSock != nil {
		e.ftpSock.Close()
	}
	e.connected = false
	e.stack.Drain()
}

// pumpFTPSocket is the foreign reader goroutine for the control channel:
// it blocks on the real socket, and the Socket's onReply callback (wired in
// attachFTPSocket) is what posts each parsed reply back onto the loop
// instead of touching the stack directly from this goroutine.
func (e *Engine) pumpFTPSocket(sock *ftp.Socket) {
	for {
		code := sock.OnReadable()
		if code != control.WouldBlock {
			return
		}
	}
}
