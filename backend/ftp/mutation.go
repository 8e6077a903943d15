package ftp

import (
	"context"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/serverpath"
)

// mutationState is shared by the single-command mutation operations below:
// each changes to the target directory first, then issues its command.
type mutationState int

const (
	muInit mutationState = iota
	muWaitCWD
	muWaitCommand
	muWaitSecond
	muDone
)

// MkdirOp creates the last segment of path inside its parent.
type MkdirOp struct {
	sock *Socket
	path serverpath.Path

	state     mutationState
	lastReply Reply
	onResult  func(control.Code)
}

func NewMkdirOp(sock *Socket, path serverpath.Path, onResult func(control.Code)) *MkdirOp {
	return &MkdirOp{sock: sock, path: path, onResult: onResult}
}

func (o *MkdirOp) ID() control.OpID { return control.OpMkdir }
func (o *MkdirOp) TopLevel() bool   { return true }
func (o *MkdirOp) SetReply(r Reply) { o.lastReply = r }

func (o *MkdirOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case muInit:
		parent := o.path.Parent()
		if parent.Empty() {
			o.state = muWaitCommand
			return control.Continue
		}
		o.sock.SendCommand("CWD " + parent.String())
		o.state = muWaitCWD
		return control.WouldBlock
	case muWaitCommand:
		segs := o.path.Segments()
		o.sock.SendCommand("MKD " + segs[len(segs)-1])
		return control.WouldBlock
	case muDone:
		if o.onResult != nil {
			o.onResult(control.Ok)
		}
		return control.Ok
	default:
		return control.WouldBlock
	}
}

func (o *MkdirOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case muWaitCWD:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		o.state = muWaitCommand
		return control.Continue
	case muWaitCommand:
		if r.Code/100 >= 4 {
			return control.Error
		}
		o.state = muDone
		return control.Continue
	default:
		return control.Ok
	}
}

func (o *MkdirOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// DeleteOp removes files from one directory with consecutive DELE commands.
// A failed file does not stop the remaining ones; the final result carries
// Error if any file could not be deleted.
type DeleteOp struct {
	sock  *Socket
	path  serverpath.Path
	files []string

	next      int
	failed    int
	state     mutationState
	lastReply Reply
	onDeleted func(name string)
	onResult  func(control.Code)
}

func NewDeleteOp(sock *Socket, path serverpath.Path, files []string, onDeleted func(string), onResult func(control.Code)) *DeleteOp {
	return &DeleteOp{sock: sock, path: path, files: files, onDeleted: onDeleted, onResult: onResult}
}

func (o *DeleteOp) ID() control.OpID { return control.OpDelete }
func (o *DeleteOp) TopLevel() bool   { return true }
func (o *DeleteOp) SetReply(r Reply) { o.lastReply = r }

func (o *DeleteOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case muInit:
		o.sock.SendCommand("CWD " + o.path.String())
		o.state = muWaitCWD
		return control.WouldBlock
	case muWaitCommand:
		if o.next >= len(o.files) {
			code := control.Ok
			if o.failed > 0 {
				code = control.Error
			}
			if o.onResult != nil {
				o.onResult(code)
			}
			return code
		}
		o.sock.SendCommand("DELE " + o.files[o.next])
		return control.WouldBlock
	default:
		return control.WouldBlock
	}
}

func (o *DeleteOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case muWaitCWD:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		o.state = muWaitCommand
		return control.Continue
	case muWaitCommand:
		if r.Code/100 >= 4 {
			o.failed++
		} else if o.onDeleted != nil {
			o.onDeleted(o.files[o.next])
		}
		o.next++
		return control.Continue
	default:
		return control.Ok
	}
}

func (o *DeleteOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// RemoveDirOp removes subdir from inside path with RMD.
type RemoveDirOp struct {
	sock   *Socket
	path   serverpath.Path
	subdir string

	state     mutationState
	lastReply Reply
	onResult  func(control.Code)
}

func NewRemoveDirOp(sock *Socket, path serverpath.Path, subdir string, onResult func(control.Code)) *RemoveDirOp {
	return &RemoveDirOp{sock: sock, path: path, subdir: subdir, onResult: onResult}
}

func (o *RemoveDirOp) ID() control.OpID { return control.OpRemoveDir }
func (o *RemoveDirOp) TopLevel() bool   { return true }
func (o *RemoveDirOp) SetReply(r Reply) { o.lastReply = r }

func (o *RemoveDirOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case muInit:
		o.sock.SendCommand("CWD " + o.path.String())
		o.state = muWaitCWD
		return control.WouldBlock
	case muWaitCommand:
		o.sock.SendCommand("RMD " + o.subdir)
		return control.WouldBlock
	case muDone:
		if o.onResult != nil {
			o.onResult(control.Ok)
		}
		return control.Ok
	default:
		return control.WouldBlock
	}
}

func (o *RemoveDirOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case muWaitCWD:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		o.state = muWaitCommand
		return control.Continue
	case muWaitCommand:
		if r.Code/100 >= 4 {
			return control.Error
		}
		o.state = muDone
		return control.Continue
	default:
		return control.Ok
	}
}

func (o *RemoveDirOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// RenameOp issues RNFR/RNTO. The 3yz intermediate after RNFR is required;
// anything else fails the operation without sending RNTO.
type RenameOp struct {
	sock     *Socket
	fromPath serverpath.Path
	fromName string
	toPath   serverpath.Path
	toName   string

	state     mutationState
	lastReply Reply
	onResult  func(control.Code)
}

func NewRenameOp(sock *Socket, fromPath serverpath.Path, fromName string, toPath serverpath.Path, toName string, onResult func(control.Code)) *RenameOp {
	return &RenameOp{sock: sock, fromPath: fromPath, fromName: fromName, toPath: toPath, toName: toName, onResult: onResult}
}

func (o *RenameOp) ID() control.OpID { return control.OpRename }
func (o *RenameOp) TopLevel() bool   { return true }
func (o *RenameOp) SetReply(r Reply) { o.lastReply = r }

func (o *RenameOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case muInit:
		o.sock.SendCommand("CWD " + o.fromPath.String())
		o.state = muWaitCWD
		return control.WouldBlock
	case muWaitCommand:
		o.sock.SendCommand("RNFR " + o.fromName)
		return control.WouldBlock
	case muWaitSecond:
		o.sock.SendCommand("RNTO " + o.toPath.FormatFilename(o.toName, false))
		return control.WouldBlock
	case muDone:
		if o.onResult != nil {
			o.onResult(control.Ok)
		}
		return control.Ok
	default:
		return control.WouldBlock
	}
}

func (o *RenameOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case muWaitCWD:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		o.state = muWaitCommand
		return control.Continue
	case muWaitCommand:
		if r.Code/100 != 3 {
			if r.Code/100 >= 4 {
				return control.Error | control.NotFound
			}
			return control.Error
		}
		o.state = muWaitSecond
		return control.Continue
	case muWaitSecond:
		if r.Code/100 >= 4 {
			return control.Error
		}
		o.state = muDone
		return control.Continue
	default:
		return control.Ok
	}
}

func (o *RenameOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// ChmodOp sends SITE CHMOD. A 500 or 502 reply (no SITE CHMOD on the
// server) surfaces as NotSupported; any other 4yz/5yz is a plain error.
type ChmodOp struct {
	sock  *Socket
	path  serverpath.Path
	file  string
	perms string

	state     mutationState
	lastReply Reply
	onResult  func(control.Code)
}

func NewChmodOp(sock *Socket, path serverpath.Path, file, perms string, onResult func(control.Code)) *ChmodOp {
	return &ChmodOp{sock: sock, path: path, file: file, perms: perms, onResult: onResult}
}

func (o *ChmodOp) ID() control.OpID { return control.OpChmod }
func (o *ChmodOp) TopLevel() bool   { return true }
func (o *ChmodOp) SetReply(r Reply) { o.lastReply = r }

func (o *ChmodOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case muInit:
		o.sock.SendCommand("CWD " + o.path.String())
		o.state = muWaitCWD
		return control.WouldBlock
	case muWaitCommand:
		o.sock.SendCommand("SITE CHMOD " + o.perms + " " + o.file)
		return control.WouldBlock
	case muDone:
		if o.onResult != nil {
			o.onResult(control.Ok)
		}
		return control.Ok
	default:
		return control.WouldBlock
	}
}

func (o *ChmodOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case muWaitCWD:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		o.state = muWaitCommand
		return control.Continue
	case muWaitCommand:
		if r.Code == 500 || r.Code == 502 {
			return control.Error | control.NotSupported
		}
		if r.Code/100 >= 4 {
			return control.Error
		}
		o.state = muDone
		return control.Continue
	default:
		return control.Ok
	}
}

func (o *ChmodOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// RawCommandOp sends one verbatim command line and completes on the final
// reply. 2yz and 3yz both count as success so RNFR-style intermediates can
// be scripted by a host.
type RawCommandOp struct {
	sock    *Socket
	command string

	sent      bool
	lastReply Reply
	onReply   func(Reply)
}

func NewRawCommandOp(sock *Socket, command string, onReply func(Reply)) *RawCommandOp {
	return &RawCommandOp{sock: sock, command: command, onReply: onReply}
}

func (o *RawCommandOp) ID() control.OpID { return control.OpRawCommand }
func (o *RawCommandOp) TopLevel() bool   { return true }
func (o *RawCommandOp) SetReply(r Reply) { o.lastReply = r }

func (o *RawCommandOp) Send(ctx context.Context, f *control.Frame) control.Code {
	if o.sent {
		return control.WouldBlock
	}
	o.sent = true
	o.sock.SendCommand(o.command)
	return control.WouldBlock
}

func (o *RawCommandOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	if o.onReply != nil {
		o.onReply(r)
	}
	if r.Code/100 >= 4 {
		return control.Error
	}
	return control.Ok
}

func (o *RawCommandOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// ApplyMutationToCache reflects a completed mutation into the process-wide
// directory cache. Rename across
// directories invalidates the whole server; same-directory renames are
// applied in place by the cache itself.
func ApplyMutationToCache(cache *dircache.Cache, op control.OpID, site serverpath.Site, path serverpath.Path, name string, toPath serverpath.Path, toName string) {
	switch op {
	case control.OpMkdir:
		parent := path.Parent()
		segs := path.Segments()
		if len(segs) == 0 {
			return
		}
		cache.UpdateFile(site, parent, segs[len(segs)-1], true, true, nil, nil)
	case control.OpDelete:
		cache.InvalidateFile(site, path, name, false)
	case control.OpRemoveDir:
		cache.RemoveDir(site, path, name, nil)
	case control.OpRename:
		cache.Rename(site, path, name, toPath, toName)
	case control.OpChmod:
		cache.UpdateFile(site, path, name, false, false, nil, nil)
	}
}
