package ftp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/serverpath"
)

// transferState enumerates the file-transfer state machine.
type transferState int

const (
	tsInit transferState = iota
	tsWaitCWD
	tsWaitList
	tsSize
	tsMdtm
	tsResumeTest
	tsTransferRunning
	tsMfmt
	tsDone
)

// ServerCapabilities records per-server transfer quirks discovered once and
// cached for subsequent transfers.
type ServerCapabilities struct {
	Resume2GBTested bool
	Resume2GBOK     bool
	Resume4GBTested bool
	Resume4GBBug    bool
}

// FileTransferOp implements the download/upload state machine.
type FileTransferOp struct {
	sock  *Socket
	site  serverpath.Site
	caps  *ServerCapabilities

	remotePath   serverpath.Path
	remoteFile   string
	download     bool
	binary       bool
	preserveTime bool

	localSize  *int64 // known from cache, skips SIZE
	remoteSize int64
	remoteMDTM time.Time
	hasMDTM    bool

	restartOffset int64

	state     transferState
	lastReply Reply

	localModTime  time.Time
	tzOffsetMin   int

	onProgress func(n int64)
	onResult   func(control.Code)
	// onData receives the data connection once the data-channel operation has it ready;
	// the caller owns the local file handle and streams bytes against it
	// (the engine layer owns the local file handle).
	onData func(conn net.Conn)
	// onCleanup runs exactly once when a download fails, so the layer owning
	// the local file can remove a zero-byte partial.
	onCleanup func()
}

// NewFileTransferOp builds a file-transfer operation.
func NewFileTransferOp(sock *Socket, site serverpath.Site, caps *ServerCapabilities, remotePath serverpath.Path, remoteFile string, download, binary, preserveTime bool, cachedSize *int64, restartOffset int64, localModTime time.Time, tzOffsetMin int, onProgress func(int64), onResult func(control.Code), onData func(net.Conn), onCleanup func()) *FileTransferOp {
	return &FileTransferOp{
		sock: sock, site: site, caps: caps,
		remotePath: remotePath, remoteFile: remoteFile,
		download: download, binary: binary, preserveTime: preserveTime,
		localSize: cachedSize, restartOffset: restartOffset,
		localModTime: localModTime, tzOffsetMin: tzOffsetMin,
		onProgress: onProgress, onResult: onResult, onData: onData,
		onCleanup: onCleanup,
	}
}

func (o *FileTransferOp) ID() control.OpID { return control.OpTransfer }
func (o *FileTransferOp) TopLevel() bool   { return true }

func (o *FileTransferOp) SetReply(r Reply) { o.lastReply = r }

func (o *FileTransferOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case tsInit:
		o.sock.SendCommand("CWD " + o.remotePath.String())
		o.state = tsWaitCWD
		return control.WouldBlock
	case tsSize:
		if o.localSize != nil {
			o.remoteSize = *o.localSize
			o.state = tsMdtm
			return control.Continue
		}
		o.sock.SendCommand("SIZE " + o.remoteFile)
		return control.WouldBlock
	case tsMdtm:
		if !o.preserveTime {
			o.state = tsResumeTest
			return control.Continue
		}
		o.sock.SendCommand("MDTM " + o.remoteFile)
		return control.WouldBlock
	case tsResumeTest:
		return o.maybeRunResumeTest()
	case tsTransferRunning:
		cmd := "RETR " + o.remoteFile
		if !o.download {
			cmd = "STOR " + o.remoteFile
		}
		typ := TypeImage
		if !o.binary {
			typ = TypeASCII
		}
		child := NewRawTransferOp(o.sock, cmd, typ, ModePassive, o.sock.features.Has("EPSV"), o.restartOffset, o.restartOffset == 0, o.onData)
		o.sock.Stack.Push(child)
		return control.Continue
	case tsMfmt:
		if !(o.preserveTime && !o.download && o.sock.features.Has("MFMT")) {
			o.state = tsDone
			return control.Continue
		}
		adjusted := o.localModTime.Add(time.Duration(o.tzOffsetMin) * time.Minute)
		o.sock.SendCommand(fmt.Sprintf("MFMT %s %s", adjusted.UTC().Format("20060102150405"), o.remoteFile))
		return control.WouldBlock
	case tsDone:
		if o.onResult != nil {
			o.onResult(control.Ok)
		}
		return control.Ok
	default:
		return control.WouldBlock
	}
}

// maybeRunResumeTest sends REST at the restart offset the first time a
// transfer on this server resumes past the 2 GiB or 4 GiB threshold; the
// reply to that REST is the test's verdict, and no 1-byte RETR is issued.
// The capability is recorded so the test runs at most once per server.
func (o *FileTransferOp) maybeRunResumeTest() control.Code {
	const twoGiB = 1 << 31
	const fourGiB = 1 << 32
	if o.restartOffset >= fourGiB && !o.caps.Resume4GBTested {
		o.sock.SendCommand(fmt.Sprintf("REST %d", o.restartOffset))
		o.state = tsTransferRunning
		return control.WouldBlock
	}
	if o.restartOffset >= twoGiB && !o.caps.Resume2GBTested {
		o.sock.SendCommand(fmt.Sprintf("REST %d", o.restartOffset))
		o.state = tsTransferRunning
		return control.WouldBlock
	}
	o.state = tsTransferRunning
	return control.Continue
}

func (o *FileTransferOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case tsWaitCWD:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		o.state = tsSize
		return control.Continue
	case tsSize:
		if r.Code/100 == 2 {
			if n, err := strconv.ParseInt(strings.TrimSpace(r.Message), 10, 64); err == nil {
				o.remoteSize = n
			}
		}
		o.state = tsMdtm
		return control.Continue
	case tsMdtm:
		if r.Code/100 == 2 {
			if t, err := time.Parse("20060102150405", strings.TrimSpace(r.Message)); err == nil {
				o.remoteMDTM = t
				o.hasMDTM = true
			}
		}
		o.state = tsResumeTest
		return control.Continue
	case tsTransferRunning:
		return o.parseResumeTestReply(r)
	case tsMfmt:
		o.state = tsDone
		return control.Continue
	default:
		return control.Ok
	}
}

// parseResumeTestReply interprets the reply to the REST issued by the
// resume test: any code below 4yz means the offset was accepted and the
// operation goes on to the real transfer; a 4yz/5yz fails it as critical
// (and marks the 4 GiB bug when past 4 GiB). A server that silently truncated the offset
// (returns data starting at 0, detectable by the caller's byte-count check)
// is reported via SetResumeTestFailed.
func (o *FileTransferOp) parseResumeTestReply(r Reply) control.Code {
	const twoGiB = 1 << 31
	const fourGiB = 1 << 32
	if o.restartOffset >= fourGiB {
		o.caps.Resume4GBTested = true
	} else if o.restartOffset >= twoGiB {
		o.caps.Resume2GBTested = true
	}
	if r.Code/100 >= 4 {
		if o.restartOffset >= fourGiB {
			o.caps.Resume4GBBug = true
		}
		return control.Error | control.CriticalError
	}
	o.state = tsTransferRunning
	return control.Continue
}

// SetResumeTestFailed records a detected silent-truncation bug for the
// in-flight resume test: the server accepted REST but returned data
// starting at offset 0.
func (o *FileTransferOp) SetResumeTestFailed() {
	o.caps.Resume4GBBug = true
}

func (o *FileTransferOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	if _, ok := finished.(*RawTransferOp); ok {
		if prevResult == control.Ok {
			o.state = tsMfmt
			return control.Continue
		}
		if !o.download {
			return prevResult | control.CriticalError | control.WriteFailed
		}
		return prevResult | control.CriticalError
	}
	return prevResult
}

// Reset runs the failed-download cleanup exactly once, deleting a
// zero-byte partial through the owning layer's callback.
func (o *FileTransferOp) Reset(result control.Code) control.Code {
	if o.download && result.IsError() && o.onCleanup != nil {
		o.onCleanup()
		o.onCleanup = nil
	}
	return result
}

// UpdateDirCacheAfterTransfer reflects a completed upload into the
// directory cache so a subsequent listing doesn't need a round trip.
func UpdateDirCacheAfterTransfer(cache *dircache.Cache, site serverpath.Site, path serverpath.Path, name string, size int64) {
	cache.UpdateFile(site, path, name, true, false, &size, nil)
}
