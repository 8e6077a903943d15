package ftp

import (
	"context"
	"fmt"
	"net"

	"github.com/fz3go/engine/control"
)

// dataState enumerates the data-channel sub-operation's states.
type dataState int

const (
	dsInit dataState = iota
	dsType
	dsPortPasv
	dsRest
	dsTransfer
	dsWaitFinish
	dsWaitTransferPre
	dsWaitTransfer
	dsWaitSocket
)

// TransferType is FTP's TYPE A/I distinction.
type TransferType int

const (
	TypeImage TransferType = iota // TYPE I
	TypeASCII
)

// DataChannelMode selects active vs. passive negotiation.
type DataChannelMode int

const (
	ModePassive DataChannelMode = iota
	ModeActive
)

// RawTransferOp drives one data-channel transfer: PASV/EPSV or PORT/EPRT
// negotiation, optional REST, the command that starts the transfer
// (RETR/STOR/APPE/LIST/MLSD), and joint completion of the control reply and
// data-socket EOF.
type RawTransferOp struct {
	sock *Socket

	command      string // "RETR foo.txt", "LIST", "MLSD", etc.
	typ          TransferType
	mode         DataChannelMode
	useEPSV      bool
	restartAt    int64
	clearRestart bool

	state dataState

	dataConn       net.Conn
	listener       net.Listener
	lastSentType   *TransferType
	controlDone    bool
	dataDone       bool
	gotPreliminary bool

	onData func(conn net.Conn) // handed the ready data connection

	lastReply Reply
}

// NewRawTransferOp builds the sub-operation for one data transfer.
func NewRawTransferOp(sock *Socket, command string, typ TransferType, mode DataChannelMode, useEPSV bool, restartAt int64, clearRestart bool, onData func(net.Conn)) *RawTransferOp {
	return &RawTransferOp{
		sock:         sock,
		command:      command,
		typ:          typ,
		mode:         mode,
		useEPSV:      useEPSV,
		restartAt:    restartAt,
		clearRestart: clearRestart,
		onData:       onData,
	}
}

func (o *RawTransferOp) ID() control.OpID { return control.OpRawTransfer }
func (o *RawTransferOp) TopLevel() bool   { return false }

func (o *RawTransferOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case dsInit:
		o.state = dsType
		return control.Continue
	case dsType:
		if o.lastSentType != nil && *o.lastSentType == o.typ {
			o.state = dsPortPasv
			return control.Continue
		}
		cmd := "TYPE I"
		if o.typ == TypeASCII {
			cmd = "TYPE A"
		}
		o.sock.SendCommand(cmd)
		return control.WouldBlock
	case dsPortPasv:
		return o.sendPasvOrPort()
	case dsRest:
		if o.restartAt > 0 {
			o.sock.SendCommand(fmt.Sprintf("REST %d", o.restartAt))
		} else if o.clearRestart {
			o.sock.SendCommand("REST 0")
		} else {
			o.state = dsTransfer
			return control.Continue
		}
		return control.WouldBlock
	case dsTransfer:
		o.sock.SendCommand(o.command)
		o.state = dsWaitTransferPre
		return control.WouldBlock
	default:
		return control.WouldBlock
	}
}

func (o *RawTransferOp) sendPasvOrPort() control.Code {
	if o.mode == ModeActive {
		l, err := net.Listen("tcp", ":0")
		if err != nil {
			if o.fallbackAllowed() {
				o.mode = ModePassive
				return control.Continue
			}
			return control.Error | control.CriticalError
		}
		o.listener = l
		port := l.Addr().(*net.TCPAddr).Port
		o.sock.SendCommand(fmt.Sprintf("EPRT |1|%s|%d|", hostOf(o.sock.Conn()), port))
		o.state = dsRest
		return control.WouldBlock
	}
	if o.useEPSV {
		o.sock.SendCommand("EPSV")
	} else {
		o.sock.SendCommand("PASV")
	}
	return control.WouldBlock
}

func (o *RawTransferOp) fallbackAllowed() bool { return true }

func hostOf(conn net.Conn) string {
	if conn == nil {
		return "0.0.0.0"
	}
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return "0.0.0.0"
	}
	return addr.IP.String()
}

// SetReply feeds the most recent control reply for ParseResponse.
func (o *RawTransferOp) SetReply(r Reply) { o.lastReply = r }

func (o *RawTransferOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case dsType:
		if r.Code/100 != 2 {
			return control.Error | control.CriticalError
		}
		t := o.typ
		o.lastSentType = &t
		o.state = dsPortPasv
		return control.Continue
	case dsPortPasv:
		return o.parsePortPasvReply(r)
	case dsRest:
		if r.Code/100 != 2 && r.Code/100 != 3 {
			// Some servers refuse REST; treated as non-fatal, proceed.
		}
		o.state = dsTransfer
		return control.Continue
	case dsWaitTransferPre:
		if r.Preliminary() {
			o.gotPreliminary = true
			o.state = dsWaitTransfer
			return control.WouldBlock
		}
		// Server skipped the 1yz preliminary and went straight to the
		// final reply; tolerated.
		return o.finishControl(r)
	case dsWaitTransfer:
		return o.finishControl(r)
	default:
		return control.WouldBlock
	}
}

func (o *RawTransferOp) parsePortPasvReply(r Reply) control.Code {
	if o.mode == ModeActive {
		if r.Code/100 != 2 {
			return control.Error | control.CriticalError
		}
		o.state = dsWaitSocket
		go o.acceptActive()
		return control.WouldBlock
	}
	if r.Code/100 != 2 {
		return control.Error | control.CriticalError
	}
	var host string
	var port int
	if o.useEPSV {
		p, err := ParseEPSV(r.Message)
		if err != nil {
			return control.Error | control.SyntaxError
		}
		host, port = remoteHost(o.sock.Conn()), p
	} else {
		addr, err := ParsePASV(r.Message)
		if err != nil {
			return control.Error | control.SyntaxError
		}
		host, port = addr.Host, addr.Port
	}
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return control.ClassifyNetError(err)
	}
	o.dataConn = conn
	o.state = dsRest
	return control.Continue
}

func remoteHost(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// acceptActive blocks on the active-mode listener from its own goroutine.
// The result is posted back onto the loop so the operation's state and the
// stack only ever mutate on the loop thread, and the stack is re-driven
// there; without that the transfer would sit in dsWaitSocket forever.
func (o *RawTransferOp) acceptActive() {
	conn, err := o.listener.Accept()
	o.listener.Close()
	o.sock.postToLoop(func() {
		if err != nil {
			o.sock.Stack.ResetOperation(control.ClassifyNetError(err))
			return
		}
		o.dataConn = conn
		o.state = dsRest
		o.sock.Stack.SendNextCommand(context.Background())
	})
}

func (o *RawTransferOp) finishControl(r Reply) control.Code {
	o.controlDone = true
	if o.dataConn != nil && o.onData != nil {
		o.onData(o.dataConn)
	}
	if r.Code/100 != 2 {
		return control.Error
	}
	if !o.dataDone {
		return control.WouldBlock
	}
	return control.Ok
}

// LastReplyCode exposes the control-channel reply code the data-channel operation finished
// with, so a parent operation's SubcommandResult can distinguish a tolerated
// reply (e.g. LIST's "no files found" 5xx) from a real failure.
func (o *RawTransferOp) LastReplyCode() int { return o.lastReply.Code }

// NotifyDataEOF is called by the data-socket reader once it observes EOF;
// transfer completion requires both this and the control reply, in either
// order.
func (o *RawTransferOp) NotifyDataEOF() control.Code {
	o.dataDone = true
	if o.controlDone {
		return control.Ok
	}
	return control.WouldBlock
}

func (o *RawTransferOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

func (o *RawTransferOp) Reset(result control.Code) control.Code {
	if o.dataConn != nil {
		o.dataConn.Close()
	}
	if o.listener != nil {
		o.listener.Close()
	}
	return result
}
