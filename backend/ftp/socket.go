package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/eventloop"
	"github.com/fz3go/engine/serverpath"
)

// keepAliveIdle and keepAliveInterval drive the randomised no-op: once the
// connection has been idle for 30 minutes a keep-alive is sent. The
// keep-alive itself counts as activity, so the next one follows after
// another 30 idle minutes; the 30-second interval is the recheck delay
// after a keep-alive or while replies are pending.
const (
	keepAliveIdle     = 30 * time.Minute
	keepAliveInterval = 30 * time.Second
)

var keepAliveCommands = []string{"NOOP", "TYPE I", "TYPE A", "PWD"}

// Socket is the FTP control connection: a line-based reader/writer over a
// net.Conn (optionally wrapped in tls.Conn for FTPS), the pending-reply
// counter, and the operation Stack driving it.
type Socket struct {
	Stack *control.Stack

	conn      net.Conn
	loop      *eventloop.Loop
	site      serverpath.Site
	assembler replyAssembler

	readBuf    []byte
	writeQueue [][]byte

	pendingReplies int
	repliesToSkip  int

	features Features

	keepAliveTimer eventloop.TimerID
	lastActivity   time.Time

	// onReply is invoked with each completed Reply once repliesToSkip has
	// been accounted for.
	onReply func(*Reply)
}

// NewSocket wraps an already-connected conn (plain or TLS) for site.
func NewSocket(loop *eventloop.Loop, conn net.Conn, site serverpath.Site, onReply func(*Reply)) *Socket {
	s := &Socket{
		conn:         conn,
		loop:         loop,
		site:         site,
		onReply:      onReply,
		lastActivity: time.Now(),
	}
	s.Stack = control.NewStack(loop, 2*time.Minute)
	return s
}

// UpgradeTLS wraps the current connection in a TLS client handshake,
// performed synchronously (FTP's AUTH TLS/AUTH SSL states happen during
// logon, before any data transfer is in flight, so blocking briefly here
// does not violate the event loop's non-blocking contract for transfers).
func (s *Socket) UpgradeTLS(cfg *tls.Config) error {
	tconn := tls.Client(s.conn, cfg)
	if err := tconn.HandshakeContext(context.Background()); err != nil {
		return fmt.Errorf("ftp: TLS handshake: %w", err)
	}
	s.conn = tconn
	return nil
}

// SendCommand writes one command line, bumping the pending-reply counter.
// The counter increments on send and decrements on any reply whose first
// digit is not 1 (1xx is preliminary). Lines are buffered when
// the socket is not writable and flushed by FlushWrites.
func (s *Socket) SendCommand(line string) error {
	s.pendingReplies++
	s.lastActivity = time.Now()
	data := []byte(line + "\r\n")
	if s.conn == nil || len(s.writeQueue) > 0 {
		s.writeQueue = append(s.writeQueue, data)
		return nil
	}
	_, err := s.conn.Write(data)
	return err
}

// FlushWrites drains command lines buffered while the socket was not
// writable, in send order.
func (s *Socket) FlushWrites() error {
	if s.conn == nil {
		return nil
	}
	for len(s.writeQueue) > 0 {
		if _, err := s.conn.Write(s.writeQueue[0]); err != nil {
			return err
		}
		s.writeQueue = s.writeQueue[1:]
	}
	return nil
}

// loopFunc adapts a closure into an eventloop.Handler.
type loopFunc func()

func (f loopFunc) HandleEvent(eventloop.Event) { f() }

// postToLoop runs fn on the loop thread. Without a loop wired (operations
// driven synchronously in tests) fn runs inline.
func (s *Socket) postToLoop(fn func()) {
	if s.loop == nil {
		fn()
		return
	}
	s.loop.Post(loopFunc(fn), nil)
}

// ResetPendingReplies sets replies_to_skip to the current pending count, so
// stale replies arriving after a cancellation don't confuse the next
// operation.
func (s *Socket) ResetPendingReplies() {
	s.repliesToSkip = s.pendingReplies
}

// OnReadable is driven by the engine's socket-I/O goroutine: it reads
// available bytes, extracts logical lines, and feeds them to the reply
// assembler, invoking onReply for each completed reply not skipped.
func (s *Socket) OnReadable() control.Code {
	buf := make([]byte, 4096)
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.readBuf = append(s.readBuf, buf[:n]...)
		s.lastActivity = time.Now()
	}
	if err != nil {
		return control.ClassifyNetError(err)
	}

	for {
		idx := indexAnyByte(s.readBuf, '\r', '\n', 0)
		if idx < 0 {
			if len(s.readBuf) > maxLineLength {
				return control.Error | control.Disconnected
			}
			return control.WouldBlock
		}
		line := string(s.readBuf[:idx])
		rest := s.readBuf[idx+1:]
		// Swallow a paired CRLF/NULNUL terminator.
		if len(rest) > 0 && isLineTerminator(s.readBuf[idx]) && isLineTerminator(rest[0]) && rest[0] != s.readBuf[idx] {
			rest = rest[1:]
		}
		s.readBuf = append([]byte(nil), rest...)

		if line == "" {
			continue
		}
		reply, aerr := s.assembler.Feed(line)
		if aerr != nil {
			return control.Error | control.SyntaxError
		}
		if reply == nil {
			continue
		}
		if reply.Code/100 != 1 {
			s.pendingReplies--
		}
		if s.repliesToSkip > 0 {
			s.repliesToSkip--
			continue
		}
		if s.onReply != nil {
			s.onReply(reply)
		}
	}
}

func isLineTerminator(b byte) bool { return b == '\r' || b == '\n' || b == 0 }

func indexAnyByte(b []byte, chars ...byte) int {
	for i, c := range b {
		for _, want := range chars {
			if c == want {
				return i
			}
		}
	}
	return -1
}

// ArmKeepAlive schedules the next randomised keep-alive no-op, only sent
// when idle for keepAliveIdle and no replies are pending.
func (s *Socket) ArmKeepAlive() {
	if s.loop == nil {
		return
	}
	s.loop.Stop(s.keepAliveTimer)
	s.keepAliveTimer = s.loop.AfterFunc(keepAliveIdle, s.fireKeepAlive)
}

func (s *Socket) fireKeepAlive() {
	if s.pendingReplies > 0 {
		s.keepAliveTimer = s.loop.AfterFunc(keepAliveInterval, s.fireKeepAlive)
		return
	}
	idle := time.Since(s.lastActivity)
	if idle < keepAliveIdle {
		s.keepAliveTimer = s.loop.AfterFunc(keepAliveIdle-idle, s.fireKeepAlive)
		return
	}
	cmd := keepAliveCommands[rand.Intn(len(keepAliveCommands))]
	s.SendCommand(cmd)
	s.keepAliveTimer = s.loop.AfterFunc(keepAliveInterval, s.fireKeepAlive)
}

// replyReceiver is implemented by every FTP operation (LogonOp, ListOp,
// FileTransferOp, RawTransferOp): it hands the operation the reply its
// ParseResponse should consult next.
type replyReceiver interface {
	SetReply(Reply)
}

// DeliverReply feeds r to the current top-of-stack operation and drives the
// stack's reply-handling algorithm. This is the glue a caller owning a real
// Socket wires as its onReply callback (via loop.Post, since a reply is
// typically observed on a foreign reader goroutine, not the loop thread).
func (s *Socket) DeliverReply(ctx context.Context, r *Reply) control.Code {
	s.FlushWrites()
	if top := s.Stack.Top(); top != nil {
		if rr, ok := top.Op.(replyReceiver); ok {
			rr.SetReply(*r)
		}
	}
	return s.Stack.HandleReply(ctx)
}

// Features returns the last FEAT reply parsed during logon.
func (s *Socket) Features() Features { return s.features }

// SetFeatures records the FEAT result (called by the Logon operation).
func (s *Socket) SetFeatures(f Features) { s.features = f }

// Close tears down the connection, reverse of construction order with
// whatever layers were added (TLS is just conn itself here, so a single
// Close suffices).
func (s *Socket) Close() error {
	s.loop.Stop(s.keepAliveTimer)
	return s.conn.Close()
}

// Conn exposes the underlying connection for the data-channel operation to
// dial alongside (e.g. reusing the control connection's local address).
func (s *Socket) Conn() net.Conn { return s.conn }

// Site returns the connection's server identity.
func (s *Socket) Site() serverpath.Site { return s.site }

// PendingReplies reports the current pending-reply counter.
func (s *Socket) PendingReplies() int { return s.pendingReplies }
