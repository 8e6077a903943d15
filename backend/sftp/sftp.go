// Package sftp implements the SFTP control socket: the engine speaks a
// newline-delimited line protocol to an external helper subprocess over
// stdio rather than hosting an SSH client in-process. The helper owns the
// cryptography; this side owns command sequencing, prompt correlation, and
// quota/rate coordination.
package sftp

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fz3go/engine/control"
)

// LineKind classifies one output line from the helper by its leading
// marker.
type LineKind int

const (
	LineReply LineKind = iota
	LineDone
	LineError
	LineInfo
	LineVerbose
	LineStatus
	LineTransferProgress
	LineListEntry
	LineRequestHostKeyNew
	LineRequestHostKeyChanged
	LineRequestHostKeyBetterAlgo
	LineRequestPassword
	LineRequestPreamble
	LineRequestInstruction
	LineRequestQuota
	LineUnknown
)

var markerTable = map[string]LineKind{
	"R":  LineReply,
	"D":  LineDone,
	"E":  LineError,
	"I":  LineInfo,
	"V":  LineVerbose,
	"S":  LineStatus,
	"T":  LineTransferProgress,
	"L":  LineListEntry,
	"H":  LineRequestHostKeyNew,
	"HC": LineRequestHostKeyChanged,
	"HB": LineRequestHostKeyBetterAlgo,
	"A":  LineRequestPassword,
	"P":  LineRequestPreamble,
	"N":  LineRequestInstruction,
	"Q":  LineRequestQuota,
}

// Line is one classified, parsed line from the helper.
type Line struct {
	Kind    LineKind
	Payload string

	// DoneStatus is populated for LineDone.
	DoneStatus int

	// ListEntry fields are populated for LineListEntry.
	ListMTime string
	ListSize  int64
	ListName  string
}

// ParseLine classifies raw (the helper's stdout line, without its trailing
// newline) following the 1-character-type-code-then-payload
// rule, with the two-character host-key variants checked first.
func ParseLine(raw string) Line {
	for _, marker := range []string{"HC", "HB"} {
		if strings.HasPrefix(raw, marker+" ") || raw == marker {
			return Line{Kind: markerTable[marker], Payload: strings.TrimPrefix(strings.TrimPrefix(raw, marker), " ")}
		}
	}
	if raw == "" {
		return Line{Kind: LineUnknown}
	}
	marker := raw[:1]
	rest := strings.TrimPrefix(raw[1:], " ")
	kind, ok := markerTable[marker]
	if !ok {
		return Line{Kind: LineUnknown, Payload: raw}
	}
	l := Line{Kind: kind, Payload: rest}
	switch kind {
	case LineDone:
		if n, err := strconv.Atoi(rest); err == nil {
			l.DoneStatus = n
		}
	case LineListEntry:
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) == 3 {
			l.ListMTime = fields[0]
			if n, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				l.ListSize = n
			}
			l.ListName = fields[2]
		}
	}
	return l
}

// QuotaDirection distinguishes the two quota events.
type QuotaDirection int

const (
	QuotaRecv QuotaDirection = iota
	QuotaSend
)

// EscapeWildcard backslash-quotes `[ ] * ? \` for a wildcard-safe argument,
// before the helper proceeds.
func EscapeWildcard(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '[', ']', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteFilename doubles embedded quotes so the filename can be sent as a
// single newline-free, quote-delimited command argument.
func QuoteFilename(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// challenge correlates an AskPassword event with the preceding
// preamble/instruction pair.
type challenge struct {
	preamble    string
	instruction string
}

func (c challenge) id() string { return c.preamble + "\x00" + c.instruction }

// Helper drives one SFTP helper subprocess: sends commands, classifies and
// dispatches output lines, and tracks the one-outstanding-operation and
// repeated-auth-challenge rules.
type Helper struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	protocolVersion int

	seenChallenges map[string]bool
	lastPreamble   string
	lastInstruction string

	pendingCommand bool

	OnLine      func(Line)
	OnAuthFail  func()
	OnQuota     func(dir QuotaDirection, bytesUsed int64)
}

// NewHelper starts the helper binary at path with args, wiring its stdio.
func NewHelper(path string, args []string) (*Helper, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sftp: starting helper: %w", err)
	}
	h := &Helper{
		cmd:            cmd,
		stdin:          stdin,
		stdout:         bufio.NewScanner(stdout),
		seenChallenges: make(map[string]bool),
	}
	return h, nil
}

// SendCommand writes one command line to the helper, enforcing the
// one-outstanding-operation rule.
func (h *Helper) SendCommand(line string) error {
	if h.pendingCommand {
		return fmt.Errorf("sftp: a command is already outstanding")
	}
	h.pendingCommand = true
	_, err := io.WriteString(h.stdin, line+"\n")
	return err
}

// ReadLine blocks for the next classified output line, updating
// challenge-correlation and one-outstanding-operation state as it goes.
func (h *Helper) ReadLine() (Line, bool) {
	if !h.stdout.Scan() {
		return Line{}, false
	}
	l := ParseLine(h.stdout.Text())
	switch l.Kind {
	case LineDone, LineError:
		h.pendingCommand = false
	case LineRequestPreamble:
		h.lastPreamble = l.Payload
	case LineRequestInstruction:
		h.lastInstruction = l.Payload
	case LineRequestPassword:
		c := challenge{preamble: h.lastPreamble, instruction: h.lastInstruction}
		id := c.id()
		if h.seenChallenges[id] {
			if h.OnAuthFail != nil {
				h.OnAuthFail()
			}
		}
		h.seenChallenges[id] = true
	case LineRequestQuota:
		h.handleQuotaRequest(l.Payload)
	}
	if h.OnLine != nil {
		h.OnLine(l)
	}
	return l, true
}

func (h *Helper) handleQuotaRequest(payload string) {
	dir := QuotaRecv
	rest := payload
	if strings.HasPrefix(payload, "send") {
		dir = QuotaSend
		rest = strings.TrimPrefix(payload, "send")
	} else {
		rest = strings.TrimPrefix(payload, "recv")
	}
	n, _ := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if h.OnQuota != nil {
		h.OnQuota(dir, n)
	}
}

// RespondQuota sends the rate-limiter consultation reply the helper is
// waiting for: a "-dir<bytes>,<limit>" line, or "-dir-" to mean
// unlimited.
func (h *Helper) RespondQuota(dir QuotaDirection, available int64, limit int64) error {
	tag := "recv"
	if dir == QuotaSend {
		tag = "send"
	}
	if limit < 0 {
		return h.writeRaw(fmt.Sprintf("-%s-\n", tag))
	}
	return h.writeRaw(fmt.Sprintf("-%s%d,%d\n", tag, available, limit))
}

func (h *Helper) writeRaw(s string) error {
	_, err := io.WriteString(h.stdin, s)
	return err
}

// NewChallengeID returns a fresh correlation id for an AskPassword prompt
// that doesn't derive from preamble/instruction text (e.g. for logging),
// using google/uuid.
func NewChallengeID() string { return uuid.NewString() }

// Close terminates the helper subprocess.
func (h *Helper) Close() error {
	h.stdin.Close()
	return h.cmd.Wait()
}

// CodeForDoneStatus maps a "D <status>" line to the engine's reply-code
// bitmask.
func CodeForDoneStatus(status int) control.Code {
	if status == 0 {
		return control.Ok
	}
	return control.Error
}
