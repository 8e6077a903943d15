// Package ftp implements the FTP/FTPS control socket: a line-based
// connection speaking RFC 959 plus FEAT/MLSD/EPSV extensions, driven by the
// shared control.Stack. The wire protocol is spoken directly rather than
// through a client library, because the engine owns the logon and
// data-channel state machines and the pending-reply counter, which a client
// library abstracts away.
package ftp

import (
	"fmt"
	"strconv"
	"strings"
)

// maxLineLength closes the connection when exceeded.
const maxLineLength = 65536

// Reply is one parsed (possibly multi-line) FTP server reply.
type Reply struct {
	Code    int
	Lines   []string // all lines, including the final terminator line
	Message string   // the final line's text after the code
}

// Preliminary reports whether this is a 1yz "processing continues" reply.
func (r Reply) Preliminary() bool { return r.Code >= 100 && r.Code < 200 }

// replyAssembler consumes raw lines and assembles complete (possibly
// multi-line) replies: "NNN-..." opens a multi-line block
// that closes on a line starting with the same code followed by a space.
type replyAssembler struct {
	pending *Reply
}

// Feed processes one logical line (CR/LF/NUL-terminator already stripped)
// and returns a completed Reply when the line finishes one, or (nil, nil)
// if more lines are needed, or a non-nil error for malformed input.
func (a *replyAssembler) Feed(line string) (*Reply, error) {
	if a.pending != nil {
		a.pending.Lines = append(a.pending.Lines, line)
		if len(line) >= 4 {
			if code, err := strconv.Atoi(line[:3]); err == nil && code == a.pending.Code && line[3] == ' ' {
				a.pending.Message = strings.TrimSpace(line[4:])
				r := a.pending
				a.pending = nil
				return r, nil
			}
		}
		return nil, nil
	}

	if len(line) < 4 {
		return nil, fmt.Errorf("ftp: malformed reply line %q", line)
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return nil, fmt.Errorf("ftp: malformed reply code in %q: %w", line, err)
	}
	switch line[3] {
	case ' ':
		return &Reply{Code: code, Lines: []string{line}, Message: strings.TrimSpace(line[4:])}, nil
	case '-':
		a.pending = &Reply{Code: code, Lines: []string{line}}
		return nil, nil
	default:
		return nil, fmt.Errorf("ftp: malformed reply separator in %q", line)
	}
}

// PasvAddr is a resolved data-channel endpoint from a PASV/EPSV reply.
type PasvAddr struct {
	Host string
	Port int
}

// ParsePASV extracts the (h1,h2,h3,h4,p1,p2) tuple from a 227 reply message
// of the shape "Entering Passive Mode (10,0,0,1,19,136)".
func ParsePASV(message string) (PasvAddr, error) {
	open := strings.IndexByte(message, '(')
	close := strings.IndexByte(message, ')')
	if open < 0 || close < 0 || close < open {
		return PasvAddr{}, fmt.Errorf("ftp: no parenthesised tuple in PASV reply %q", message)
	}
	parts := strings.Split(message[open+1:close], ",")
	if len(parts) != 6 {
		return PasvAddr{}, fmt.Errorf("ftp: expected 6-tuple in PASV reply, got %d", len(parts))
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return PasvAddr{}, fmt.Errorf("ftp: non-numeric PASV field %q: %w", p, err)
		}
		nums[i] = n
	}
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port := nums[4]*256 + nums[5]
	return PasvAddr{Host: host, Port: port}, nil
}

// ParseEPSV extracts the port from an EPSV reply message of the shape
// "Entering Extended Passive Mode (|||6446|)". The host is always the
// control connection's peer for EPSV.
func ParseEPSV(message string) (int, error) {
	open := strings.IndexByte(message, '(')
	close := strings.IndexByte(message, ')')
	if open < 0 || close < 0 || close < open {
		return 0, fmt.Errorf("ftp: no parenthesised field in EPSV reply %q", message)
	}
	inner := message[open+1 : close]
	fields := strings.Split(inner, string(inner[0]))
	for _, f := range fields {
		if f == "" {
			continue
		}
		port, err := strconv.Atoi(f)
		if err != nil {
			return 0, fmt.Errorf("ftp: non-numeric EPSV port %q: %w", f, err)
		}
		return port, nil
	}
	return 0, fmt.Errorf("ftp: empty EPSV reply %q", message)
}

// Features is the parsed result of a FEAT reply: each line's leading
// keyword, upper-cased, mapped to its raw argument text.
type Features map[string]string

// ParseFEAT parses the body lines of a multi-line FEAT reply (excluding the
// opening "211-Features:" and closing "211 End" lines).
func ParseFEAT(lines []string) Features {
	f := make(Features)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		fields := strings.SplitN(trimmed, " ", 2)
		key := strings.ToUpper(fields[0])
		arg := ""
		if len(fields) == 2 {
			arg = fields[1]
		}
		f[key] = arg
	}
	return f
}

// Has reports whether the server advertised feature name (e.g. "EPSV").
func (f Features) Has(name string) bool {
	_, ok := f[strings.ToUpper(name)]
	return ok
}
