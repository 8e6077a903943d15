// Package control implements the operation stack and base control socket
// shared by every protocol backend: the reply-code bitmask, the polymorphic
// Operation contract, and the LIFO stack algorithms described for the
// engine's per-connection state machines.
package control

import "fmt"

// Code is the reply-code bitmask notifications and operation results carry.
// Bits may be combined, e.g. Error|Disconnected.
type Code uint32

// Reply code bits. Several imply Error; Continue is internal only. The
// exact values are part of the host-facing interface, so they are spelled
// out rather than derived from iota.
const (
	Ok               Code = 0
	WouldBlock       Code = 1 << 0
	Error            Code = 1 << 1
	CriticalError    Code = 1 << 2 // implies Error
	Canceled         Code = 1 << 3 // implies Error
	Disconnected     Code = 1 << 4
	NotSupported     Code = 1 << 5
	Timeout          Code = 1 << 6
	NotConnected     Code = 1 << 7
	AlreadyConnected Code = 1 << 8
	PasswordFailed   Code = 1 << 9
	NotFound         Code = 1 << 10
	WriteFailed      Code = 1 << 11
	InternalError    Code = 1 << 12
	SyntaxError      Code = 1 << 13
	Busy             Code = 1 << 14

	// Continue is an internal sentinel never surfaced to the host.
	Continue Code = 1 << 31
)

var names = []struct {
	bit  Code
	name string
}{
	{WouldBlock, "WouldBlock"},
	{Error, "Error"},
	{CriticalError, "CriticalError"},
	{Canceled, "Canceled"},
	{Disconnected, "Disconnected"},
	{NotSupported, "NotSupported"},
	{Timeout, "Timeout"},
	{NotConnected, "NotConnected"},
	{AlreadyConnected, "AlreadyConnected"},
	{PasswordFailed, "PasswordFailed"},
	{NotFound, "NotFound"},
	{WriteFailed, "WriteFailed"},
	{InternalError, "InternalError"},
	{SyntaxError, "SyntaxError"},
	{Busy, "Busy"},
	{Continue, "Continue"},
}

// String renders the set bits, e.g. "Error|CriticalError".
func (c Code) String() string {
	if c == Ok {
		return "Ok"
	}
	s := ""
	for _, n := range names {
		if c&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return fmt.Sprintf("Code(%#x)", uint32(c))
	}
	return s
}

// Has reports whether all bits of want are set in c.
func (c Code) Has(want Code) bool { return c&want == want }

// IsError reports whether the code carries the Error bit.
func (c Code) IsError() bool { return c&Error != 0 }

// clean reports whether a popped code is one that should call the parent's
// SubcommandResult rather than re-propagate via ResetOperation.
func (c Code) clean() bool {
	return c == Ok || c&(Error|CriticalError|NotFound) != 0
}
