// Package serverpath implements the Site and Path value types: the server
// identity the caches and lock manager key on, and the protocol-typed
// canonical path type every control socket operates over.
package serverpath

// Protocol identifies which control socket implementation a Site speaks.
type Protocol int

const (
	ProtocolDefault Protocol = iota
	ProtocolFTP
	ProtocolFTPS
	ProtocolFTPES
	ProtocolSFTP
	ProtocolHTTP
	ProtocolHTTPS
	ProtocolObjectStorage
)

// ServerType distinguishes directory-listing conventions (Unix, DOS, VMS,
// MVS, …) independent of the wire Protocol.
type ServerType int

const (
	ServerUnix ServerType = iota
	ServerDOS
	ServerVMS
	ServerMVS
	ServerOther
)

// LogonType selects how credentials are obtained.
type LogonType int

const (
	LogonAnonymous LogonType = iota
	LogonNormal
	LogonAsk
	LogonInteractive
	LogonAccount
)

// PasvMode controls FTP data-channel negotiation.
type PasvMode int

const (
	PasvDefault PasvMode = iota
	PasvActive
	PasvPassive
)

// NetworkProtocol classifies the IP family preference for data channels:
// it feeds the EPSV-for-IPv6 decision in backend/ftp without conflating it
// with the wire Protocol above.
type NetworkProtocol int

const (
	NetworkAny NetworkProtocol = iota
	NetworkIPv4Only
	NetworkIPv6Only
	NetworkPreferIPv6
)

// Site is the (host, port, protocol, …) tuple identifying a remote server
// for a connection. Equality ignores transient counters (retry counts, etc.
// are simply not modeled here).
type Site struct {
	Host               string
	Port               int
	Protocol           Protocol
	Type               ServerType
	User               string
	Logon              LogonType
	TimezoneOffsetMin  int
	Pasv               PasvMode
	Network            NetworkProtocol
	Encoding           string // "" means UTF-8
	Extra              map[string]string
	PostLoginCommands  []string
	ProxyBypass        bool
}

// SameResource reports the coarser equality used for lock/cache sharing:
// host/port/protocol/user/post-login-commands/proxy-bypass/extras, ignoring
// timezone and encoding.
func (s Site) SameResource(o Site) bool {
	if s.Host != o.Host || s.Port != o.Port || s.Protocol != o.Protocol ||
		s.User != o.User || s.ProxyBypass != o.ProxyBypass {
		return false
	}
	if !stringsEqual(s.PostLoginCommands, o.PostLoginCommands) {
		return false
	}
	return mapsEqual(s.Extra, o.Extra)
}

// SameContent additionally compares timezone and encoding.
func (s Site) SameContent(o Site) bool {
	return s.SameResource(o) && s.TimezoneOffsetMin == o.TimezoneOffsetMin && s.Encoding == o.Encoding
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
