package ftp

import (
	"context"
	"fmt"
	"strings"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/serverpath"
)

// logonState enumerates the logon state machine.
type logonState int

const (
	stConnect logonState = iota
	stWelcome
	stAuthTLS
	stAuthSSL
	stAuthWait
	stSecurity
	stLogon
	stSyst
	stFeat
	stClnt
	stOptsUTF8
	stPbsz
	stProt
	stOptsMLST
	stCustomCommands
	stDone
)

// ProxyType selects the login-sequence template.
type ProxyType int

const (
	ProxyNone ProxyType = iota
	ProxyUserHostPass
	ProxySiteHost
	ProxyOpenHost
	ProxyCustomSequence
)

// LoginStepKind distinguishes the kinds of step a login sequence may carry.
type LoginStepKind int

const (
	StepUser LoginStepKind = iota
	StepPass
	StepAcct
	StepOther
)

// LoginStep is one command of a login sequence.
type LoginStep struct {
	Kind          LoginStepKind
	Command       string // used verbatim for StepOther
	Optional      bool
	HideArguments bool // suppress this command's argument in logs
}

// Credentials carries what a login sequence substitutes into its template.
type Credentials struct {
	User     string
	Password string
	Account  string
	// CustomSequence is used only for ProxyCustomSequence: raw command
	// lines with %h %u %p %s %w %a placeholders for host/user/pass/proxy
	// user/proxy pass/account.
	CustomSequence []string
	ProxyUser      string
	ProxyPassword  string
}

// BuildLoginSequence constructs the ordered command list for proxyType,
// substituting cred and site.
func BuildLoginSequence(proxyType ProxyType, site serverpath.Site, cred Credentials) ([]LoginStep, error) {
	switch proxyType {
	case ProxyNone:
		return []LoginStep{
			{Kind: StepUser, Command: "USER " + cred.User},
			{Kind: StepPass, Command: "PASS " + cred.Password, HideArguments: true},
			{Kind: StepAcct, Command: "ACCT " + cred.Account, Optional: true},
		}, nil
	case ProxyUserHostPass:
		return []LoginStep{
			{Kind: StepUser, Command: fmt.Sprintf("USER %s@%s", cred.User, site.Host)},
			{Kind: StepPass, Command: fmt.Sprintf("PASS %s/%s", cred.Password, site.Host), HideArguments: true},
		}, nil
	case ProxySiteHost:
		return []LoginStep{
			{Kind: StepOther, Command: "SITE " + site.Host},
			{Kind: StepUser, Command: "USER " + cred.User},
			{Kind: StepPass, Command: "PASS " + cred.Password, HideArguments: true},
		}, nil
	case ProxyOpenHost:
		return []LoginStep{
			{Kind: StepOther, Command: "OPEN " + site.Host},
			{Kind: StepUser, Command: "USER " + cred.User},
			{Kind: StepPass, Command: "PASS " + cred.Password, HideArguments: true},
		}, nil
	case ProxyCustomSequence:
		steps := make([]LoginStep, 0, len(cred.CustomSequence))
		for _, raw := range cred.CustomSequence {
			cmd := substitutePlaceholders(raw, site, cred)
			steps = append(steps, LoginStep{Kind: StepOther, Command: cmd})
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("ftp: unknown proxy type %d", proxyType)
	}
}

func substitutePlaceholders(raw string, site serverpath.Site, cred Credentials) string {
	r := strings.NewReplacer(
		"%h", site.Host,
		"%u", cred.User,
		"%p", cred.Password,
		"%s", cred.ProxyUser,
		"%w", cred.ProxyPassword,
		"%a", cred.Account,
	)
	return r.Replace(raw)
}

// LogonOp drives the logon state machine. It is pushed as a
// non-top-level sub-operation by the connect operation.
type LogonOp struct {
	sock  *Socket
	site  serverpath.Site
	cred  Credentials
	proxy ProxyType

	state       logonState
	steps       []LoginStep
	stepIdx     int
	utf8Tried   bool
	prompt      strings.Builder
	interactive bool

	passwordFailed bool
	lastReply      Reply
}

// NewLogonOp starts a logon against sock for site using cred, with the
// configured proxy login template.
func NewLogonOp(sock *Socket, site serverpath.Site, cred Credentials, proxy ProxyType) *LogonOp {
	return &LogonOp{sock: sock, site: site, cred: cred, proxy: proxy, state: stConnect}
}

func (o *LogonOp) ID() control.OpID  { return control.OpLogon }
func (o *LogonOp) TopLevel() bool    { return false }

func (o *LogonOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case stConnect:
		o.state = stWelcome
		return control.WouldBlock // wait for the server's greeting reply
	case stAuthTLS:
		if err := o.sock.SendCommand("AUTH TLS"); err != nil {
			return control.ClassifyNetError(err)
		}
		return control.WouldBlock
	case stAuthSSL:
		if err := o.sock.SendCommand("AUTH SSL"); err != nil {
			return control.ClassifyNetError(err)
		}
		return control.WouldBlock
	case stLogon:
		return o.sendNextLoginStep()
	case stSyst:
		o.sock.SendCommand("SYST")
		return control.WouldBlock
	case stFeat:
		o.sock.SendCommand("FEAT")
		return control.WouldBlock
	case stClnt:
		o.sock.SendCommand("CLNT transferengine")
		return control.WouldBlock
	case stOptsUTF8:
		if !o.sock.features.Has("UTF8") {
			o.state = stPbsz
			return control.Continue
		}
		o.sock.SendCommand("OPTS UTF8 ON")
		return control.WouldBlock
	case stPbsz:
		if o.site.Protocol != serverpath.ProtocolFTPS && o.site.Protocol != serverpath.ProtocolFTPES {
			o.state = stOptsMLST
			return control.Continue
		}
		o.sock.SendCommand("PBSZ 0")
		return control.WouldBlock
	case stProt:
		o.sock.SendCommand("PROT P")
		return control.WouldBlock
	case stOptsMLST:
		if !o.sock.features.Has("MLST") {
			o.state = stCustomCommands
			return control.Continue
		}
		o.sock.SendCommand("OPTS MLST type;size;modify;perm;unix.mode;")
		return control.WouldBlock
	case stCustomCommands:
		if len(o.site.PostLoginCommands) == 0 {
			o.state = stDone
			return control.Ok
		}
		o.sock.SendCommand(o.site.PostLoginCommands[0])
		o.site.PostLoginCommands = o.site.PostLoginCommands[1:]
		return control.WouldBlock
	default:
		return control.Ok
	}
}

func (o *LogonOp) sendNextLoginStep() control.Code {
	if o.steps == nil {
		steps, err := BuildLoginSequence(o.proxy, o.site, o.cred)
		if err != nil {
			return control.Error | control.InternalError
		}
		o.steps = steps
	}
	if o.stepIdx >= len(o.steps) {
		o.state = stSyst
		return control.Continue
	}
	step := o.steps[o.stepIdx]
	if err := o.sock.SendCommand(step.Command); err != nil {
		return control.ClassifyNetError(err)
	}
	return control.WouldBlock
}

func (o *LogonOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case stWelcome:
		if r.Preliminary() {
			return control.WouldBlock
		}
		if r.Code >= 400 {
			return control.Error | control.CriticalError
		}
		if o.site.Protocol == serverpath.ProtocolFTPS {
			o.state = stAuthSSL
		} else if o.site.Protocol == serverpath.ProtocolFTPES {
			o.state = stAuthTLS
		} else {
			o.state = stLogon
		}
		return control.Continue
	case stAuthTLS, stAuthSSL:
		if r.Code/100 != 2 {
			return control.Error | control.CriticalError
		}
		if err := o.sock.UpgradeTLS(nil); err != nil {
			return control.Error | control.CriticalError
		}
		o.state = stLogon
		return control.Continue
	case stLogon:
		return o.parseLoginReply(r)
	case stSyst:
		o.state = stFeat
		return control.Continue
	case stFeat:
		if r.Code/100 == 2 {
			o.sock.SetFeatures(ParseFEAT(r.Lines[1 : len(r.Lines)-1]))
		}
		o.state = stClnt
		return control.Continue
	case stClnt:
		o.state = stOptsUTF8
		return control.Continue
	case stOptsUTF8:
		o.state = stPbsz
		return control.Continue
	case stPbsz:
		o.state = stProt
		return control.Continue
	case stProt:
		o.state = stOptsMLST
		return control.Continue
	case stOptsMLST:
		o.state = stCustomCommands
		return control.Continue
	case stCustomCommands:
		return control.Continue
	default:
		return control.Ok
	}
}

func (o *LogonOp) parseLoginReply(r Reply) control.Code {
	if r.Preliminary() {
		// Interactive challenge: accumulate into the prompt.
		o.interactive = true
		o.prompt.WriteString(r.Message)
		o.prompt.WriteByte('\n')
		return control.WouldBlock
	}
	step := o.steps[o.stepIdx]
	switch {
	case r.Code/100 == 2:
		o.stepIdx++
		return control.Continue
	case r.Code/100 == 3:
		o.stepIdx++
		return control.Continue
	case step.Kind == StepPass && r.Code/100 == 5:
		o.passwordFailed = true
		return control.Error | control.CriticalError | control.PasswordFailed
	case step.Optional:
		o.stepIdx++
		return control.Continue
	default:
		return control.Error | control.CriticalError
	}
}

func (o *LogonOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	return prevResult
}

// PasswordFailed reports whether the logon failed specifically on PASS with
// a 5xx.
func (o *LogonOp) PasswordFailed() bool { return o.passwordFailed }

// InteractivePrompt returns the accumulated interactive-login text, if any.
func (o *LogonOp) InteractivePrompt() (string, bool) {
	if !o.interactive {
		return "", false
	}
	return o.prompt.String(), true
}

// SetReply records the most recent reply for ParseResponse to consume; the
// socket glue calls this immediately before dispatching to the operation
// stack's HandleReply.
func (o *LogonOp) SetReply(r Reply) { o.lastReply = r }
