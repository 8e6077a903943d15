package control

// FileExistsAction is the host's answer to a file-exists async prompt.
type FileExistsAction int

const (
	ActionOverwrite FileExistsAction = iota
	ActionOverwriteNewer
	ActionOverwriteSize
	ActionOverwriteSizeOrNewer
	ActionResume
	ActionRename
	ActionSkip
)

// FileExistsPrompt is the async notification payload for the file-exists
// round trip: the target name and what the engine already knows about the
// local and remote copies, so the host can decide without another query.
type FileExistsPrompt struct {
	LocalName, RemoteName       string
	LocalSize, RemoteSize       int64
	LocalNewer, RemoteNewer     bool
	LocalTimeUnknown            bool
	RemoteTimeUnknown           bool
}

// FileExistsOutcome is the disposition of a resolved file-exists prompt.
type FileExistsOutcome int

const (
	OutcomeOverwrite FileExistsOutcome = iota
	OutcomeResume
	OutcomeSkip
	OutcomeRenamed
	// OutcomeRepromptRename indicates the rename target itself collided and
	// the host must be asked again with the new name, since the new
	// target may itself exist.
	OutcomeRepromptRename
)

// FileExistsReply is what the host returns in response to a
// FileExistsPrompt.
type FileExistsReply struct {
	Action  FileExistsAction
	NewName string // set when Action == ActionRename
}

// ResolveFileExists implements the base state transitions for every
// FileExistsAction, including the rename-collides-again
// loop. checkExists is called to test whether NewName also exists when
// Action is ActionRename.
func ResolveFileExists(p FileExistsPrompt, reply FileExistsReply, checkExists func(name string) bool) FileExistsOutcome {
	switch reply.Action {
	case ActionOverwrite:
		return OutcomeOverwrite
	case ActionSkip:
		return OutcomeSkip
	case ActionResume:
		return OutcomeResume
	case ActionOverwriteNewer:
		if p.LocalTimeUnknown || p.RemoteTimeUnknown || p.LocalNewer {
			return OutcomeOverwrite
		}
		return OutcomeSkip
	case ActionOverwriteSize:
		if p.LocalSize != p.RemoteSize {
			return OutcomeOverwrite
		}
		return OutcomeSkip
	case ActionOverwriteSizeOrNewer:
		if p.LocalSize != p.RemoteSize {
			return OutcomeOverwrite
		}
		if !p.LocalTimeUnknown && !p.RemoteTimeUnknown && p.LocalNewer {
			return OutcomeOverwrite
		}
		return OutcomeSkip
	case ActionRename:
		if reply.NewName == "" || reply.NewName == p.RemoteName {
			return OutcomeSkip
		}
		if checkExists != nil && checkExists(reply.NewName) {
			return OutcomeRepromptRename
		}
		return OutcomeRenamed
	default:
		return OutcomeSkip
	}
}
