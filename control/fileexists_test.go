package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFileExistsOverwriteNewer(t *testing.T) {
	p := FileExistsPrompt{LocalNewer: true}
	o := ResolveFileExists(p, FileExistsReply{Action: ActionOverwriteNewer}, nil)
	assert.Equal(t, OutcomeOverwrite, o)

	p2 := FileExistsPrompt{LocalNewer: false}
	o2 := ResolveFileExists(p2, FileExistsReply{Action: ActionOverwriteNewer}, nil)
	assert.Equal(t, OutcomeSkip, o2)
}

func TestResolveFileExistsRenameReprompts(t *testing.T) {
	p := FileExistsPrompt{RemoteName: "a.txt"}
	exists := func(name string) bool { return name == "b.txt" }
	o := ResolveFileExists(p, FileExistsReply{Action: ActionRename, NewName: "b.txt"}, exists)
	assert.Equal(t, OutcomeRepromptRename, o)

	o2 := ResolveFileExists(p, FileExistsReply{Action: ActionRename, NewName: "c.txt"}, exists)
	assert.Equal(t, OutcomeRenamed, o2)
}

func TestResolveFileExistsSizeOrNewer(t *testing.T) {
	p := FileExistsPrompt{LocalSize: 10, RemoteSize: 10, LocalNewer: true}
	o := ResolveFileExists(p, FileExistsReply{Action: ActionOverwriteSizeOrNewer}, nil)
	assert.Equal(t, OutcomeOverwrite, o)

	p2 := FileExistsPrompt{LocalSize: 10, RemoteSize: 10, LocalNewer: false}
	o2 := ResolveFileExists(p2, FileExistsReply{Action: ActionOverwriteSizeOrNewer}, nil)
	assert.Equal(t, OutcomeSkip, o2)
}
