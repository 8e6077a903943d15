package ftp

import (
	"testing"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/serverpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLoginSequenceNone(t *testing.T) {
	steps, err := BuildLoginSequence(ProxyNone, serverpath.Site{Host: "h"}, Credentials{User: "bob", Password: "s3cret"})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "USER bob", steps[0].Command)
	assert.Equal(t, "PASS s3cret", steps[1].Command)
	assert.True(t, steps[1].HideArguments)
	assert.True(t, steps[2].Optional)
}

func TestBuildLoginSequenceUserHostPass(t *testing.T) {
	steps, err := BuildLoginSequence(ProxyUserHostPass, serverpath.Site{Host: "target.example"}, Credentials{User: "bob", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "USER bob@target.example", steps[0].Command)
	assert.Equal(t, "PASS s3cret/target.example", steps[1].Command)
}

func TestBuildLoginSequenceSiteHost(t *testing.T) {
	steps, err := BuildLoginSequence(ProxySiteHost, serverpath.Site{Host: "target.example"}, Credentials{User: "bob", Password: "s3cret"})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "SITE target.example", steps[0].Command)
}

func TestBuildLoginSequenceCustom(t *testing.T) {
	cred := Credentials{
		User: "bob", Password: "s3cret", Account: "acct1",
		ProxyUser: "proxyuser", ProxyPassword: "proxypass",
		CustomSequence: []string{"USER %u", "PASS %p", "SITE %h %a"},
	}
	steps, err := BuildLoginSequence(ProxyCustomSequence, serverpath.Site{Host: "target.example"}, cred)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "USER bob", steps[0].Command)
	assert.Equal(t, "PASS s3cret", steps[1].Command)
	assert.Equal(t, "SITE target.example acct1", steps[2].Command)
}

func TestLogonPasswordFailureSetsCriticalAndPasswordFailed(t *testing.T) {
	op := NewLogonOp(&Socket{}, serverpath.Site{Host: "h"}, Credentials{User: "bob", Password: "bad"}, ProxyNone)
	op.state = stLogon
	op.steps, _ = BuildLoginSequence(ProxyNone, op.site, op.cred)
	op.stepIdx = 1 // PASS step

	op.SetReply(Reply{Code: 530, Message: "Login incorrect."})
	code := op.parseLoginReply(op.lastReply)

	assert.True(t, code.Has(control.CriticalError))
	assert.True(t, code.Has(control.PasswordFailed))
	assert.True(t, op.PasswordFailed())
}

func TestLogonInteractiveChallengeAccumulates(t *testing.T) {
	op := NewLogonOp(&Socket{}, serverpath.Site{Host: "h"}, Credentials{User: "bob", Password: "ok"}, ProxyNone)
	op.state = stLogon
	op.steps, _ = BuildLoginSequence(ProxyNone, op.site, op.cred)
	op.stepIdx = 0

	code := op.parseLoginReply(Reply{Code: 120, Message: "Enter your token", Lines: []string{"120 Enter your token"}})
	assert.Equal(t, control.WouldBlock, code)

	prompt, ok := op.InteractivePrompt()
	assert.True(t, ok)
	assert.Contains(t, prompt, "Enter your token")
}
