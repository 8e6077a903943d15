package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectCommandRequiresHost(t *testing.T) {
	err := runConnectDemo("", 21, "", "")
	assert.Error(t, err)
}

func TestRootCommandHasConnectSubcommand(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"connect"})
	assert.NoError(t, err)
	assert.Equal(t, "connect", cmd.Name())
}
