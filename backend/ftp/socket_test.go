package ftp

import (
	"net"
	"testing"

	"github.com/fz3go/engine/serverpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPendingRepliesDecrementOnNonPreliminary(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var got []*Reply
	sock := NewSocket(nil, client, serverpath.Site{}, func(r *Reply) { got = append(got, r) })

	writeDone := make(chan struct{})
	go func() {
		sock.SendCommand("USER bob")
		sock.SendCommand("PASS secret")
		close(writeDone)
	}()

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "USER bob\r\n", string(buf[:n]))
	n, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "PASS secret\r\n", string(buf[:n]))
	<-writeDone

	assert.Equal(t, 2, sock.PendingReplies())

	readDone := make(chan struct{})
	go func() {
		server.Write([]byte("331 Please specify password.\r\n"))
		server.Write([]byte("230 Login successful.\r\n"))
		close(readDone)
	}()

	sock.OnReadable()
	sock.OnReadable()
	<-readDone

	require.Len(t, got, 2)
	assert.Equal(t, 331, got[0].Code)
	assert.Equal(t, 230, got[1].Code)
	assert.Equal(t, 0, sock.PendingReplies())
}

func TestOnReadableParsesSingleReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var got []*Reply
	sock := NewSocket(nil, client, serverpath.Site{}, func(r *Reply) { got = append(got, r) })
	sock.pendingReplies = 1

	go server.Write([]byte("220 Welcome\r\n"))
	sock.OnReadable()

	require.Len(t, got, 1)
	assert.Equal(t, 220, got[0].Code)
}

func TestResetPendingRepliesSkipsStaleReplies(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var got []*Reply
	sock := NewSocket(nil, client, serverpath.Site{}, func(r *Reply) { got = append(got, r) })
	sock.pendingReplies = 2
	sock.ResetPendingReplies() // replies_to_skip = 2

	go func() {
		server.Write([]byte("226 Stale reply one.\r\n"))
		server.Write([]byte("226 Stale reply two.\r\n"))
		server.Write([]byte("200 Fresh reply.\r\n"))
	}()

	sock.OnReadable()
	sock.OnReadable()
	sock.OnReadable()

	require.Len(t, got, 1)
	assert.Equal(t, 200, got[0].Code)
}
