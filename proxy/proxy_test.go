package proxy

import (
	"bufio"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestHTTPConnectSuccess(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindHTTPConnect, Host: "proxy", Port: 3128}, "example.com", 443)
	}()

	r := bufio.NewReader(server)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "CONNECT example.com:443 HTTP/1.1\r\n", line)
	for {
		l, err := r.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	_, err = server.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestHTTPConnectRejected(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindHTTPConnect, Host: "proxy", Port: 3128}, "example.com", 443)
	}()

	r := bufio.NewReader(server)
	for {
		l, err := r.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	_, err := server.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
	require.NoError(t, err)

	err = <-done
	assert.Error(t, err)
}

func TestSOCKS4ConnectSuccess(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindSOCKS4}, "1.2.3.4", 21)
	}()

	req := make([]byte, 9)
	_, err := server.Read(req)
	require.NoError(t, err)
	assert.Equal(t, byte(0x04), req[0])
	assert.Equal(t, byte(0x01), req[1])
	assert.Equal(t, uint16(21), binary.BigEndian.Uint16(req[2:4]))
	assert.Equal(t, []byte{1, 2, 3, 4}, req[4:8])

	_, err = server.Write([]byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestSOCKS4ConnectRejected(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindSOCKS4}, "1.2.3.4", 21)
	}()

	req := make([]byte, 9)
	_, err := server.Read(req)
	require.NoError(t, err)
	_, err = server.Write([]byte{0x00, 0x5B, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	err = <-done
	assert.Error(t, err)
}

func TestSOCKS5ConnectNoAuth(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindSOCKS5}, "example.com", 21)
	}()

	greeting := make([]byte, 3)
	_, err := server.Read(greeting)
	require.NoError(t, err)
	assert.Equal(t, byte(0x05), greeting[0])
	_, err = server.Write([]byte{0x05, 0x00})
	require.NoError(t, err)

	head := make([]byte, 4)
	_, err = server.Read(head)
	require.NoError(t, err)
	assert.Equal(t, byte(0x05), head[0])
	assert.Equal(t, byte(0x01), head[1])
	assert.Equal(t, byte(0x03), head[3]) // domain name address type

	lenByte := make([]byte, 1)
	_, err = server.Read(lenByte)
	require.NoError(t, err)
	nameBuf := make([]byte, int(lenByte[0])+2)
	_, err = server.Read(nameBuf)
	require.NoError(t, err)

	_, err = server.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestSOCKS5ConnectWithAuth(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindSOCKS5, User: "alice", Password: "secret"}, "1.2.3.4", 21)
	}()

	greeting := make([]byte, 4) // ver, nmethods=2, two methods
	_, err := server.Read(greeting)
	require.NoError(t, err)
	_, err = server.Write([]byte{0x05, 0x02})
	require.NoError(t, err)

	authReq := make([]byte, 2+len("alice")+1+len("secret"))
	_, err = server.Read(authReq)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), authReq[0])
	_, err = server.Write([]byte{0x01, 0x00})
	require.NoError(t, err)

	head := make([]byte, 4)
	_, err = server.Read(head)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), head[3]) // IPv4
	addr := make([]byte, 6)
	_, err = server.Read(addr)
	require.NoError(t, err)

	_, err = server.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestSOCKS5ConnectFailureReply(t *testing.T) {
	client, server := pipePair(t)
	done := make(chan error, 1)
	go func() {
		done <- Handshake(client, Config{Kind: KindSOCKS5}, "1.2.3.4", 21)
	}()

	greeting := make([]byte, 3)
	_, err := server.Read(greeting)
	require.NoError(t, err)
	_, err = server.Write([]byte{0x05, 0x00})
	require.NoError(t, err)

	head := make([]byte, 10) // CONNECT request with IPv4 address
	_, err = server.Read(head)
	require.NoError(t, err)

	_, err = server.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}) // 0x05 = connection refused
	require.NoError(t, err)

	err = <-done
	assert.Error(t, err)
}
