package tcpcheck_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors/tcpcheck"
)

func TestExecute_OKOnPlainConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	check := &nyxmon.Check{ID: "c1", Target: ln.Addr().String()}
	result, err := tcpcheck.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultOK, result.Status)
}

func TestExecute_ConnectionError(t *testing.T) {
	check := &nyxmon.Check{ID: "c1", Target: "127.0.0.1:1"}
	result, err := tcpcheck.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "connection_error", result.Payload["error_type"])
}

func TestExecute_TLSHandshakeErrorWhenPeerIsntTLS(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("not a tls handshake"))
	}()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: ln.Addr().String(),
		Data:   map[string]any{"tls": true},
	}
	result, err := tcpcheck.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "tls_handshake_error", result.Payload["error_type"])
}
