package redis

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFailsWhenUnreachable(t *testing.T) {
	// Grab a free port, then close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client, err := New(context.Background(), addr, "", 0)
	require.Error(t, err)
	require.Nil(t, client)
	require.Contains(t, err.Error(), addr)
}
