package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pushkernel/remoteadapter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line != "KEEPALIVE" {
			return line
		}
	}
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func testLauncherConfig(address string) Config {
	cfg := DefaultConfig
	cfg.Address = address
	cfg.ConnectTimeout = time.Second
	return cfg
}

func TestRunServer_Metadata(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := testLauncherConfig(ln.Addr().String())
	cfg.User = "remote"
	cfg.Password = "secret"
	cfg.Params = map[string]string{"allowed_users": "alice"}

	result := make(chan error, 1)
	go func() {
		result <- runServer(context.Background(), cfg, newMetadataServer, dialTCP, prometheus.NewRegistry(), &logger{})
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	require.Equal(t, "1|RAC|S|enableClosePacket|S|true|S|password|S|secret|S|user|S|remote", readLine(t, conn, r))
	writeLine(t, conn, "1|MPI|S|ARI.version|S|1.9.1")
	require.Equal(t, "1|MPI|S|ARI.version|S|1.9.1", readLine(t, conn, r))
	writeLine(t, conn, "2|NUS|S|bob|S|pw")
	require.Equal(t, "2|NUS|EA|Unauthorized user", readLine(t, conn, r))
	writeLine(t, conn, "3|GIS|S|alice|S|item1 item2|S|S1")
	require.Equal(t, "3|GIS|S|item1|S|item2", readLine(t, conn, r))
	writeLine(t, conn, "0|CLOSE|S|reason|S|shutdown")

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServer_ContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- runServer(ctx, testLauncherConfig(ln.Addr().String()), newMetadataServer, dialTCP, prometheus.NewRegistry(), &logger{})
	}()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	require.Equal(t, "1|RAC|S|enableClosePacket|S|true", readLine(t, conn, r))

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServer_ConnectionLost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	result := make(chan error, 1)
	go func() {
		result <- runServer(context.Background(), testLauncherConfig(ln.Addr().String()), newMetadataServer, dialTCP, prometheus.NewRegistry(), &logger{})
	}()
	conn, err := ln.Accept()
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	require.Equal(t, "1|RAC|S|enableClosePacket|S|true", readLine(t, conn, r))
	require.NoError(t, conn.Close())

	select {
	case err := <-result:
		var channelErr *remoteadapter.ChannelError
		require.ErrorAs(t, err, &channelErr)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServer_DialError(t *testing.T) {
	dial := func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	cfg := testLauncherConfig("127.0.0.1:1")
	cfg.NotifyAddress = "127.0.0.1:2"
	err := runServer(context.Background(), cfg, newMetadataServer, dial, prometheus.NewRegistry(), &logger{})
	require.ErrorContains(t, err, "error connecting to 127.0.0.1:1")
}

func TestConnect_ClosesOnPartialFailure(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = server.Close() }()
	calls := 0
	dial := func(_ context.Context, address string) (net.Conn, error) {
		calls++
		if address == "notify" {
			return nil, errors.New("refused")
		}
		return client, nil
	}
	cfg := testLauncherConfig("requests")
	cfg.NotifyAddress = "notify"
	_, err := connect(context.Background(), cfg, dial)
	require.ErrorContains(t, err, "error connecting to notify")
	require.Equal(t, 2, calls)
	_, err = client.Write([]byte("x"))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestServerResult(t *testing.T) {
	require.NoError(t, serverResult(nil))
	require.NoError(t, serverResult(&remoteadapter.CloseError{Reason: "bye"}))
	err := serverResult(&remoteadapter.ChannelError{Op: "read requests", Err: errors.New("EOF")})
	require.ErrorContains(t, err, "server stopped: read requests: EOF")
}
