package api

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terassyi/bgpsim/pkg/config"
	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/sim"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const topology = `log:
  level: 0
routers:
  - address: 10.0.0.1
    as: 100
    networks: [192.168.1.0/24]
    peers:
      - {address: 10.0.0.2, as: 200}
  - address: 10.0.0.2
    as: 200
    peers:
      - {address: 10.0.0.1, as: 100}
`

func startServer(t *testing.T) (*Client, func()) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(topology), 0644))
	conf, err := config.Load(path)
	require.NoError(t, err)
	s, err := sim.FromConfig(conf, nil)
	require.NoError(t, err)

	listener := bufconn.Listen(1024 * 1024)
	server := NewServer(s, &config.Log{Level: 2, Out: "/var/log/bgpsim/bgpsim.log"}, log.NewWriter(log.NoLog, io.Discard))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(listener)
	}()
	client, err := NewClient("bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}))
	require.NoError(t, err)
	return client, func() {
		client.Close()
		server.Stop()
		<-done
	}
}

func TestApi(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Health(ctx))

	res, err := client.Run(ctx, "", 0)
	require.NoError(t, err)
	assert.NotZero(t, res.Dispatched)
	assert.Zero(t, res.Remaining)

	routes, err := client.BestRoutes(ctx, "10.0.0.2")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "192.168.1.0/24", routes[0].Prefix)
	assert.Equal(t, "100", routes[0].ASPath)

	peers, err := client.Peers(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "ESTABLISHED", peers[0].State)

	out, err := client.AdjRibOut(ctx, "10.0.0.1", "10.0.0.2")
	require.NoError(t, err)
	assert.Len(t, out, 1)

	require.NoError(t, client.Originate(ctx, "10.0.0.2", "172.16.0.0/16"))
	_, err = client.Run(ctx, "1s", 0)
	require.NoError(t, err)
	rib, err := client.RibDump(ctx, "10.0.0.1", "172.16.0.0/16")
	require.NoError(t, err)
	require.Len(t, rib, 1)
	assert.Equal(t, "172.16.0.0/16", rib[0].Prefix)
	assert.Equal(t, "200", rib[0].ASPath)

	require.NoError(t, client.Inject(ctx, config.Route{
		Router: "10.0.0.1",
		Prefix: "10.10.0.0/16",
		ASPath: "200 65000",
		Peer:   "10.0.0.2",
	}))
	routes, err = client.BestRoutes(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, routes, 3)

	logPath, err := client.LogPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, &LogResult{Path: "/var/log/bgpsim/bgpsim.log", Level: 2}, logPath)

	snapshot, err := client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot.Routers, 2)
}

func TestApi_Errors(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{name: "unknown router", call: func() error { _, err := client.BestRoutes(ctx, "10.0.0.9"); return err }, code: codes.NotFound},
		{name: "unknown peer", call: func() error { return client.StartSession(ctx, "10.0.0.1", "10.0.0.9") }, code: codes.NotFound},
		{name: "invalid router", call: func() error { _, err := client.Peers(ctx, "router"); return err }, code: codes.InvalidArgument},
		{name: "host bits", call: func() error { return client.Originate(ctx, "10.0.0.1", "10.0.0.1/8") }, code: codes.InvalidArgument},
		{name: "invalid until", call: func() error { _, err := client.Run(ctx, "soon", 0); return err }, code: codes.InvalidArgument},
		{name: "no network", call: func() error { return client.SetLinkCost(ctx, "10.0.0.1", "10.0.0.2", 10) }, code: codes.FailedPrecondition},
		{name: "missing route", call: func() error { return client.call(ctx, "Inject", &Request{}, nil) }, code: codes.InvalidArgument},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}
