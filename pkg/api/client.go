package api

import (
	"context"
	"fmt"

	"github.com/terassyi/bgpsim/pkg/config"
	"github.com/terassyi/bgpsim/pkg/sim"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	conn *grpc.ClientConn
}

func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req *Request, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	res := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/%s", SERVICE_NAME, method), in, res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return fromStruct(res, out)
}

func (c *Client) Health(ctx context.Context) error {
	return c.conn.Invoke(ctx, fmt.Sprintf("/%s/Health", SERVICE_NAME), &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) Run(ctx context.Context, until string, maxEvents int) (*RunResult, error) {
	res := &RunResult{}
	if err := c.call(ctx, "Run", &Request{Until: until, MaxEvents: maxEvents}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) routes(ctx context.Context, method string, req *Request) ([]sim.RouteInfo, error) {
	res := &RoutesResult{}
	if err := c.call(ctx, method, req, res); err != nil {
		return nil, err
	}
	return res.Routes, nil
}

func (c *Client) BestRoutes(ctx context.Context, router string) ([]sim.RouteInfo, error) {
	return c.routes(ctx, "BestRoutes", &Request{Router: router})
}

// RibDump lists every Adj-RIB-In path. An empty prefix means all prefixes.
func (c *Client) RibDump(ctx context.Context, router, prefix string) ([]sim.RouteInfo, error) {
	return c.routes(ctx, "RibDump", &Request{Router: router, Prefix: prefix})
}

func (c *Client) AdjRibOut(ctx context.Context, router, peer string) ([]sim.RouteInfo, error) {
	return c.routes(ctx, "AdjRibOut", &Request{Router: router, Peer: peer})
}

func (c *Client) Peers(ctx context.Context, router string) ([]sim.PeerInfo, error) {
	res := &PeersResult{}
	if err := c.call(ctx, "Peers", &Request{Router: router}, res); err != nil {
		return nil, err
	}
	return res.Peers, nil
}

func (c *Client) Snapshot(ctx context.Context) (*sim.Snapshot, error) {
	res := &sim.Snapshot{}
	if err := c.call(ctx, "Snapshot", &Request{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) StartSession(ctx context.Context, router, peer string) error {
	return c.call(ctx, "StartSession", &Request{Router: router, Peer: peer}, nil)
}

func (c *Client) StopSession(ctx context.Context, router, peer string) error {
	return c.call(ctx, "StopSession", &Request{Router: router, Peer: peer}, nil)
}

func (c *Client) ExpireHoldTimer(ctx context.Context, router, peer string) error {
	return c.call(ctx, "ExpireHoldTimer", &Request{Router: router, Peer: peer}, nil)
}

func (c *Client) Originate(ctx context.Context, router, prefix string) error {
	return c.call(ctx, "Originate", &Request{Router: router, Prefix: prefix}, nil)
}

func (c *Client) WithdrawOrigin(ctx context.Context, router, prefix string) error {
	return c.call(ctx, "WithdrawOrigin", &Request{Router: router, Prefix: prefix}, nil)
}

func (c *Client) Inject(ctx context.Context, route config.Route) error {
	return c.call(ctx, "Inject", &Request{Route: &route}, nil)
}

func (c *Client) SetLinkCost(ctx context.Context, a, b string, cost uint32) error {
	return c.call(ctx, "SetLinkCost", &Request{A: a, B: b, Cost: cost}, nil)
}

func (c *Client) SetLinkState(ctx context.Context, a, b string, up bool) error {
	return c.call(ctx, "SetLinkState", &Request{A: a, B: b, Down: !up}, nil)
}

// Rescan re-runs the decision process. An empty router means every router.
func (c *Client) Rescan(ctx context.Context, router string) error {
	return c.call(ctx, "Rescan", &Request{Router: router}, nil)
}

func (c *Client) LogPath(ctx context.Context) (*LogResult, error) {
	res := &LogResult{}
	if err := c.call(ctx, "LogPath", &Request{}, res); err != nil {
		return nil, err
	}
	return res, nil
}
