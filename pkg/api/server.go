package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/terassyi/bgpsim/pkg/bgp"
	"github.com/terassyi/bgpsim/pkg/config"
	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/network"
	"github.com/terassyi/bgpsim/pkg/sched"
	"github.com/terassyi/bgpsim/pkg/sim"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	SERVICE_NAME string = "bgpsim.SimulatorApi"
	DEFAULT_HOST string = "localhost"
	DEFAULT_PORT int    = 6790
)

// Request carries the arguments of every command. Unused fields are ignored.
type Request struct {
	Router    string `json:"router,omitempty"`
	Peer      string `json:"peer,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Until     string `json:"until,omitempty"`
	MaxEvents int    `json:"max-events,omitempty"`
	A         string `json:"a,omitempty"`
	B         string `json:"b,omitempty"`
	Cost      uint32 `json:"cost,omitempty"`
	Down      bool   `json:"down,omitempty"`
	// Route is used by Inject.
	Route *config.Route `json:"route,omitempty"`
}

type RunResult struct {
	Dispatched int           `json:"dispatched"`
	Now        time.Duration `json:"now"`
	Remaining  int           `json:"remaining"`
}

type RoutesResult struct {
	Routes []sim.RouteInfo `json:"routes"`
}

type PeersResult struct {
	Peers []sim.PeerInfo `json:"peers"`
}

type LogResult struct {
	Path  string `json:"path"`
	Level int    `json:"level"`
}

// Server exposes a simulator over gRPC. Messages are plain structpb.Struct values.
type Server struct {
	sim       *sim.Simulator
	logConf   config.Log
	logger    log.Logger
	apiServer *grpc.Server
}

// NewServer registers the simulator service. logConf is reported to clients reading the logs.
func NewServer(s *sim.Simulator, logConf *config.Log, logger log.Logger) *Server {
	l := logger.With()
	l.SetProtocol("api")
	server := &Server{
		sim:    s,
		logger: l,
	}
	server.apiServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcprom.UnaryServerInterceptor,
			grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(server.recoverPanic)),
		),
	)
	if logConf != nil {
		server.logConf = *logConf
	}
	server.apiServer.RegisterService(&serviceDesc, server)
	grpcprom.Register(server.apiServer)
	return server
}

func (s *Server) recoverPanic(p any) error {
	s.logger.Err("API handler panicked: %v", p)
	return status.Errorf(codes.Internal, "%v", p)
}

// Serve blocks until the listener fails or the server stops.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("API server listens on %s", listener.Addr())
	return s.apiServer.Serve(listener)
}

// ListenAndServe serves on host:port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop() {
	s.apiServer.GracefulStop()
	s.logger.Info("API server stopped")
}

type serverApi interface {
	handle(ctx context.Context, method string, req *Request) (any, error)
}

type handlerFunc func(s *Server, req *Request) (any, error)

var handlers = map[string]handlerFunc{
	"Run":             (*Server).run,
	"BestRoutes":      (*Server).bestRoutes,
	"RibDump":         (*Server).ribDump,
	"AdjRibOut":       (*Server).adjRibOut,
	"Peers":           (*Server).peers,
	"Snapshot":        (*Server).snapshot,
	"StartSession":    (*Server).startSession,
	"StopSession":     (*Server).stopSession,
	"ExpireHoldTimer": (*Server).expireHoldTimer,
	"Originate":       (*Server).originate,
	"WithdrawOrigin":  (*Server).withdrawOrigin,
	"Inject":          (*Server).inject,
	"SetLinkCost":     (*Server).setLinkCost,
	"SetLinkState":    (*Server).setLinkState,
	"Rescan":          (*Server).rescan,
	"LogPath":         (*Server).logPath,
}

func (s *Server) handle(ctx context.Context, method string, req *Request) (any, error) {
	h, ok := handlers[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	res, err := h(s, req)
	if err != nil {
		s.logger.Warn("%s failed: %s", method, err)
		return nil, toStatus(err)
	}
	return res, nil
}

func toStatus(err error) error {
	var confErr *bgp.ConfigError
	switch {
	case errors.Is(err, sim.ErrRouterNotFound), errors.Is(err, bgp.ErrPeerNotFound),
		errors.Is(err, network.ErrLinkNotFound), errors.Is(err, network.ErrNodeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &confErr), errors.Is(err, bgp.ErrInvalidPrefix), errors.Is(err, errInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, sched.ErrPlanSealed), errors.Is(err, sim.ErrNoNetwork):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var errInvalidArgument = errors.New("invalid argument")

func parseAddr(name, s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %s", errInvalidArgument, name, err)
	}
	return addr, nil
}

func (r *Request) router() (netip.Addr, error) {
	return parseAddr("router", r.Router)
}

func (r *Request) routerPeer() (netip.Addr, netip.Addr, error) {
	router, err := r.router()
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}
	peer, err := parseAddr("peer", r.Peer)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}
	return router, peer, nil
}

func (r *Request) prefix(optional bool) (netip.Prefix, error) {
	if r.Prefix == "" && optional {
		return netip.Prefix{}, nil
	}
	prefix, err := netip.ParsePrefix(r.Prefix)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: prefix: %s", errInvalidArgument, err)
	}
	return prefix, nil
}

func (s *Server) run(req *Request) (any, error) {
	conds := []sched.StopCondition{}
	if req.Until != "" {
		d, err := time.ParseDuration(req.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: until: %s", errInvalidArgument, err)
		}
		conds = append(conds, sched.AtTime(s.sim.Now()+d))
	}
	if req.MaxEvents > 0 {
		conds = append(conds, sched.MaxEvents(req.MaxEvents))
	}
	var until sched.StopCondition
	if len(conds) > 0 {
		until = sched.Any(conds...)
	}
	stats, err := s.sim.Run(until)
	if err != nil {
		return nil, err
	}
	return &RunResult{Dispatched: stats.Dispatched, Now: stats.Now, Remaining: stats.Remaining}, nil
}

func (s *Server) bestRoutes(req *Request) (any, error) {
	router, err := req.router()
	if err != nil {
		return nil, err
	}
	routes, err := s.sim.BestRoutes(router)
	if err != nil {
		return nil, err
	}
	return &RoutesResult{Routes: routes}, nil
}

func (s *Server) ribDump(req *Request) (any, error) {
	router, err := req.router()
	if err != nil {
		return nil, err
	}
	prefix, err := req.prefix(true)
	if err != nil {
		return nil, err
	}
	routes, err := s.sim.RibDump(router, prefix)
	if err != nil {
		return nil, err
	}
	return &RoutesResult{Routes: routes}, nil
}

func (s *Server) adjRibOut(req *Request) (any, error) {
	router, peer, err := req.routerPeer()
	if err != nil {
		return nil, err
	}
	routes, err := s.sim.AdjRibOut(router, peer)
	if err != nil {
		return nil, err
	}
	return &RoutesResult{Routes: routes}, nil
}

func (s *Server) peers(req *Request) (any, error) {
	router, err := req.router()
	if err != nil {
		return nil, err
	}
	peers, err := s.sim.Peers(router)
	if err != nil {
		return nil, err
	}
	return &PeersResult{Peers: peers}, nil
}

func (s *Server) snapshot(_ *Request) (any, error) {
	return s.sim.Snapshot()
}

func (s *Server) startSession(req *Request) (any, error) {
	router, peer, err := req.routerPeer()
	if err != nil {
		return nil, err
	}
	return nil, s.sim.StartSession(router, peer)
}

func (s *Server) stopSession(req *Request) (any, error) {
	router, peer, err := req.routerPeer()
	if err != nil {
		return nil, err
	}
	return nil, s.sim.StopSession(router, peer)
}

func (s *Server) expireHoldTimer(req *Request) (any, error) {
	router, peer, err := req.routerPeer()
	if err != nil {
		return nil, err
	}
	return nil, s.sim.ExpireHoldTimer(router, peer)
}

func (s *Server) originate(req *Request) (any, error) {
	router, err := req.router()
	if err != nil {
		return nil, err
	}
	prefix, err := req.prefix(false)
	if err != nil {
		return nil, err
	}
	return nil, s.sim.Originate(router, prefix)
}

func (s *Server) withdrawOrigin(req *Request) (any, error) {
	router, err := req.router()
	if err != nil {
		return nil, err
	}
	prefix, err := req.prefix(false)
	if err != nil {
		return nil, err
	}
	return nil, s.sim.WithdrawOrigin(router, prefix)
}

func (s *Server) inject(req *Request) (any, error) {
	if req.Route == nil {
		return nil, fmt.Errorf("%w: route is required", errInvalidArgument)
	}
	return nil, s.sim.InjectRoute(*req.Route)
}

func (s *Server) setLinkCost(req *Request) (any, error) {
	a, err := parseAddr("a", req.A)
	if err != nil {
		return nil, err
	}
	b, err := parseAddr("b", req.B)
	if err != nil {
		return nil, err
	}
	return nil, s.sim.SetLinkCost(a, b, req.Cost)
}

func (s *Server) setLinkState(req *Request) (any, error) {
	a, err := parseAddr("a", req.A)
	if err != nil {
		return nil, err
	}
	b, err := parseAddr("b", req.B)
	if err != nil {
		return nil, err
	}
	return nil, s.sim.SetLinkState(a, b, !req.Down)
}

func (s *Server) rescan(req *Request) (any, error) {
	var router netip.Addr
	if req.Router != "" {
		var err error
		if router, err = req.router(); err != nil {
			return nil, err
		}
	}
	return nil, s.sim.Rescan(router)
}

func (s *Server) logPath(_ *Request) (any, error) {
	return &LogResult{Path: s.logConf.Out, Level: s.logConf.Level}, nil
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func commandHandler(method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				r := &Request{}
				if err := fromStruct(req.(*structpb.Struct), r); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				res, err := srv.(serverApi).handle(ctx, method, r)
				if err != nil {
					return nil, err
				}
				out, err := toStruct(res)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return out, nil
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/%s", SERVICE_NAME, method)}
			return interceptor(ctx, in, info, h)
		},
	}
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := func(context.Context, any) (any, error) {
		return &emptypb.Empty{}, nil
	}
	if interceptor == nil {
		return h(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/Health", SERVICE_NAME)}
	return interceptor(ctx, in, info, h)
}

var serviceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: SERVICE_NAME,
		HandlerType: (*serverApi)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "Health", Handler: healthHandler}},
		Streams:     []grpc.StreamDesc{},
		Metadata:    "bgpsim/api.proto",
	}
	for _, method := range methodNames() {
		desc.Methods = append(desc.Methods, commandHandler(method))
	}
	return desc
}()

func methodNames() []string {
	return []string{
		"Run", "BestRoutes", "RibDump", "AdjRibOut", "Peers", "Snapshot",
		"StartSession", "StopSession", "ExpireHoldTimer", "Originate", "WithdrawOrigin",
		"Inject", "SetLinkCost", "SetLinkState", "Rescan", "LogPath",
	}
}
