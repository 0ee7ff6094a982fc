package api

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lbartoszcze/autolife/internal/gate"
	"github.com/lbartoszcze/autolife/internal/orchestrator"
)

// #endregion

// #region service-desc

// DeciderService is the gRPC service name. Requests and responses are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
const DeciderService = "nudge.v1.Decider"

const decideMethod = "/" + DeciderService + "/Decide"

type deciderServer interface {
	decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var deciderServiceDesc = grpc.ServiceDesc{
	ServiceName: DeciderService,
	HandlerType: (*deciderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nudge/v1/decider.proto",
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deciderServer).decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(deciderServer).decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion

// #region server

// GRPCServer serves Decide and the standard health service.
type GRPCServer struct {
	decider Decider
	limits  gate.Limits
	logger  *zap.Logger
	server  *grpc.Server
	health  *health.Server
}

func NewGRPCServer(d Decider, limits gate.Limits, logger *zap.Logger, opts ...grpc.ServerOption) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GRPCServer{
		decider: d,
		limits:  limits,
		logger:  logger.Named("grpc"),
		server:  grpc.NewServer(opts...),
		health:  health.NewServer(),
	}
	g.server.RegisterService(&deciderServiceDesc, g)
	healthpb.RegisterHealthServer(g.server, g.health)
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(DeciderService, healthpb.HealthCheckResponse_SERVING)
	return g
}

// Serve blocks serving lis until Stop.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.logger.Info("starting gRPC API", zap.String("addr", lis.Addr().String()))
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the service not serving and drains in-flight calls.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

func (g *GRPCServer) decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body DecideRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	req, err := body.Resolve(g.limits)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	dec, err := g.decider.Decide(ctx, req)
	if err != nil {
		g.logger.Error("decide failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "decision pipeline failed")
	}
	out, err := toStruct(dec)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode decision: %v", err)
	}
	return out, nil
}

// #endregion

// #region client

// Client calls a remote Decider over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a Decider at addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Decide sends req and decodes the Decision.
func (c *Client) Decide(ctx context.Context, req DecideRequest) (orchestrator.Decision, error) {
	in, err := toStruct(req)
	if err != nil {
		return orchestrator.Decision{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, decideMethod, in, out); err != nil {
		return orchestrator.Decision{}, fmt.Errorf("decide rpc: %w", err)
	}
	var dec orchestrator.Decision
	if err := fromStruct(out, &dec); err != nil {
		return orchestrator.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return dec, nil
}

// Health checks the remote Decider's serving status.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: DeciderService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health rpc: %w", err)
	}
	return resp.GetStatus(), nil
}

// #endregion

// #region struct-codec

// toStruct goes through encoding/json so JSON tags define the field names.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes via AsMap and encoding/json. Struct numbers are doubles;
// encoding/json prints integral doubles below 1e21 without an exponent, so
// epoch-ms timestamps decode back into int64 fields.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// #endregion
