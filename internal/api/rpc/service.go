// Package rpc exposes the engine status and a rescan over gRPC. Messages use
// the protobuf well-known types, so no generated code is needed.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/PortExtender/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "pex.v1.PortExtender"

// Engine is the part of the configuration engine the service needs.
type Engine interface {
	Status() types.StatusReport
	Config() types.PexConfiguration
	Scan(ctx context.Context, busID int, full bool) ([]uint8, error)
}

// PortExtenderServer is the server API of pex.v1.PortExtender.
type PortExtenderServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Rescan(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PortExtenderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "Rescan", Handler: rescanHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pex/v1/port_extender.proto",
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PortExtenderServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PortExtenderServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func rescanHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PortExtenderServer).Rescan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Rescan"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PortExtenderServer).Rescan(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Service implements PortExtenderServer on top of the engine.
type Service struct {
	engine Engine
	logger *zap.Logger
}

func NewService(engine Engine, logger *zap.Logger) *Service {
	return &Service{engine: engine, logger: logger}
}

func (s *Service) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.engine.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// Rescan takes {"bus_id": n, "full": bool}; both are optional.
func (s *Service) Rescan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	busID := s.engine.Config().DefaultBusID
	full := false

	if v, ok := req.GetFields()["bus_id"]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || n.NumberValue != float64(int(n.NumberValue)) {
			return nil, status.Error(codes.InvalidArgument, "bus_id must be an integer")
		}
		busID = int(n.NumberValue)
	}
	if v, ok := req.GetFields()["full"]; ok {
		full = v.GetBoolValue()
	}

	found, err := s.engine.Scan(ctx, busID, full)
	if err != nil {
		s.logger.Warn("gRPC rescan failed", zap.Int("bus_id", busID), zap.Error(err))
		return nil, status.Errorf(codes.Unavailable, "scan bus %d: %v", busID, err)
	}

	addrs := make([]interface{}, len(found))
	for i, a := range found {
		addrs[i] = fmt.Sprintf("0x%02X", a)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"bus_id":    busID,
		"full":      full,
		"addresses": addrs,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode scan result: %v", err)
	}
	return out, nil
}

// toStruct goes through JSON so the field names match the REST and
// websocket payloads.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Client is a thin caller for pex.v1.PortExtender. The token is sent as
// bearer authorization on every call.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) withToken(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.withToken(ctx), "/"+ServiceName+"/GetStatus", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Rescan(ctx context.Context, busID int, full bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"bus_id": busID, "full": full})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.withToken(ctx), "/"+ServiceName+"/Rescan", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
