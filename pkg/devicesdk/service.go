// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package devicesdk

import (
	"context"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service binary modules expose.
const ServiceName = "devicekit.module.v1.Module"

const (
	describeMethod = "/" + ServiceName + "/Describe"
	invokeMethod   = "/" + ServiceName + "/Invoke"
)

// Invoke request and response fields.
const (
	fieldSubdevice  = "subdevice"
	fieldFunction   = "function"
	fieldParams     = "params"
	fieldResult     = "result"
	fieldFunctions  = "functions"
	fieldSubdevices = "subdevices"
)

// moduleServer is the server side of the module service.
type moduleServer interface {
	Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*moduleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: describeHandler},
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "devicekit/module/v1/module.proto",
}

// RegisterServer registers m as the module service on s.
func RegisterServer(s grpc.ServiceRegistrar, m *Module) {
	s.RegisterService(&serviceDesc, &server{module: m})
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(moduleServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(moduleServer).Describe(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(moduleServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(moduleServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// server adapts a Module to the module service.
type server struct {
	module *Module
}

func (s *server) Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	desc := s.module.describe()
	subdevices := make(map[string]any, len(desc.Subdevices))
	for kind, names := range desc.Subdevices {
		subdevices[kind] = anyList(names)
	}
	return structpb.NewStruct(map[string]any{
		fieldFunctions:  anyList(desc.Functions),
		fieldSubdevices: subdevices,
	})
}

func (s *server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()
	subdevice, _ := fields[fieldSubdevice].(string)
	name, _ := fields[fieldFunction].(string)
	params, _ := fields[fieldParams].(map[string]any)

	fn, ok := s.module.lookup(subdevice, name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "function %s not implemented", name)
	}
	result, err := fn(ctx, params)
	if err != nil {
		return nil, status.Error(codes.Unknown, err.Error())
	}
	out, err := structpb.NewStruct(map[string]any{fieldResult: Plain(result)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result of %s: %v", name, err)
	}
	return out, nil
}

// Client calls a module service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Describe asks the module what it implements.
func (c *Client) Describe(ctx context.Context) (*Description, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, describeMethod, &emptypb.Empty{}, out); err != nil {
		return nil, oops.In("devicesdk").Wrapf(err, "describe module")
	}
	fields := out.AsMap()
	desc := &Description{
		Functions:  stringList(fields[fieldFunctions]),
		Subdevices: make(map[string][]string),
	}
	if subs, ok := fields[fieldSubdevices].(map[string]any); ok {
		for kind, names := range subs {
			desc.Subdevices[kind] = stringList(names)
		}
	}
	return desc, nil
}

// Invoke calls function name, on subdevice when set.
func (c *Client) Invoke(ctx context.Context, subdevice, name string, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	req, err := structpb.NewStruct(map[string]any{
		fieldSubdevice: subdevice,
		fieldFunction:  name,
		fieldParams:    Plain(params),
	})
	if err != nil {
		return nil, oops.In("devicesdk").With("function", name).Wrapf(err, "encode params")
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, invokeMethod, req, out); err != nil {
		if st, ok := status.FromError(err); ok {
			return nil, oops.In("devicesdk").With("function", name).With("grpc_code", st.Code().String()).Errorf("%s", st.Message())
		}
		return nil, oops.In("devicesdk").With("function", name).Wrapf(err, "invoke")
	}
	return out.AsMap()[fieldResult], nil
}

// Plain converts v into the JSON-like values a structpb.Value can carry.
// Signed integers become int64, unsigned ones uint64 and floats float64.
func Plain(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64, int64, uint64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return uint64(val)
	case uint32:
		return uint64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Plain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Plain(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Plain(item)
		}
		return out
	case []string:
		return anyList(val)
	default:
		return plainReflect(val)
	}
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
