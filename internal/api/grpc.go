package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"strategylab/internal/domain"
	"strategylab/internal/events"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "strategylab.v1.BacktestService"

// Full method names, as used by clients.
const (
	MethodSubmitBacktest = "/" + ServiceName + "/SubmitBacktest"
	MethodGetBacktest    = "/" + ServiceName + "/GetBacktest"
	MethodListBacktests  = "/" + ServiceName + "/ListBacktests"
	MethodListStrategies = "/" + ServiceName + "/ListStrategies"
	MethodWatchBacktests = "/" + ServiceName + "/WatchBacktests"
)

// ---------------------------------------------------------------------------
// Wire messages
// ---------------------------------------------------------------------------

// Every message travels as a google.protobuf.Struct holding the JSON form of
// the types below.

// SubmitBacktestRequest asks the server to create and run a backtest. Dates
// are "2006-01-02" or RFC 3339.
type SubmitBacktestRequest struct {
	StrategyID     string   `json:"strategy_id"`
	Symbols        []string `json:"symbols,omitempty"`
	Timeframe      string   `json:"timeframe,omitempty"`
	Start          string   `json:"start,omitempty"`
	End            string   `json:"end,omitempty"`
	InitialCapital float64  `json:"initial_capital"`
	// Wait blocks until the run finishes and returns its result.
	Wait bool `json:"wait,omitempty"`
}

// GetBacktestRequest identifies a run.
type GetBacktestRequest struct {
	RunID string `json:"run_id"`
}

// BacktestReply carries a run and, once completed, its result.
type BacktestReply struct {
	Run    *domain.BacktestRun    `json:"run"`
	Result *domain.BacktestResult `json:"result,omitempty"`
}

// ListBacktestsRequest filters the run listing.
type ListBacktestsRequest struct {
	StrategyID string `json:"strategy_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ListBacktestsReply lists runs, newest first.
type ListBacktestsReply struct {
	Runs []domain.BacktestRun `json:"runs"`
}

// ListStrategiesReply lists registered strategies.
type ListStrategiesReply struct {
	Strategies []domain.Strategy `json:"strategies"`
}

// WatchBacktestsRequest subscribes to lifecycle events, optionally for one
// run only.
type WatchBacktestsRequest struct {
	RunID string `json:"run_id,omitempty"`
}

// WatchBacktestsEvent is one streamed message.
type WatchBacktestsEvent = events.Event

// ToStruct encodes v through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON form. A nil s leaves v
// untouched.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

// BacktestServer is the server API of ServiceName.
type BacktestServer interface {
	SubmitBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBacktests(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchBacktests(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterBacktestServer registers srv on s.
func RegisterBacktestServer(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BacktestServer).WatchBacktests(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitBacktest", Handler: unaryHandler(MethodSubmitBacktest, BacktestServer.SubmitBacktest)},
		{MethodName: "GetBacktest", Handler: unaryHandler(MethodGetBacktest, BacktestServer.GetBacktest)},
		{MethodName: "ListBacktests", Handler: unaryHandler(MethodListBacktests, BacktestServer.ListBacktests)},
		{MethodName: "ListStrategies", Handler: unaryHandler(MethodListStrategies, BacktestServer.ListStrategies)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchBacktests", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "strategylab/v1/backtest.proto",
}
