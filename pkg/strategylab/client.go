// Package strategylab is a Go client for the strategylab-server gRPC API.
package strategylab

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"strategylab/internal/api"
	"strategylab/internal/domain"
	"strategylab/internal/events"
)

// Request and reply types, re-exported for callers.
type (
	SubmitRequest = api.SubmitBacktestRequest
	BacktestReply = api.BacktestReply
	Event         = events.Event
)

// Client provides a Go SDK for interacting with the strategylab-server API.
type Client struct {
	target string
	conn   *grpc.ClientConn
}

// NewClient creates a client for the server at target ("host:port"). Extra
// dial options are appended to the insecure transport default.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return &Client{target: target, conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	in, err := api.ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return api.FromStruct(out, reply)
}

// Submit creates a backtest run. With req.Wait the reply includes the
// result.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*BacktestReply, error) {
	var reply BacktestReply
	if err := c.invoke(ctx, api.MethodSubmitBacktest, req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Get fetches a run and, once completed, its result.
func (c *Client) Get(ctx context.Context, runID string) (*BacktestReply, error) {
	var reply BacktestReply
	if err := c.invoke(ctx, api.MethodGetBacktest, api.GetBacktestRequest{RunID: runID}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// List returns recent runs, optionally for one strategy.
func (c *Client) List(ctx context.Context, strategyID string, limit int) ([]domain.BacktestRun, error) {
	var reply api.ListBacktestsReply
	err := c.invoke(ctx, api.MethodListBacktests, api.ListBacktestsRequest{StrategyID: strategyID, Limit: limit}, &reply)
	return reply.Runs, err
}

// Strategies lists the strategies the server can run.
func (c *Client) Strategies(ctx context.Context) ([]domain.Strategy, error) {
	var reply api.ListStrategiesReply
	err := c.invoke(ctx, api.MethodListStrategies, struct{}{}, &reply)
	return reply.Strategies, err
}

// Watch streams lifecycle events to fn until the stream ends, ctx is
// cancelled or fn returns false. An empty runID watches every run; otherwise
// the stream ends after the run's terminal event.
func (c *Client) Watch(ctx context.Context, runID string, fn func(Event) bool) error {
	desc := &grpc.StreamDesc{StreamName: "WatchBacktests", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, api.MethodWatchBacktests)
	if err != nil {
		return err
	}
	in, err := api.ToStruct(api.WatchBacktestsRequest{RunID: runID})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var e Event
		if err := api.FromStruct(out, &e); err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
}
