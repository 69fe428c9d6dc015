package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/events"
)

// Compile-time interface check.
var _ BacktestServer = (*Server)(nil)

// SubmitBacktest creates a run. With wait set the run executes inline and
// the reply includes the result; otherwise it executes in the background.
func (s *Server) SubmitBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitBacktestRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.StrategyID == "" {
		return nil, status.Error(codes.InvalidArgument, "strategy_id is required")
	}
	start, err := parseDate(req.Start)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "start: %v", err)
	}
	end, err := parseDate(req.End)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "end: %v", err)
	}

	run, err := s.engine.Submit(ctx, engine.SubmitRequest{
		StrategyID:     req.StrategyID,
		Symbols:        req.Symbols,
		Timeframe:      req.Timeframe,
		Start:          start,
		End:            end,
		InitialCapital: req.InitialCapital,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	if !req.Wait {
		s.executeAsync(run.ID)
		return ToStruct(BacktestReply{Run: run})
	}

	if _, err := s.engine.Execute(ctx, run.ID); err != nil {
		s.log.Warn("backtest failed", "run", run.ID, "error", err)
	}
	return s.reply(ctx, run.ID)
}

// GetBacktest returns a run and its result when completed.
func (s *Server) GetBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetBacktestRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	return s.reply(ctx, req.RunID)
}

func (s *Server) reply(ctx context.Context, runID string) (*structpb.Struct, error) {
	run, res, err := s.engine.Get(ctx, runID)
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(BacktestReply{Run: run, Result: res})
}

// ListBacktests returns recent runs.
func (s *Server) ListBacktests(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListBacktestsRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	runs, err := s.engine.List(ctx, req.StrategyID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	if runs == nil {
		runs = []domain.BacktestRun{}
	}
	return ToStruct(ListBacktestsReply{Runs: runs})
}

// ListStrategies returns every registered strategy.
func (s *Server) ListStrategies(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return ToStruct(ListStrategiesReply{Strategies: s.strategies.Strategies()})
}

// WatchBacktests streams lifecycle events until the client disconnects.
func (s *Server) WatchBacktests(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req WatchBacktestsRequest
	if err := FromStruct(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if s.bus == nil {
		return status.Error(codes.Unavailable, "event stream not configured")
	}

	subID, ch := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(subID)
	s.log.Info("grpc client subscribed", "subID", subID, "run", req.RunID)

	// A single-run watch first replays that run's retained events, so a run
	// that finished before the subscription still ends the stream. Each
	// event type occurs once per run; sent dedupes the replay overlap.
	sent := make(map[string]bool)
	send := func(evt events.Event) (done bool, err error) {
		if req.RunID != "" {
			if evt.RunID != req.RunID || sent[evt.Type] {
				return false, nil
			}
			sent[evt.Type] = true
		}
		msg, err := ToStruct(evt)
		if err != nil {
			return false, status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(msg); err != nil {
			return false, err
		}
		return req.RunID != "" && isTerminal(evt.Type), nil
	}

	if req.RunID != "" {
		for _, evt := range s.bus.Recent(0) {
			if done, err := send(evt); done || err != nil {
				return err
			}
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if done, err := send(evt); done || err != nil {
				return err
			}
		}
	}
}

func isTerminal(eventType string) bool {
	return eventType == events.BacktestCompleted || eventType == events.BacktestFailed
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRule), errors.Is(err, domain.ErrUnknownIndicator):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// parseDate accepts "", "2006-01-02" or RFC 3339.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
