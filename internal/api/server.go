// Package api exposes the backtest engine over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/events"
)

const shutdownTimeout = 10 * time.Second

// StrategyLister enumerates the strategies clients may run.
type StrategyLister interface {
	Strategies() []domain.Strategy
}

// Server hosts the BacktestService.
type Server struct {
	engine     *engine.Engine
	strategies StrategyLister
	bus        *events.Bus
	log        *slog.Logger

	grpc *grpc.Server

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewServer creates a Server. bus may be nil, in which case WatchBacktests
// is unavailable.
func NewServer(eng *engine.Engine, strategies StrategyLister, bus *events.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:     eng,
		strategies: strategies,
		bus:        bus,
		log:        log.With("component", "api"),
		bgCtx:      ctx,
		bgCancel:   cancel,
	}
	s.grpc = grpc.NewServer()
	s.RegisterGRPC(s.grpc)
	reflection.Register(s.grpc)
	return s
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs grpc.ServiceRegistrar) {
	RegisterBacktestServer(gs, s)
}

// Serve accepts connections on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.Shutdown(stopCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting RPCs, cancels background runs and waits for
// them to record their final status, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		s.bgCancel()
		s.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

func (s *Server) executeAsync(runID string) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if _, err := s.engine.Execute(s.bgCtx, runID); err != nil {
			s.log.Warn("backtest failed", "run", runID, "error", err)
		}
	}()
}
