// Package health exposes the standard gRPC health service so supervisors can
// tell whether the live camera source is up.
package health

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StreamService is SERVING while the live source is open.
const StreamService = "tankwatch.stream"

// Server is a gRPC server carrying only the health service.
type Server struct {
	listenAddr string
	server     *grpc.Server
	health     *health.Server
	listener   net.Listener
	running    atomic.Bool
	wg         sync.WaitGroup
}

// NewServer creates a server for listenAddr. The stream service starts
// NOT_SERVING; the process itself reports SERVING.
func NewServer(listenAddr string) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(StreamService, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{listenAddr: listenAddr, server: gs, health: hs}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[health] gRPC health service listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SetStreamServing records whether the live source is open. It matches the
// producer's source-change callback.
func (s *Server) SetStreamServing(live bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if live {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(StreamService, status)
}

// Stop drains watchers and stops the server.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	log.Printf("[health] gRPC server stopped")
}
