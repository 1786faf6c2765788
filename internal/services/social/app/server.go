// Package app wires the social runtime and gRPC lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/halcyon-games/social/internal/platform/config"
	"github.com/halcyon-games/social/internal/services/social/connection"
	"github.com/halcyon-games/social/internal/services/social/friends"
	"github.com/halcyon-games/social/internal/services/social/group"
	"github.com/halcyon-games/social/internal/services/social/login"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/names"
	"github.com/halcyon-games/social/internal/services/social/profilesvc"
	"github.com/halcyon-games/social/internal/services/social/providers"
	"github.com/halcyon-games/social/internal/services/social/request"
	"github.com/halcyon-games/social/internal/services/social/token"
	"github.com/halcyon-games/social/internal/services/social/storage/sqlite"
)

// requestSweepInterval is how often expired request-ledger rows are purged.
const requestSweepInterval = time.Hour

type serverEnv struct {
	DBPath     string `env:"HALCYON_SOCIAL_DB_PATH"`
	MessageURL string `env:"HALCYON_SOCIAL_MESSAGE_URL"`
	ProfileURL string `env:"HALCYON_SOCIAL_PROFILE_URL"`
	LoginURL   string `env:"HALCYON_SOCIAL_LOGIN_URL"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "social.db")
	}
	return cfg
}

// Engines groups the engines the social service exposes.
type Engines struct {
	Requests    *request.Engine
	Connections *connection.Engine
	Groups      *group.Engine
	Tokens      *token.Engine
	Names       *names.Engine
	Friends     *friends.Engine
	Providers   *providers.Registry
}

// Server hosts the social engines, the storage lifecycle and the gRPC
// health endpoint.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *sqlite.Store
	engines    Engines
}

// New creates a configured social server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured social server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srvEnv := loadServerEnv()
	store, err := openSocialStore(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	var sender message.Sender = message.NopSender{}
	if strings.TrimSpace(srvEnv.MessageURL) != "" {
		sender = message.NewClient(srvEnv.MessageURL)
	}
	var profiles profilesvc.Client
	if strings.TrimSpace(srvEnv.ProfileURL) != "" {
		profiles = profilesvc.NewCachedClient(profilesvc.NewHTTPClient(srvEnv.ProfileURL), 1024, 300*time.Second)
	}
	var keys login.KeySource
	if strings.TrimSpace(srvEnv.LoginURL) != "" {
		keys = login.NewClient(srvEnv.LoginURL)
	}

	requests := request.NewEngine(store)
	tokens := token.NewEngine(store)
	connections := connection.NewEngine(store, requests, sender, profiles)
	groups := group.NewEngine(store, requests, sender, profiles)
	nameRegistry := names.NewEngine(store, profiles)
	registry := providers.NewRegistry(
		providers.NewGoogle(tokens, keys, "", ""),
		providers.NewFacebook(tokens, ""),
		providers.NewVK(tokens, ""),
		providers.NewSteam(keys, ""),
		providers.NewMailRu(tokens, keys, ""),
	)
	aggregator := friends.NewEngine(tokens, registry, connections, profiles)

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		engines: Engines{
			Requests:    requests,
			Connections: connections,
			Groups:      groups,
			Tokens:      tokens,
			Names:       nameRegistry,
			Friends:     aggregator,
			Providers:   registry,
		},
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Engines returns the wired social engines.
func (s *Server) Engines() Engines {
	if s == nil {
		return Engines{}
	}
	return s.engines
}

// Run creates and serves a social server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server and the request-expiry sweeper until context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	go s.sweepExpiredRequests(ctx)

	log.Printf("social server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// sweepExpiredRequests purges the request ledger on a fixed interval.
func (s *Server) sweepExpiredRequests(ctx context.Context) {
	ticker := time.NewTicker(requestSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.engines.Requests.DeleteExpired(ctx)
			if err != nil {
				log.Printf("sweep expired requests: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("swept %d expired requests", removed)
			}
		}
	}
}

// Close releases social server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close social store: %v", err)
		}
	}
}

func openSocialStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open social sqlite store: %w", err)
	}
	return store, nil
}
