// Package grpc exposes the credential services as gophauth.v1.AuthService.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type sessionSvc interface {
	Register(ctx context.Context, email, password string, profile models.Profile) (*models.UserView, error)
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID int64) error
	ChangePassword(ctx context.Context, userID int64, current, next string) error
	Authenticate(accessToken string) (*services.Principal, error)
	Me(ctx context.Context, userID int64) (*models.UserView, error)
}

type flowSvc interface {
	ConsumeEmailVerification(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConsumePasswordReset(ctx context.Context, token, newPassword string) error
}

type adminSvc interface {
	ListUsers(ctx context.Context, offset, limit int) ([]*models.UserView, error)
	SetActive(ctx context.Context, userID int64, active bool) error
	SetRoles(ctx context.Context, userID int64, roles []string) (*models.UserView, error)
	VerifyUser(ctx context.Context, userID int64) error
	ListRoles(ctx context.Context) ([]string, error)
}

// RPCRecorder counts finished calls by method and status code.
type RPCRecorder interface {
	RPC(method, code string)
}

type nopRPCRecorder struct{}

func (nopRPCRecorder) RPC(string, string) {}

type GRPCServer struct {
	address  string
	sessions sessionSvc
	flows    flowSvc
	admin    adminSvc
	logger   logging.Logger
	rpcs     RPCRecorder
	health   *health.Server
}

// NewGRPCServer wires the services into a server listening on address.
// A nil recorder disables call counting.
func NewGRPCServer(address string, l logging.Logger, sessions sessionSvc, flows flowSvc, admin adminSvc, rpcs RPCRecorder) *GRPCServer {
	if rpcs == nil {
		rpcs = nopRPCRecorder{}
	}
	return &GRPCServer{
		address:  address,
		logger:   l.With("module", "grpc_server"),
		sessions: sessions,
		flows:    flows,
		admin:    admin,
		rpcs:     rpcs,
		health:   health.NewServer(),
	}
}

// NewServer builds a *grpc.Server with the interceptors, AuthService and
// the health service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(s.observeInterceptor, s.accessTokenInterceptor),
	)
	srv := grpc.NewServer(opts...)
	Register(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// Serve accepts connections on listen until ctx is canceled, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.NewServer()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	err := srv.Serve(listen)
	cancel()
	<-stopped
	return err
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}
