package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/mail"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Abc12345!"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeMailer struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (f *fakeMailer) Enqueue(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeMailer) lastToken(t *testing.T, kind mail.Kind) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].Kind == kind {
			return f.msgs[i].Token
		}
	}
	t.Fatalf("no %s message sent", kind)
	return ""
}

type rpcCounts struct {
	mu  sync.Mutex
	got map[string]int
}

func (r *rpcCounts) RPC(method, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = map[string]int{}
	}
	r.got[method+" "+code]++
}

func (r *rpcCounts) count(method, code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[FullMethod(method)+" "+code]
}

type env struct {
	client *Client
	mailer *fakeMailer
	admin  *services.AdminService
	rpcs   *rpcCounts
}

// newEnv serves the real services over an in-memory connection.
func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = testSecret

	logger := discardLogger()
	repos := memory.NewRepositoryManager()
	codec, err := auth.NewTokenCodec(auth.KeyConfig{Secret: cfg.SecretKey})
	require.NoError(t, err)
	hasher := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, SaltLen: 8, KeyLen: 16})

	e := &env{mailer: &fakeMailer{}, rpcs: &rpcCounts{}}
	flows := services.NewOneTimeFlowService(repos, codec, hasher, e.mailer, cfg, logger)
	sessions := services.NewAuthSessionService(repos, codec, hasher, flows, cfg, logger)
	e.admin = services.NewAdminService(repos, hasher, cfg, logger)

	s := NewGRPCServer("bufnet", logger, sessions, flows, e.admin, e.rpcs)
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		require.NoError(t, <-done)
	})

	e.client = NewClient(conn)
	return e
}

func (e *env) register(t *testing.T, email string) map[string]any {
	t.Helper()
	resp, err := e.client.Call(context.Background(), "Register", map[string]any{
		"email": email, "password": testPassword, "first_name": "Ada",
	})
	require.NoError(t, err)
	return resp
}

func (e *env) login(t *testing.T, email, password string) map[string]any {
	t.Helper()
	resp, err := e.client.Call(context.Background(), "Login", map[string]any{
		"email": email, "password": password,
	})
	require.NoError(t, err)
	return resp
}
