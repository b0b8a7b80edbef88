package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/mail"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Abc12345!"
	newPassword  = "Xyz98765?"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeMailer struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (f *fakeMailer) Enqueue(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeMailer) last(t *testing.T, kind mail.Kind) mail.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].Kind == kind {
			return f.msgs[i]
		}
	}
	t.Fatalf("no %s message sent", kind)
	return mail.Message{}
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

// countingHasher records how often Verify runs so tests can check the
// dummy comparison on unknown users.
type countingHasher struct {
	auth.PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(plaintext, hash string) bool {
	h.verifies.Add(1)
	return h.PasswordHasher.Verify(plaintext, hash)
}

// gatedHasher parks every Verify until gate is closed, so tests can line
// up concurrent logins behind the lockout check.
type gatedHasher struct {
	auth.PasswordHasher
	gate    chan struct{}
	entered atomic.Int32
}

func (h *gatedHasher) Verify(plaintext, hash string) bool {
	h.entered.Add(1)
	<-h.gate
	return h.PasswordHasher.Verify(plaintext, hash)
}

type outcomes struct {
	mu  sync.Mutex
	got map[string][]string
}

func (o *outcomes) Outcome(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.got == nil {
		o.got = map[string][]string{}
	}
	o.got[op] = append(o.got[op], outcome)
}

func (o *outcomes) of(op string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.got[op]...)
}

type env struct {
	cfg      *config.Config
	repos    repomanager.RepositoryManager
	codec    *auth.TokenCodec
	hasher   *countingHasher
	mailer   *fakeMailer
	clock    *testClock
	outcomes *outcomes
	session  *AuthSessionService
	flows    *OneTimeFlowService
	admin    *AdminService
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = testSecret
	return cfg
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	return newEnvWith(t, cfg, memory.NewRepositoryManager())
}

func newEnvWith(t *testing.T, cfg *config.Config, repos repomanager.RepositoryManager) *env {
	t.Helper()

	codec, err := auth.NewTokenCodec(auth.KeyConfig{Secret: cfg.SecretKey})
	require.NoError(t, err)

	e := &env{
		cfg:      cfg,
		repos:    repos,
		codec:    codec,
		hasher:   &countingHasher{PasswordHasher: auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, SaltLen: 8, KeyLen: 16})},
		mailer:   &fakeMailer{},
		clock:    newTestClock(),
		outcomes: &outcomes{},
	}
	opts := []Option{WithClock(e.clock.Now), WithRecorder(e.outcomes)}

	logger := discardLogger()
	e.flows = NewOneTimeFlowService(repos, codec, e.hasher, e.mailer, cfg, logger, opts...)
	e.session = NewAuthSessionService(repos, codec, e.hasher, e.flows, cfg, logger, opts...)
	e.admin = NewAdminService(repos, e.hasher, cfg, logger, opts...)
	return e
}
