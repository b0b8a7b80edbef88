// Package server wires the auth components together and runs the gRPC
// endpoint, the metrics and health endpoint and the background jobs until
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/mail"
	"github.com/dmitrijs2005/gophauth/internal/server/observability"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/dmitrijs2005/gophauth/internal/timex"

	gs "github.com/dmitrijs2005/gophauth/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config     *config.Config
	logger     logging.Logger
	now        timex.Clock
	repos      repomanager.RepositoryManager
	dispatcher *mail.Dispatcher
	closeMail  func() error
	metrics    *observability.Metrics
	obs        *observability.Server
	grpc       *gs.GRPCServer
}

// NewApp validates key material, opens storage and builds every component.
// A weak or unreadable signing key fails here, before anything listens.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	codec, err := auth.NewTokenCodec(auth.KeyConfig{
		Algorithm:      c.SigningAlgorithm,
		Secret:         c.SecretKey,
		PrivateKeyPath: c.PrivateKeyPath,
		PublicKeyPath:  c.PublicKeyPath,
		Issuer:         c.TokenIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	repos, err := openRepositories(ctx, c)
	if err != nil {
		return nil, err
	}

	sender, closeMail, err := newMailSender(ctx, c, logger)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	app := &App{
		config:     c,
		logger:     logger.With("module", "app"),
		now:        timex.UTCNow,
		repos:      repos,
		dispatcher: mail.NewDispatcher(sender, logger, mail.DefaultQueueSize, mail.DefaultSendTimeout),
		closeMail:  closeMail,
	}

	app.obs = observability.NewServer(c.MetricsAddr, repos.Ping, logger)
	app.metrics = app.obs.Metrics()

	opts := []services.Option{
		services.WithRecorder(app.metrics),
		services.WithTimeout(c.RequestTimeout),
	}
	hasher := auth.NewArgon2idHasher()
	mailer := &countingMailer{Dispatcher: app.dispatcher, metrics: app.metrics}

	flows := services.NewOneTimeFlowService(repos, codec, hasher, mailer, c, logger, opts...)
	sessions := services.NewAuthSessionService(repos, codec, hasher, flows, c, logger, opts...)
	admin := services.NewAdminService(repos, hasher, c, logger, opts...)

	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, logger, sessions, flows, admin, app.metrics)

	return app, nil
}

// openRepositories connects the configured storage and brings its schema
// up to date.
func openRepositories(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.Storage {
	case config.StorageMemory:
		return memory.NewRepositoryManager(), nil
	case config.StoragePostgres:
		db, err := repomanager.OpenPostgres(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		repos := repomanager.NewPostgresRepositoryManager(db)
		if err := repos.RunMigrations(ctx); err != nil {
			_ = repos.Close()
			return nil, fmt.Errorf("db migrations: %w", err)
		}
		return repos, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

// newMailSender builds the configured delivery backend and its cleanup.
func newMailSender(ctx context.Context, c *config.Config, logger logging.Logger) (mail.Sender, func() error, error) {
	noop := func() error { return nil }

	switch c.MailBackend {
	case config.MailConsole, "":
		return mail.NewConsoleSender(logger), noop, nil
	case config.MailFile:
		return mail.NewFileSender(c.MailFilePath), noop, nil
	case config.MailSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			User:     c.SMTPUser,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
		}), noop, nil
	case config.MailAMQP:
		s := mail.NewAMQPSender(c.AMQPURL, c.AMQPQueue)
		return s, s.Close, nil
	case config.MailS3:
		s, err := mail.NewS3Sender(ctx, mail.S3Config{
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown mail backend %q", c.MailBackend)
	}
}

// countingMailer counts messages the dispatcher refused.
type countingMailer struct {
	*mail.Dispatcher
	metrics *observability.Metrics
}

func (m *countingMailer) Enqueue(ctx context.Context, msg mail.Message) error {
	err := m.Dispatcher.Enqueue(ctx, msg)
	if err != nil {
		m.metrics.MailDropped.Inc()
	}
	return err
}

// pruneExpired deletes refresh token records that can no longer be used.
func (app *App) pruneExpired(ctx context.Context) {
	n, err := app.repos.RefreshTokens(app.repos.DB()).DeleteExpired(ctx, app.now())
	if err != nil {
		app.logger.Warn(ctx, "refresh token pruning failed", "error", err)
		return
	}
	app.metrics.TokensPruned.Add(float64(n))
	if n > 0 {
		app.logger.Info(ctx, "expired refresh tokens pruned", "count", n)
	}
}

func (app *App) runJanitor(ctx context.Context) {
	if app.config.PruneInterval <= 0 {
		return
	}
	ticker := time.NewTicker(app.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.pruneExpired(ctx)
		}
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
		return err
	}
	return nil
}

// Run serves until ctx is canceled, a termination signal arrives or a
// listener fails, then shuts everything down.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	obsErr, err := app.obs.Start()
	if err != nil {
		app.shutdown()
		return err
	}

	var (
		wg       sync.WaitGroup
		grpcErr  error
		serveErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		grpcErr = app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runJanitor(ctx)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case err, ok := <-obsErr:
			if ok && err != nil {
				serveErr = err
				cancelFunc()
			}
		}
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "Stopping app...")

	return errors.Join(grpcErr, serveErr, app.shutdown())
}

func (app *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return errors.Join(
		app.obs.Stop(ctx),
		app.dispatcher.Close(ctx),
		app.closeMail(),
		app.repos.Close(),
	)
}
