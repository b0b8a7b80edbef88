package authctl

import (
	"context"
	"io"
	"log/slog"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// openRepositories is a test seam; tests swap in the memory manager.
var openRepositories = func(ctx context.Context, cfg *config.Config) (repomanager.RepositoryManager, error) {
	if cfg.Storage == config.StorageMemory {
		return memory.NewRepositoryManager(), nil
	}
	db, err := repomanager.OpenPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return repomanager.NewPostgresRepositoryManager(db), nil
}

type options struct {
	configFile string
	dsn        string
}

// NewRootCmd creates the authctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "GophAuth operator tool",
		Long:          `authctl manages the GophAuth database: migrations, admin accounts and roles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "JSON config file")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (overrides GOPHAUTH_DATABASE_DSN)")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newCreateAdminCmd(opts))
	cmd.AddCommand(newGrantRoleCmd(opts))
	cmd.AddCommand(newPingCmd())

	return cmd
}

func (o *options) config() (*config.Config, error) {
	cfg, err := config.LoadToolConfig(o.configFile)
	if err != nil {
		return nil, oops.Code("config_invalid").Wrap(err)
	}
	if o.dsn != "" {
		cfg.DatabaseDSN = o.dsn
		cfg.Storage = config.StoragePostgres
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open connects storage and applies pending migrations.
func (o *options) open(ctx context.Context) (*config.Config, repomanager.RepositoryManager, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, nil, oops.Code("db_connect_failed").With("operation", "connect to database").Wrap(err)
	}
	if err := repos.RunMigrations(ctx); err != nil {
		_ = repos.Close()
		return nil, nil, oops.Code("migration_failed").With("operation", "run migrations").Wrap(err)
	}
	return cfg, repos, nil
}

func adminService(cfg *config.Config, repos repomanager.RepositoryManager, w io.Writer) *services.AdminService {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn})))
	return services.NewAdminService(repos, auth.NewArgon2idHasher(), cfg, logger)
}
