package authctl

import (
	"context"
	"strings"
	"time"

	gs "github.com/dmitrijs2005/gophauth/internal/server/grpc"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending schema migrations to the configured database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println("Running migrations...")
			_, repos, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer repos.Close()

			cmd.Println("Migrations completed successfully")
			return nil
		},
	}
}

func newCreateAdminCmd(opts *options) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a verified admin account",
		Long: `Create an active, verified account holding the admin and user roles.
If the account already exists it keeps its password and gains the roles.
The password is prompted for, or read from stdin when it is not a terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, repos, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer repos.Close()

			password, err := getPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			view, created, err := adminService(cfg, repos, cmd.ErrOrStderr()).CreateAdmin(cmd.Context(), email, password)
			if err != nil {
				return oops.With("email", email).Wrap(err)
			}
			if created {
				cmd.Printf("Created admin %s (id %d)\n", view.Email, view.ID)
			} else {
				cmd.Printf("Granted admin to existing user %s (id %d), roles: %s\n", view.Email, view.ID, strings.Join(view.Roles, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newGrantRoleCmd(opts *options) *cobra.Command {
	var email, role string

	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role to an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, repos, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer repos.Close()

			view, err := adminService(cfg, repos, cmd.ErrOrStderr()).GrantRole(cmd.Context(), email, role)
			if err != nil {
				return oops.With("email", email, "role", role).Wrap(err)
			}
			cmd.Printf("%s roles: %s\n", view.Email, strings.Join(view.Roles, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email address")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// dial is a test seam for connecting to a running server.
var dial = func(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
}

func newPingCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a GophAuth server answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial(addr)
			if err != nil {
				return oops.With("addr", addr).Wrap(err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := gs.NewClient(conn).Ping(ctx)
			if err != nil {
				return oops.With("addr", addr).Wrap(err)
			}
			cmd.Println(status)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "server gRPC address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
