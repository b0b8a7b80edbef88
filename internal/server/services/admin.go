package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/samber/oops"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// AdminService manages accounts and roles. Callers are expected to have
// checked the admin role already.
type AdminService struct {
	repos  repomanager.RepositoryManager
	hasher auth.PasswordHasher
	logger logging.Logger

	options
}

func NewAdminService(repos repomanager.RepositoryManager, hasher auth.PasswordHasher, cfg *config.Config,
	logger logging.Logger, opts ...Option) *AdminService {
	return &AdminService{
		repos:   repos,
		hasher:  hasher,
		logger:  logger.With("module", "admin"),
		options: buildOptions(append([]Option{WithTimeout(cfg.RequestTimeout)}, opts...)),
	}
}

func invalidArgument(field, format string, args ...any) error {
	return oops.Code("validation").With("field", field).Wrapf(common.ErrValidation, format, args...)
}

func (s *AdminService) view(ctx context.Context, db dbx.DBTX, user *models.User) (*models.UserView, error) {
	roles, err := s.repos.Roles(db).ForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return user.View(roles), nil
}

// ListUsers pages through users ordered by id. A zero limit selects
// DefaultPageSize.
func (s *AdminService) ListUsers(ctx context.Context, offset, limit int) ([]*models.UserView, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	if offset < 0 {
		return nil, invalidArgument("offset", "offset must not be negative")
	}
	switch {
	case limit == 0:
		limit = DefaultPageSize
	case limit < 0 || limit > MaxPageSize:
		return nil, invalidArgument("limit", "limit must be between 1 and %d", MaxPageSize)
	}

	db := s.repos.DB()
	list, err := s.repos.Users(db).List(ctx, offset, limit)
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]*models.UserView, 0, len(list))
	for _, u := range list {
		v, err := s.view(ctx, db, u)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, v)
	}
	return out, nil
}

// SetActive enables or disables userID. Disabling also revokes all of the
// user's sessions.
func (s *AdminService) SetActive(ctx context.Context, userID int64, active bool) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	now := s.now()
	err := s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Users(tx).SetActive(ctx, userID, active, now); err != nil {
			return err
		}
		if active {
			return nil
		}
		_, err := s.repos.RefreshTokens(tx).RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return unavailable(err)
	}

	s.logger.Info(ctx, "user activation changed", "user_id", userID, "active", active)
	return nil
}

// SetRoles replaces the role set of userID. Every name must be a known
// role.
func (s *AdminService) SetRoles(ctx context.Context, userID int64, roles []string) (*models.UserView, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	var view *models.UserView
	err := s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		rolesRepo := s.repos.Roles(tx)
		for _, name := range roles {
			if _, err := rolesRepo.Find(ctx, name); err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					return invalidArgument("roles", "unknown role %q", name)
				}
				return err
			}
		}

		user, err := s.repos.Users(tx).FindByID(ctx, userID)
		if err != nil {
			return err
		}

		if err := rolesRepo.Detach(ctx, userID); err != nil {
			return err
		}
		for _, name := range roles {
			if err := rolesRepo.Attach(ctx, userID, name); err != nil {
				return err
			}
		}

		view, err = s.view(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}

	s.logger.Info(ctx, "user roles changed", "user_id", userID, "roles", view.Roles)
	return view, nil
}

// VerifyUser marks userID verified without a token.
func (s *AdminService) VerifyUser(ctx context.Context, userID int64) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	if err := s.repos.Users(s.repos.DB()).MarkVerified(ctx, userID, s.now()); err != nil {
		return unavailable(err)
	}
	s.logger.Info(ctx, "user verified by admin", "user_id", userID)
	return nil
}

// ListRoles returns every role name in lexical order.
func (s *AdminService) ListRoles(ctx context.Context) ([]string, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	roles, err := s.repos.Roles(s.repos.DB()).List(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// CreateAdmin creates a verified, active account holding the admin and
// user roles. An existing account keeps its password and gains the roles.
func (s *AdminService) CreateAdmin(ctx context.Context, email, password string) (*models.UserView, bool, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	email, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, false, err
	}

	var (
		view    *models.UserView
		created bool
	)
	err = s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repos.Users(tx)
		user, err := users.FindByEmail(ctx, email)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			if err := auth.ValidatePassword(password); err != nil {
				return err
			}
			hash, err := s.hasher.Hash(password)
			if err != nil {
				return err
			}
			user, err = users.Create(ctx, &models.User{Email: email, PasswordHash: hash, IsActive: true, IsVerified: true})
			if err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		}

		for _, role := range []string{common.RoleAdmin, common.RoleUser} {
			if err := s.repos.Roles(tx).Attach(ctx, user.ID, role); err != nil {
				return err
			}
		}

		view, err = s.view(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, false, unavailable(err)
	}

	s.logger.Info(ctx, "admin ensured", "user_id", view.ID, "created", created)
	return view, created, nil
}

// GrantRole attaches role to the account of email, creating the role if
// it does not exist yet.
func (s *AdminService) GrantRole(ctx context.Context, email, role string) (*models.UserView, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	if role == "" {
		return nil, invalidArgument("role", "role is required")
	}
	email, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	var view *models.UserView
	err = s.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repos.Users(tx).FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		if err := s.repos.Roles(tx).Attach(ctx, user.ID, role); err != nil {
			return fmt.Errorf("attach %s: %w", role, err)
		}
		view, err = s.view(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}

	s.logger.Info(ctx, "role granted", "user_id", view.ID, "role", role)
	return view, nil
}
