// Package roles stores role names and user-role memberships.
package roles

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

type Repository interface {
	// Ensure returns the role called name, creating it if absent.
	Ensure(ctx context.Context, name string) (*models.Role, error)
	// Find returns common.ErrorNotFound for unknown names.
	Find(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]*models.Role, error)

	// Attach links userID to the role called name, creating the role on
	// first use. Attaching an existing membership is a no-op.
	Attach(ctx context.Context, userID int64, name string) error
	// Detach removes every membership of userID.
	Detach(ctx context.Context, userID int64) error
	// ForUser returns the user's role names in lexical order.
	ForUser(ctx context.Context, userID int64) ([]string, error)
}
