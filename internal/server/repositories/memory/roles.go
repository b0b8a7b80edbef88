package memory

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

type roleRepo struct {
	s  *store
	db dbx.DBTX
}

func (r *roleRepo) ensure(name string) int64 {
	if id, ok := r.s.roles[name]; ok {
		return id
	}
	r.s.nextRoleID++
	r.s.roles[name] = r.s.nextRoleID
	return r.s.nextRoleID
}

func (r *roleRepo) Ensure(ctx context.Context, name string) (*models.Role, error) {
	defer r.s.lock(r.db)()
	return &models.Role{ID: r.ensure(name), Name: name}, nil
}

func (r *roleRepo) Find(ctx context.Context, name string) (*models.Role, error) {
	defer r.s.lock(r.db)()

	id, ok := r.s.roles[name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.Role{ID: id, Name: name}, nil
}

func (r *roleRepo) List(ctx context.Context) ([]*models.Role, error) {
	defer r.s.lock(r.db)()

	out := make([]*models.Role, 0, len(r.s.roles))
	for name, id := range r.s.roles {
		out = append(out, &models.Role{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roleRepo) Attach(ctx context.Context, userID int64, name string) error {
	defer r.s.lock(r.db)()

	if _, ok := r.s.users[userID]; !ok {
		return common.ErrorNotFound
	}
	id := r.ensure(name)
	set, ok := r.s.userRoles[userID]
	if !ok {
		set = map[int64]struct{}{}
		r.s.userRoles[userID] = set
	}
	set[id] = struct{}{}
	return nil
}

func (r *roleRepo) Detach(ctx context.Context, userID int64) error {
	defer r.s.lock(r.db)()
	delete(r.s.userRoles, userID)
	return nil
}

func (r *roleRepo) ForUser(ctx context.Context, userID int64) ([]string, error) {
	defer r.s.lock(r.db)()

	names := []string{}
	for name, id := range r.s.roles {
		if _, ok := r.s.userRoles[userID][id]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
