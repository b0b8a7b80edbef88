// Package memory is an in-process RepositoryManager. Transactions are
// serialized under one lock and rolled back from a snapshot on error, so
// the atomicity guarantees match the Postgres implementation.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/roles"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
)

var errNoSQL = errors.New("memory store does not execute SQL")

// handle is the DBTX given to repository factories. It never runs SQL; it
// only tells repositories whether the store lock is already held.
type handle struct {
	inTx bool
}

func (handle) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (handle) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (handle) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return &sql.Row{}
}

type userRow struct {
	user       models.User
	resetHash  string
	resetUntil *time.Time
}

type store struct {
	mu sync.Mutex

	users      map[int64]*userRow
	emails     map[string]int64
	roles      map[string]int64
	userRoles  map[int64]map[int64]struct{}
	tokens     map[int64]*models.RefreshToken
	tokenIndex map[string]int64

	nextUserID  int64
	nextRoleID  int64
	nextTokenID int64
}

func (s *store) snapshot() *store {
	c := &store{
		users:       make(map[int64]*userRow, len(s.users)),
		emails:      make(map[string]int64, len(s.emails)),
		roles:       make(map[string]int64, len(s.roles)),
		userRoles:   make(map[int64]map[int64]struct{}, len(s.userRoles)),
		tokens:      make(map[int64]*models.RefreshToken, len(s.tokens)),
		tokenIndex:  make(map[string]int64, len(s.tokenIndex)),
		nextUserID:  s.nextUserID,
		nextRoleID:  s.nextRoleID,
		nextTokenID: s.nextTokenID,
	}
	for id, row := range s.users {
		cp := *row
		c.users[id] = &cp
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for uid, set := range s.userRoles {
		cp := make(map[int64]struct{}, len(set))
		for rid := range set {
			cp[rid] = struct{}{}
		}
		c.userRoles[uid] = cp
	}
	for id, t := range s.tokens {
		cp := *t
		c.tokens[id] = &cp
	}
	for k, v := range s.tokenIndex {
		c.tokenIndex[k] = v
	}
	return c
}

func (s *store) restore(from *store) {
	s.users = from.users
	s.emails = from.emails
	s.roles = from.roles
	s.userRoles = from.userRoles
	s.tokens = from.tokens
	s.tokenIndex = from.tokenIndex
	s.nextUserID = from.nextUserID
	s.nextRoleID = from.nextRoleID
	s.nextTokenID = from.nextTokenID
}

// lock acquires the store lock unless db says it is already held by the
// surrounding transaction.
func (s *store) lock(db dbx.DBTX) func() {
	if h, ok := db.(handle); ok && h.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RepositoryManager is the in-memory repomanager.RepositoryManager.
type RepositoryManager struct {
	s *store
}

// NewRepositoryManager returns an empty store seeded with the default roles.
func NewRepositoryManager() *RepositoryManager {
	s := &store{
		users:      map[int64]*userRow{},
		emails:     map[string]int64{},
		roles:      map[string]int64{},
		userRoles:  map[int64]map[int64]struct{}{},
		tokens:     map[int64]*models.RefreshToken{},
		tokenIndex: map[string]int64{},
	}
	for _, name := range []string{common.RoleUser, common.RoleAdmin} {
		s.nextRoleID++
		s.roles[name] = s.nextRoleID
	}
	return &RepositoryManager{s: s}
}

func (m *RepositoryManager) RunMigrations(context.Context) error { return nil }
func (m *RepositoryManager) Ping(context.Context) error          { return nil }
func (m *RepositoryManager) Close() error                        { return nil }

func (m *RepositoryManager) DB() dbx.DBTX { return handle{} }

func (m *RepositoryManager) WithTx(ctx context.Context, fn dbx.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	snap := m.s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.s.restore(snap)
			panic(p)
		}
		if err != nil {
			m.s.restore(snap)
		}
	}()

	return fn(ctx, handle{inTx: true})
}

func (m *RepositoryManager) Users(db dbx.DBTX) users.Repository {
	return &userRepo{s: m.s, db: db}
}

func (m *RepositoryManager) Roles(db dbx.DBTX) roles.Repository {
	return &roleRepo{s: m.s, db: db}
}

func (m *RepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &tokenRepo{s: m.s, db: db}
}
