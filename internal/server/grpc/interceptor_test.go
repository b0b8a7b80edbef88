package grpc

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeSessions only answers Authenticate.
type fakeSessions struct {
	sessionSvc
	principals map[string]*services.Principal
}

func (f *fakeSessions) Authenticate(token string) (*services.Principal, error) {
	p, ok := f.principals[token]
	if !ok {
		return nil, common.ErrInvalidToken
	}
	return p, nil
}

func newInterceptorServer() *GRPCServer {
	sessions := &fakeSessions{principals: map[string]*services.Principal{
		"user-token":  {UserID: 1, Roles: []string{common.RoleUser}},
		"admin-token": {UserID: 2, Roles: []string{common.RoleUser, common.RoleAdmin}},
	}}
	return NewGRPCServer("127.0.0.1:0", discardLogger(), sessions, nil, nil, nil)
}

func incoming(kv ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
}

func TestAccessTokenFromMetadata(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"none", context.Background(), ""},
		{"access_token", incoming(common.AccessTokenHeaderName, "abc"), "abc"},
		{"bearer", incoming(common.AuthorizationHeaderName, "Bearer xyz"), "xyz"},
		{"bearer lower case", incoming(common.AuthorizationHeaderName, "bearer xyz"), "xyz"},
		{"basic ignored", incoming(common.AuthorizationHeaderName, "Basic dXNlcg=="), ""},
		{"access_token wins", incoming(common.AccessTokenHeaderName, "abc", common.AuthorizationHeaderName, "Bearer xyz"), "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, accessTokenFromMetadata(tt.ctx))
		})
	}
}

func TestInterceptor_PublicMethodSkipsToken(t *testing.T) {
	s := newInterceptorServer()
	called := false

	resp, err := s.accessTokenInterceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: FullMethod("Login")},
		func(ctx context.Context, req any) (any, error) {
			called = true
			_, ok := PrincipalFromContext(ctx)
			assert.False(t, ok)
			return "ok", nil
		})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", resp)
}

func TestInterceptor_ProtectedMethod(t *testing.T) {
	s := newInterceptorServer()
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod("Me")}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		t.Fatal("handler should not be called without a token")
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "missing token", status.Convert(err).Message())

	_, err = s.accessTokenInterceptor(incoming(common.AccessTokenHeaderName, "forged"), nil, info, func(context.Context, any) (any, error) {
		t.Fatal("handler should not be called with a bad token")
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = s.accessTokenInterceptor(incoming(common.AccessTokenHeaderName, "user-token"), nil, info, func(ctx context.Context, _ any) (any, error) {
		p, ok := PrincipalFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, int64(1), p.UserID)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestInterceptor_UnlistedMethodNeedsToken(t *testing.T) {
	s := newInterceptorServer()
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod("AdminPurgeUsers")}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		t.Fatal("handler should not be called without a token")
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = s.accessTokenInterceptor(incoming(common.AccessTokenHeaderName, "user-token"), nil, info, func(ctx context.Context, _ any) (any, error) {
		_, ok := PrincipalFromContext(ctx)
		assert.True(t, ok)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestMethodAccess_CoversEveryServiceMethod(t *testing.T) {
	desc := serviceDesc()
	for _, m := range desc.Methods {
		_, ok := methodAccess[FullMethod(m.MethodName)]
		assert.True(t, ok, "%s has no access level", m.MethodName)
	}
}

func TestInterceptor_HealthCheckIsPublic(t *testing.T) {
	s := newInterceptorServer()
	called := false

	_, err := s.accessTokenInterceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(context.Context, any) (any, error) {
			called = true
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestInterceptor_AdminRole(t *testing.T) {
	s := newInterceptorServer()
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod("AdminListUsers")}

	_, err := s.accessTokenInterceptor(incoming(common.AccessTokenHeaderName, "user-token"), nil, info, func(context.Context, any) (any, error) {
		t.Fatal("handler should not be called for a non-admin")
		return nil, nil
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	called := false
	_, err = s.accessTokenInterceptor(incoming(common.AuthorizationHeaderName, "Bearer admin-token"), nil, info, func(context.Context, any) (any, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestHandlers_RequirePrincipal(t *testing.T) {
	s := newInterceptorServer()

	_, err := s.Me(context.Background(), nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

}
