package grpc

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GRPCServer) principal(ctx context.Context) (*services.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	return p, nil
}

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	profile := models.Profile{
		FirstName: stringField(req, "first_name"),
		LastName:  stringField(req, "last_name"),
	}
	view, err := s.sessions.Register(ctx, stringField(req, "email"), stringField(req, "password"), profile)
	if err != nil {
		return nil, toStatus(err)
	}
	return viewResponse(view)
}

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pair, err := s.sessions.Login(ctx, stringField(req, "email"), stringField(req, "password"))
	if err != nil {
		return nil, toStatus(err)
	}
	return pairResponse(pair)
}

func (s *GRPCServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, err := requiredString(req, "refresh_token")
	if err != nil {
		return nil, err
	}
	pair, err := s.sessions.Refresh(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}
	return pairResponse(pair)
}

func (s *GRPCServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, err := requiredString(req, "refresh_token")
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Logout(ctx, token); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) LogoutAll(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.LogoutAll(ctx, p.UserID); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) ChangePassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	err = s.sessions.ChangePassword(ctx, p.UserID, stringField(req, "current_password"), stringField(req, "new_password"))
	if err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) VerifyEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, err := requiredString(req, "token")
	if err != nil {
		return nil, err
	}
	if err := s.flows.ConsumeEmailVerification(ctx, token); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

// RequestPasswordReset answers the same way whether or not the address is
// registered.
func (s *GRPCServer) RequestPasswordReset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.flows.RequestPasswordReset(ctx, stringField(req, "email")); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) ResetPassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, err := requiredString(req, "token")
	if err != nil {
		return nil, err
	}
	if err := s.flows.ConsumePasswordReset(ctx, token, stringField(req, "new_password")); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) Me(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	view, err := s.sessions.Me(ctx, p.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return viewResponse(view)
}

func (s *GRPCServer) AdminListUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	offset, err := intField(req, "offset")
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}

	views, err := s.admin.ListUsers(ctx, int(offset), int(limit))
	if err != nil {
		return nil, toStatus(err)
	}
	users := make([]any, 0, len(views))
	for _, v := range views {
		users = append(users, viewMap(v))
	}
	return respond(map[string]any{"users": users})
}

func (s *GRPCServer) AdminSetActive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredID(req)
	if err != nil {
		return nil, err
	}
	active, err := boolField(req, "active")
	if err != nil {
		return nil, err
	}
	if err := s.admin.SetActive(ctx, id, active); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) AdminSetRoles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredID(req)
	if err != nil {
		return nil, err
	}
	roles, err := stringList(req, "roles")
	if err != nil {
		return nil, err
	}
	view, err := s.admin.SetRoles(ctx, id, roles)
	if err != nil {
		return nil, toStatus(err)
	}
	return viewResponse(view)
}

func (s *GRPCServer) AdminVerifyUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredID(req)
	if err != nil {
		return nil, err
	}
	if err := s.admin.VerifyUser(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return emptyResponse()
}

func (s *GRPCServer) AdminListRoles(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	names, err := s.admin.ListRoles(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	roles := make([]any, 0, len(names))
	for _, n := range names {
		roles = append(roles, n)
	}
	return respond(map[string]any{"roles": roles})
}

func (s *GRPCServer) Ping(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return respond(map[string]any{"status": "OK"})
}

var _ AuthService = (*GRPCServer)(nil)
