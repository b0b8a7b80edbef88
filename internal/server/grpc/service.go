package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gophauth.v1.AuthService"

// AuthService is the server side of gophauth.v1.AuthService. Requests and
// responses are structpb documents; methods without input take Empty.
type AuthService interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LogoutAll(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ChangePassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyEmail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestPasswordReset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetPassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AdminListUsers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdminSetActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdminSetRoles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdminVerifyUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdminListRoles(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// FullMethod returns the "/service/method" path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

// unary builds the method descriptor for one request type.
func unary[Req proto.Message](name string, newReq func() Req,
	call func(AuthService, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {

	full := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			svc := srv.(AuthService)
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(svc, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, r any) (any, error) {
				typed, ok := r.(Req)
				if !ok {
					return nil, status.Error(codes.InvalidArgument, "invalid request type")
				}
				return call(svc, ctx, typed)
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// Register attaches svc to server under ServiceName.
func Register(server grpc.ServiceRegistrar, svc AuthService) {
	server.RegisterService(serviceDesc(), svc)
}

func serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*AuthService)(nil),
		Methods: []grpc.MethodDesc{
			unary("Register", newStruct, AuthService.Register),
			unary("Login", newStruct, AuthService.Login),
			unary("Refresh", newStruct, AuthService.Refresh),
			unary("Logout", newStruct, AuthService.Logout),
			unary("LogoutAll", newEmpty, AuthService.LogoutAll),
			unary("ChangePassword", newStruct, AuthService.ChangePassword),
			unary("VerifyEmail", newStruct, AuthService.VerifyEmail),
			unary("RequestPasswordReset", newStruct, AuthService.RequestPasswordReset),
			unary("ResetPassword", newStruct, AuthService.ResetPassword),
			unary("Me", newEmpty, AuthService.Me),
			unary("AdminListUsers", newStruct, AuthService.AdminListUsers),
			unary("AdminSetActive", newStruct, AuthService.AdminSetActive),
			unary("AdminSetRoles", newStruct, AuthService.AdminSetRoles),
			unary("AdminVerifyUser", newStruct, AuthService.AdminVerifyUser),
			unary("AdminListRoles", newEmpty, AuthService.AdminListRoles),
			unary("Ping", newEmpty, AuthService.Ping),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "gophauth/v1/auth.proto",
	}
}

// access levels required per method. A method missing from methodAccess
// requires a user token.
type access int

const (
	accessPublic access = iota
	accessUser
	accessAdmin
)

var methodAccess = map[string]access{
	FullMethod("Register"):             accessPublic,
	FullMethod("Login"):                accessPublic,
	FullMethod("Refresh"):              accessPublic,
	FullMethod("Logout"):               accessPublic,
	FullMethod("VerifyEmail"):          accessPublic,
	FullMethod("RequestPasswordReset"): accessPublic,
	FullMethod("ResetPassword"):        accessPublic,
	FullMethod("Ping"):                 accessPublic,
	"/grpc.health.v1.Health/Check":     accessPublic,
	"/grpc.health.v1.Health/List":      accessPublic,

	FullMethod("LogoutAll"):       accessUser,
	FullMethod("ChangePassword"):  accessUser,
	FullMethod("Me"):              accessUser,
	FullMethod("AdminListUsers"):  accessAdmin,
	FullMethod("AdminSetActive"):  accessAdmin,
	FullMethod("AdminSetRoles"):   accessAdmin,
	FullMethod("AdminVerifyUser"): accessAdmin,
	FullMethod("AdminListRoles"):  accessAdmin,
}
