package grpc

import (
	"math"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func requiredString(req *structpb.Struct, name string) (string, error) {
	v := stringField(req, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	return v, nil
}

// intField reads a whole number. Absent fields read as zero.
func intField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int64(n.NumberValue), nil
}

func requiredID(req *structpb.Struct) (int64, error) {
	id, err := intField(req, "user_id")
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, status.Error(codes.InvalidArgument, "missing user_id")
	}
	return id, nil
}

func boolField(req *structpb.Struct, name string) (bool, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return false, status.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	b, isBool := v.GetKind().(*structpb.Value_BoolValue)
	if !isBool {
		return false, status.Errorf(codes.InvalidArgument, "%s must be a boolean", name)
	}
	return b.BoolValue, nil
}

func stringList(req *structpb.Struct, name string) ([]string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return []string{}, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list", name)
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		s, isStr := item.GetKind().(*structpb.Value_StringValue)
		if !isStr {
			return nil, status.Errorf(codes.InvalidArgument, "%s must contain strings", name)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func viewMap(v *models.UserView) map[string]any {
	roles := make([]any, 0, len(v.Roles))
	for _, r := range v.Roles {
		roles = append(roles, r)
	}
	m := map[string]any{
		"id":          float64(v.ID),
		"email":       v.Email,
		"is_active":   v.IsActive,
		"is_verified": v.IsVerified,
		"roles":       roles,
		"created_at":  v.CreatedAt.UTC().Format(time.RFC3339),
		"last_login":  nil,
	}
	if v.LastLogin != nil {
		m["last_login"] = v.LastLogin.UTC().Format(time.RFC3339)
	}
	return m
}

func respond(m map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func viewResponse(v *models.UserView) (*structpb.Struct, error) {
	return respond(viewMap(v))
}

func pairResponse(p *services.TokenPair) (*structpb.Struct, error) {
	return respond(map[string]any{
		"access_token":  p.AccessToken,
		"refresh_token": p.RefreshToken,
		"token_type":    p.TokenType,
		"expires_in":    float64(p.ExpiresIn),
	})
}

func emptyResponse() (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}
