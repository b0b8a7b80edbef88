package grpc

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls AuthService methods over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithAccessToken attaches an access token to outgoing calls made with ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)
}

// Call invokes method with fields as the request document. A nil fields
// map sends Empty, which the no-input methods expect.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any) (map[string]any, error) {
	var req proto.Message = &emptypb.Empty{}
	if fields != nil {
		s, err := structpb.NewStruct(fields)
		if err != nil {
			return nil, err
		}
		req = s
	}

	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, FullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.Call(ctx, "Ping", nil)
	if err != nil {
		return "", err
	}
	s, _ := resp["status"].(string)
	return s, nil
}
