package identity

import (
	"context"

	"github.com/zeromicro/go-zero/zrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// resolveTokenMethod is the full gRPC method name of the external
// identity service's single RPC, kept here rather than in a generated
// package since that service's .proto lives outside this module's scope
// (spec.md §1 treats identity resolution as an external collaborator).
const resolveTokenMethod = "/aegis.identity.IdentityService/ResolveToken"

// remoteClient is the hand-wired equivalent of a protoc-gen-go-grpc
// client stub: it calls the identity service's one RPC directly through
// the connection, exchanging google.protobuf.Struct messages instead of
// a dedicated request/response pair, since there is no shared .proto
// contract to generate one from.
type remoteClient struct {
	cc grpc.ClientConnInterface
}

func (c *remoteClient) resolveToken(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, resolveTokenMethod, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// RemoteResolver resolves identities via an external gRPC identity
// service, following the teacher's authClient.Auth: a thin wrapper
// around a zrpc.Client that builds a fresh stub over its connection per
// call (zrpc.Client multiplexes connections internally, so this is
// cheap).
type RemoteResolver struct {
	cli zrpc.Client
}

// NewRemoteResolver builds a RemoteResolver over an already-dialled
// zrpc.Client (see config.Config's Identity.RemoteRpc in the service
// context).
func NewRemoteResolver(cli zrpc.Client) *RemoteResolver {
	return &RemoteResolver{cli: cli}
}

func (r *RemoteResolver) Resolve(ctx context.Context, token, provider string) (Identity, error) {
	req, err := structpb.NewStruct(map[string]any{
		"token":    token,
		"provider": provider,
	})
	if err != nil {
		return Identity{}, errs.Wrap(errs.TransientFailure, err)
	}

	client := &remoteClient{cc: r.cli.Conn()}
	resp, err := client.resolveToken(ctx, req)
	if err != nil {
		return Identity{}, errs.Wrap(errs.TransientFailure, err)
	}

	fields := resp.GetFields()
	if !fields["valid"].GetBoolValue() {
		return Identity{}, errs.New(errs.Unauthenticated, "identity service rejected token")
	}

	userID := fields["userId"].GetStringValue()
	if userID == "" {
		return Identity{}, errs.New(errs.Unauthenticated, "identity service returned no user id")
	}

	rolesValue := fields["roles"].GetListValue()
	var roles []string
	if rolesValue != nil {
		for _, v := range rolesValue.GetValues() {
			roles = append(roles, v.GetStringValue())
		}
	}

	return Identity{UserID: userID, Provider: provider, Roles: roles}, nil
}
