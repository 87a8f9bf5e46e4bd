package rpc

import (
	"context"
	"strings"

	"github.com/KevinKickass/PortExtender/internal/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenValidator resolves a bearer token to its permissions.
type TokenValidator interface {
	ValidateToken(token string) ([]auth.Permission, error)
}

// methodPermissions lists the guarded methods. Anything else, the health
// service included, is open.
var methodPermissions = map[string]auth.Permission{
	"/" + ServiceName + "/GetStatus": auth.PermOperator,
	"/" + ServiceName + "/Rescan":    auth.PermAdmin,
}

// AuthInterceptor checks the "authorization: Bearer <token>" metadata with
// the same tokens the REST API accepts.
func AuthInterceptor(tokens TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		required, guarded := methodPermissions[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		token, ok := strings.CutPrefix(values[0], "Bearer ")
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid authorization format")
		}

		perms, err := tokens.ValidateToken(token)
		if err != nil {
			logger.Warn("gRPC call with invalid token", zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		for _, p := range perms {
			if p == required {
				return handler(ctx, req)
			}
		}
		return nil, status.Errorf(codes.PermissionDenied, "%s requires %s", info.FullMethod, required)
	}
}
