package middleware

import (
	"context"

	"guild-leveling/pkg/errutil"

	"google.golang.org/grpc"
)

// ErrorInterceptor converts domain errors returned by handlers into gRPC status errors.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return resp, errutil.ToGRPCError(err)
		}
		return resp, nil
	}
}
