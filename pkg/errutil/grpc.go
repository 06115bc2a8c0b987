package errutil

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcCodes = map[CoreStatus]codes.Code{
	StatusBadRequest:          codes.InvalidArgument,
	StatusValidationFailed:    codes.InvalidArgument,
	StatusUnauthorized:        codes.Unauthenticated,
	StatusForbidden:           codes.PermissionDenied,
	StatusNotFound:            codes.NotFound,
	StatusConflict:            codes.Aborted,
	StatusUnprocessableEntity: codes.FailedPrecondition,
	StatusTooManyRequests:     codes.ResourceExhausted,
	StatusClientClosedRequest: codes.Canceled,
	StatusInternal:            codes.Internal,
	StatusNotImplemented:      codes.Unimplemented,
	StatusBadGateway:          codes.Unavailable,
	StatusServiceUnavailable:  codes.Unavailable,
	StatusTimeout:             codes.DeadlineExceeded,
	StatusGatewayTimeout:      codes.DeadlineExceeded,
}

// GRPCCode maps the status onto a gRPC code. Unmapped statuses are Unknown.
func (s CoreStatus) GRPCCode() codes.Code {
	if c, ok := grpcCodes[s]; ok {
		return c
	}
	return codes.Unknown
}

// ToGRPCError converts err into a status error. Errors that already carry a status pass through.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if errors.As(err, &base) {
		return status.Error(base.Code.GRPCCode(), base.messageWithErr())
	}
	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return status.Error(coder.Status().GRPCCode(), err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
