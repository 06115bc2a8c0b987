package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBaseError_WrapsCause(t *testing.T) {
	cause := errors.New("row locked")
	err := Conflict("progress changed concurrently", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, "[conflict] progress changed concurrently: row locked", err.Error())

	var base BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, http.StatusConflict, base.Status().HTTPStatus())
}

func TestToGRPCError(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{NotFound("member has no progress", nil), codes.NotFound},
		{BadRequest("amount must be positive", nil), codes.InvalidArgument},
		{Conflict("retry", nil), codes.Aborted},
		{TooManyRequest("cooldown", nil), codes.ResourceExhausted},
		{ServiceUnavailable("store down", errors.New("dial")), codes.Unavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.PermissionDenied, "nope"), codes.PermissionDenied},
	}
	for _, c := range cases {
		require.Equal(t, c.code, status.Code(ToGRPCError(c.err)), c.err.Error())
	}
	require.NoError(t, ToGRPCError(nil))
	require.Equal(t, codes.Unknown, CoreStatus("made_up").GRPCCode())
}
