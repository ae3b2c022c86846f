package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sebas/softphone/internal/ua/session"
)

// toStatus maps session errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var (
		regErr    *session.RegistrationFailedError
		setupErr  *session.SetupFailedError
		engineErr *session.EngineCommandError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, session.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, session.ErrOperationInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, session.ErrBuddyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, session.ErrNoAccount),
		errors.Is(err, session.ErrNotRegistered),
		errors.Is(err, session.ErrCallTerminated),
		errors.Is(err, session.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &regErr):
		if regErr.StatusCode == 401 || regErr.StatusCode == 403 || regErr.StatusCode == 407 {
			return status.Error(codes.PermissionDenied, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &setupErr):
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &engineErr):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
