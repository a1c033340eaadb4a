package api

import (
	"context"
	"errors"

	"github.com/matheus3301/homecare/internal/conn"
	"github.com/matheus3301/homecare/internal/credential"
	intsync "github.com/matheus3301/homecare/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a domain error onto a gRPC status error.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	return grpcstatus.Errorf(codeOf(err), "%s: %v", op, err)
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, intsync.ErrEmptyMessage),
		errors.Is(err, intsync.ErrNoPeer),
		errors.Is(err, intsync.ErrNoMessageID):
		return codes.InvalidArgument
	case errors.Is(err, conn.ErrNotOpen),
		errors.Is(err, conn.ErrStopped),
		errors.Is(err, intsync.ErrStopped):
		return codes.Unavailable
	case errors.Is(err, conn.ErrRateLimited):
		return codes.ResourceExhausted
	case errors.Is(err, conn.ErrNoCredential),
		errors.Is(err, credential.ErrNoCredential):
		return codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// transient reports whether err only means the envelope was not sent now.
func transient(err error) bool {
	return errors.Is(err, conn.ErrNotOpen) || errors.Is(err, conn.ErrRateLimited)
}
