package mid

import (
	"context"
	"errors"
	"net/http"

	"github.com/ocrforge/procdispatch/internal/api/errs"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
	"github.com/ocrforge/procdispatch/pkg/web"
)

// Errors handles errors coming out of the call chain. It detects normal
// application errors which are used to respond to the client in a uniform way
// and unknown errors which are mapped to a 500 without leaking details.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)

			err, isErr := resp.(error)
			if !isErr {
				return resp
			}

			log.Error(ctx, "message", "ERROR", err.Error(), "path", r.URL.Path)

			var appErr *errs.Error
			if !errors.As(err, &appErr) {
				return errs.Newf(errs.Internal, "internal server error")
			}

			if appErr.Code == errs.Internal {
				return errs.Newf(errs.Internal, "internal server error")
			}

			return appErr
		}

		return h
	}

	return m
}
