package web

import (
	"context"
	"fmt"
	"net/http"
)

// httpStatus is implemented by responses that carry their own status code.
type httpStatus interface {
	HTTPStatus() int
}

// Respond encodes the response and writes it to the client. A nil response
// writes a 204 with no body.
func Respond(ctx context.Context, w http.ResponseWriter, resp Encoder) error {
	if err := ctx.Err(); err != nil {
		// The client is gone; nothing useful can be written.
		return nil
	}

	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	statusCode := http.StatusOK
	if v, ok := resp.(httpStatus); ok {
		statusCode = v.HTTPStatus()
	}

	data, contentType, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("web: encoding response: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("web: writing response: %w", err)
	}

	return nil
}
