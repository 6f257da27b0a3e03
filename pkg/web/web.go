// Package web is a minimal web framework on top of the standard library mux.
// Handlers return an Encoder instead of writing to the ResponseWriter, which
// lets middleware observe and replace responses uniformly.
package web

import (
	"context"
	"net/http"
	"path"

	"go.opentelemetry.io/otel/trace"
)

// Encoder defines behavior to encode a response body and its content type.
type Encoder interface {
	Encode() ([]byte, string, error)
}

// HandlerFunc represents a function that handles a http request and returns
// the response to encode.
type HandlerFunc func(ctx context.Context, r *http.Request) Encoder

// MidFunc is a function designed to run some code before and/or after
// another handler.
type MidFunc func(next HandlerFunc) HandlerFunc

// Logger represents a function that will be called to add information to the
// logs.
type Logger func(ctx context.Context, msg string, args ...any)

// App is the entrypoint into our application. It configures the context for
// each http handler and binds the routes.
type App struct {
	log     Logger
	tracer  trace.Tracer
	mux     *http.ServeMux
	mw      []MidFunc
	origins []string
}

// NewApp creates an App value that handles a set of routes for the
// application.
func NewApp(log Logger, tracer trace.Tracer, mw ...MidFunc) *App {
	return &App{
		log:    log,
		tracer: tracer,
		mux:    http.NewServeMux(),
		mw:     mw,
	}
}

// EnableCORS enables CORS preflight requests to work in the middleware. It
// prevents the MethodNotAllowedHandler from being called.
func (a *App) EnableCORS(origins []string) {
	a.origins = origins

	handler := func(ctx context.Context, r *http.Request) Encoder {
		return nil
	}
	handler = wrapMiddleware([]MidFunc{a.corsHandler}, handler)

	a.mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		handler(setWriter(r.Context(), w), r)
	})
}

// HandlerFunc sets a handler function for a given HTTP method and path pair
// to the application server mux.
func (a *App) HandlerFunc(method string, group string, route string, handler HandlerFunc, mw ...MidFunc) {
	handler = wrapMiddleware(mw, handler)
	handler = wrapMiddleware(a.mw, handler)

	if a.origins != nil {
		handler = wrapMiddleware([]MidFunc{a.corsHandler}, handler)
	}

	pattern := method + " " + path.Join("/", group, route)

	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := setWriter(r.Context(), w)

		resp := handler(ctx, r)

		if err := Respond(ctx, w, resp); err != nil {
			a.log(ctx, "web: respond error", "err", err)
		}
	})
}

// ServeHTTP implements the http.Handler interface.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// corsHandler applies the CORS response headers.
func (a *App) corsHandler(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, r *http.Request) Encoder {
		w := GetWriter(ctx)

		reqOrigin := r.Header.Get("Origin")
		for _, origin := range a.origins {
			if origin == "*" || origin == reqOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		return next(ctx, r)
	}
}

func wrapMiddleware(mw []MidFunc, handler HandlerFunc) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		if m := mw[i]; m != nil {
			handler = m(handler)
		}
	}
	return handler
}

// Param returns the web call parameters from the request.
func Param(r *http.Request, key string) string {
	return r.PathValue(key)
}
