package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	Name   string `json:"name"`
	status int
}

func (tr testResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(tr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (tr testResponse) HTTPStatus() int {
	if tr.status == 0 {
		return http.StatusOK
	}
	return tr.status
}

func newTestApp(mw ...MidFunc) *App {
	return NewApp(func(ctx context.Context, msg string, args ...any) {}, nil, mw...)
}

func TestHandlerFunc_RoutesByMethodAndPath(t *testing.T) {
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "/v1", "/things/{id}", func(ctx context.Context, r *http.Request) Encoder {
		return testResponse{Name: Param(r, "id")}
	})

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/things/42", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"42"}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/things/42", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandlerFunc_NilResponseIsNoContent(t *testing.T) {
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "", "/empty", func(ctx context.Context, r *http.Request) Encoder {
		return nil
	})

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/empty", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandlerFunc_HTTPStatusIsHonored(t *testing.T) {
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "", "/teapot", func(ctx context.Context, r *http.Request) Encoder {
		return testResponse{Name: "short and stout", status: http.StatusTeapot}
	})

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestMiddleware_RunsInOrder(t *testing.T) {
	var order []string
	mw := func(name string) MidFunc {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, r *http.Request) Encoder {
				order = append(order, name)
				return next(ctx, r)
			}
		}
	}

	app := newTestApp(mw("app-first"), mw("app-second"))
	app.HandlerFunc(http.MethodGet, "", "/mw", func(ctx context.Context, r *http.Request) Encoder {
		order = append(order, "handler")
		return nil
	}, mw("route"))

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mw", nil))

	assert.Equal(t, []string{"app-first", "app-second", "route", "handler"}, order)
}

func TestEnableCORS_Preflight(t *testing.T) {
	app := newTestApp()
	app.EnableCORS([]string{"*"})
	app.HandlerFunc(http.MethodGet, "", "/cors", func(ctx context.Context, r *http.Request) Encoder {
		return testResponse{Name: "ok"}
	})

	r := httptest.NewRequest(http.MethodOptions, "/cors", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/cors", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	app.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetWriter_AvailableToMiddleware(t *testing.T) {
	app := newTestApp(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, r *http.Request) Encoder {
			GetWriter(ctx).Header().Set("X-Custom", "set-by-mw")
			return next(ctx, r)
		}
	})
	app.HandlerFunc(http.MethodGet, "", "/writer", func(ctx context.Context, r *http.Request) Encoder {
		return nil
	})

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/writer", nil))

	assert.Equal(t, "set-by-mw", w.Header().Get("X-Custom"))
}
