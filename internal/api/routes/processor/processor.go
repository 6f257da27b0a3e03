// Package processor exposes the processor description and execution
// endpoints.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ocrforge/procdispatch/internal/api/errs"
	"github.com/ocrforge/procdispatch/internal/app/describe"
	"github.com/ocrforge/procdispatch/internal/app/launch"
	"github.com/ocrforge/procdispatch/internal/app/scheduler"
	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
	"github.com/ocrforge/procdispatch/pkg/web"
)

// Config contains the dependencies needed by the processor handlers.
type Config struct {
	Log       *logger.Logger
	Scheduler *scheduler.Scheduler
	Launcher  *launch.Launcher
	Describer *describe.Describer
}

// Routes binds all the processor endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "/api/v1.0"

	app.HandlerFunc(http.MethodGet, version, "/processor/description/json/{processor}", description(cfg))
	app.HandlerFunc(http.MethodPost, version, "/processor/execute", execute(cfg))
}

// descriptionResponse passes the processor's own JSON description through
// verbatim.
type descriptionResponse json.RawMessage

// Encode implements the web.Encoder interface.
func (dr descriptionResponse) Encode() ([]byte, string, error) {
	return dr, "application/json", nil
}

// executeResponse represents the response for starting an execution.
type executeResponse struct {
	JobID int64     `json:"jobId"`
	State job.State `json:"state"`
}

// Encode implements the web.Encoder interface.
func (er executeResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(er)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func description(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		name := web.Param(r, "processor")

		raw, err := cfg.Describer.Describe(ctx, name)
		if err != nil {
			switch {
			case errors.Is(err, describe.ErrInvalidProcessor):
				return errs.New(errs.InvalidArgument, err)
			default:
				// Busy and probe failures are service-side conditions.
				return errs.New(errs.Unavailable, err)
			}
		}

		return descriptionResponse(raw)
	}
}

func execute(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req launch.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		j, err := cfg.Launcher.Launch(ctx, req)
		if err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		id, state, err := cfg.Scheduler.Submit(ctx, j)
		if err != nil {
			return errs.New(errs.Unavailable, err)
		}

		return executeResponse{JobID: id, State: state}
	}
}
