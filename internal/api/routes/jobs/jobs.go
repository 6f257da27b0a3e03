// Package jobs exposes the job status, cancellation, and purge endpoints.
package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ocrforge/procdispatch/internal/api/errs"
	"github.com/ocrforge/procdispatch/internal/app/scheduler"
	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
	"github.com/ocrforge/procdispatch/pkg/web"
)

// Config contains the dependencies needed by the job handlers.
type Config struct {
	Log       *logger.Logger
	Scheduler *scheduler.Scheduler
}

// Routes binds all the job endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "/api/v1.0"

	app.HandlerFunc(http.MethodGet, version, "/job/{id}", status(cfg))
	app.HandlerFunc(http.MethodPost, version, "/job/{id}/cancel", cancel(cfg))
	app.HandlerFunc(http.MethodPost, version, "/job/{id}/purge", purgeOne(cfg))
	app.HandlerFunc(http.MethodPost, version, "/job/purge", purgeAll(cfg))
	app.HandlerFunc(http.MethodGet, version, "/scheduler/information", information(cfg))
}

// jobResponse represents the full status of one job.
type jobResponse struct {
	JobID       int64      `json:"jobId"`
	Key         string     `json:"key"`
	Description string     `json:"description"`
	Pool        job.Pool   `json:"pool"`
	State       job.State  `json:"state"`
	Message     string     `json:"message"`
	Created     time.Time  `json:"created"`
	Started     *time.Time `json:"started,omitempty"`
	Ended       *time.Time `json:"ended,omitempty"`

	StandardOutput string `json:"standardOutput,omitempty"`
	StandardError  string `json:"standardError,omitempty"`
	ExitValue      *int   `json:"exitValue,omitempty"`
}

// Encode implements the web.Encoder interface.
func (jr jobResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func toJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		JobID:       j.ID(),
		Key:         j.Key(),
		Description: j.Description(),
		Pool:        j.PoolAffinity(),
		State:       j.State(),
		Message:     j.Message(),
		Created:     j.CreatedAt(),
	}

	if t, ok := j.StartedAt(); ok {
		resp.Started = &t
	}
	if t, ok := j.EndedAt(); ok {
		resp.Ended = &t
	}

	if details, ok := j.Executor().(job.ProcessDetails); ok && j.Done() {
		resp.StandardOutput = details.StandardOutput()
		resp.StandardError = details.StandardError()
		exit := details.ExitValue()
		resp.ExitValue = &exit
	}

	return resp
}

// cancelResponse represents the response for a cancel request.
type cancelResponse struct {
	JobID int64     `json:"jobId"`
	State job.State `json:"state"`
}

// Encode implements the web.Encoder interface.
func (cr cancelResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(cr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// purgeResponse represents the response for purge requests.
type purgeResponse struct {
	Purged int `json:"purged"`
}

// Encode implements the web.Encoder interface.
func (pr purgeResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(pr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// informationResponse summarizes the scheduler's registry.
type informationResponse struct {
	Started   time.Time `json:"started"`
	Jobs      int       `json:"jobs"`
	Scheduled int       `json:"scheduled"`
	Running   int       `json:"running"`
	Done      int       `json:"done"`
}

// Encode implements the web.Encoder interface.
func (ir informationResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(ir)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func jobID(r *http.Request) (int64, *errs.Error) {
	raw := web.Param(r, "id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errs.Newf(errs.InvalidArgument, "invalid job id %q", raw)
	}

	return id, nil
}

func status(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, appErr := jobID(r)
		if appErr != nil {
			return appErr
		}

		j, err := cfg.Scheduler.Job(id)
		if err != nil {
			return errs.New(errs.NotFound, err)
		}

		return toJobResponse(j)
	}
}

func cancel(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, appErr := jobID(r)
		if appErr != nil {
			return appErr
		}

		state, err := cfg.Scheduler.Cancel(ctx, id)
		if err != nil {
			return errs.New(errs.NotFound, err)
		}

		return cancelResponse{JobID: id, State: state}
	}
}

func purgeOne(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, appErr := jobID(r)
		if appErr != nil {
			return appErr
		}

		j, err := cfg.Scheduler.Job(id)
		if err != nil {
			return errs.New(errs.NotFound, err)
		}

		if !j.Done() {
			return errs.Newf(errs.FailedPrecondition, "job %d is still %s", id, j.State())
		}

		if !cfg.Scheduler.PurgeJob(id) {
			return errs.Newf(errs.NotFound, "job %d not found", id)
		}

		return purgeResponse{Purged: 1}
	}
}

func purgeAll(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return purgeResponse{Purged: cfg.Scheduler.Purge()}
	}
}

func information(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		resp := informationResponse{Started: cfg.Scheduler.StartedAt()}

		for _, j := range cfg.Scheduler.Snapshot() {
			resp.Jobs++
			switch j.State() {
			case job.StateScheduled:
				resp.Scheduled++
			case job.StateRunning:
				resp.Running++
			default:
				resp.Done++
			}
		}

		return resp
	}
}
