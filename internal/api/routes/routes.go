// Package routes binds all the route groups for this instance of the service.
package routes

import (
	"github.com/ocrforge/procdispatch/internal/api/mux"
	"github.com/ocrforge/procdispatch/internal/api/routes/health"
	"github.com/ocrforge/procdispatch/internal/api/routes/jobs"
	"github.com/ocrforge/procdispatch/internal/api/routes/processor"
	"github.com/ocrforge/procdispatch/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build:     cfg.Build,
		Log:       cfg.Log,
		Scheduler: cfg.Scheduler,
	})

	processor.Routes(app, processor.Config{
		Log:       cfg.Log,
		Scheduler: cfg.Scheduler,
		Launcher:  cfg.Launcher,
		Describer: cfg.Describer,
	})

	jobs.Routes(app, jobs.Config{
		Log:       cfg.Log,
		Scheduler: cfg.Scheduler,
	})
}
