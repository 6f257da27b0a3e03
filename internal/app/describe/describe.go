// Package describe fetches processor self-descriptions by invoking the
// processor with its description flag. Probes run synchronously on the
// request path and are rate limited so a burst of description calls cannot
// starve the host of processes.
package describe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

// ErrInvalidProcessor is returned when the request itself is malformed.
var ErrInvalidProcessor = errors.New("describe: invalid processor")

// ErrProbeFailed is returned when the processor could not produce a
// description: it does not start, fails the probe, or emits invalid JSON.
var ErrProbeFailed = errors.New("describe: description probe failed")

// ErrBusy is returned when the probe rate limit is exhausted.
var ErrBusy = errors.New("describe: too many description probes in flight")

// Process is the slice of the process runner a probe needs.
type Process interface {
	Execute(ctx context.Context, args ...string) error
	StandardOutput() string
	StandardError() string
	ExitValue() int
}

// ProcessFactory builds the process for one probe.
type ProcessFactory func(command string) Process

// Config holds the describer's settings.
type Config struct {
	// DescriptionFlag is the CLI flag that makes a processor print its
	// JSON description, for example "--dump-json".
	DescriptionFlag string

	// Timeout bounds a single probe. Zero means the default of 30s.
	Timeout time.Duration

	// RatePerSecond and Burst configure the probe rate limit. Zero values
	// mean 2/s with a burst of 4.
	RatePerSecond float64
	Burst         int

	Factory ProcessFactory

	Log *logger.Logger
}

// Describer runs description probes.
type Describer struct {
	flag    string
	timeout time.Duration
	limiter *rate.Limiter
	factory ProcessFactory
	log     *logger.Logger
}

// New creates a describer. A process factory is required.
func New(cfg Config) (*Describer, error) {
	if cfg.Factory == nil {
		return nil, errors.New("describe: a process factory is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}

	return &Describer{
		flag:    cfg.DescriptionFlag,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		factory: cfg.Factory,
		log:     cfg.Log.With("component", "describe"),
	}, nil
}

// Describe invokes the processor with the description flag and returns its
// JSON description verbatim.
func (d *Describer) Describe(ctx context.Context, processor string) (json.RawMessage, error) {
	if strings.TrimSpace(processor) == "" {
		return nil, fmt.Errorf("%w: processor must not be blank", ErrInvalidProcessor)
	}

	if !d.limiter.Allow() {
		return nil, ErrBusy
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	proc := d.factory(processor)
	if err := proc.Execute(ctx, d.flag); err != nil {
		d.log.Info(ctx, "description probe failed", "processor", processor, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	if code := proc.ExitValue(); code != 0 {
		stderr := strings.TrimSpace(proc.StandardError())
		return nil, fmt.Errorf("%w: %s (process exit code %d)", ErrProbeFailed, stderr, code)
	}

	out := []byte(proc.StandardOutput())
	if !json.Valid(out) {
		return nil, fmt.Errorf("%w: processor %q did not produce a JSON description", ErrProbeFailed, processor)
	}

	return json.RawMessage(out), nil
}
