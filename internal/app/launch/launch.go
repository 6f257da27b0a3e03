// Package launch validates processor execution requests and turns them into
// schedulable jobs backed by an external process.
package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/internal/infra/procrunner"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

// ErrInvalidRequest wraps every request validation failure so callers can map
// the whole class to a single error response.
var ErrInvalidRequest = errors.New("launch: invalid request")

// Process is the slice of the process runner the launcher depends on.
type Process interface {
	Execute(ctx context.Context, args ...string) error
	Cancel()
	StandardOutput() string
	StandardError() string
	ExitValue() int
}

// ProcessFactory builds the process for one job. dir is the resolved working
// directory; command is the processor executable.
type ProcessFactory func(dir, command string) Process

// Request describes one processor execution.
type Request struct {
	// Key correlates the job to external context, typically a workflow or
	// project identifier.
	Key string `json:"key"`

	// WorkingFolder is the directory the processor runs in, relative to
	// the configured project root.
	WorkingFolder string `json:"workingFolder"`

	// Processor is the executable to invoke.
	Processor string `json:"processor"`

	// InputFolder and OutputFolder are passed to the processor via the
	// configured flags.
	InputFolder  string `json:"inputFolder"`
	OutputFolder string `json:"outputFolder"`

	// Arguments are appended verbatim after the folder flags.
	Arguments []string `json:"arguments"`
}

// Config holds the launcher's settings.
type Config struct {
	// ProjectRoot is the directory all working folders must resolve under.
	ProjectRoot string

	// InputFlag and OutputFlag are the processor CLI flags the folders are
	// passed with.
	InputFlag  string
	OutputFlag string

	// TimeConsuming lists the processors routed to the time-consuming pool.
	TimeConsuming []string

	// Factory overrides process construction. Nil means the default
	// os/exec-backed runner.
	Factory ProcessFactory

	Log *logger.Logger
}

// Launcher builds jobs from execution requests.
type Launcher struct {
	projectRoot   string
	inputFlag     string
	outputFlag    string
	timeConsuming map[string]bool
	factory       ProcessFactory
	log           *logger.Logger
}

// New creates a launcher. The project root must name an existing directory.
func New(cfg Config) (*Launcher, error) {
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("launch: resolving project root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("launch: project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("launch: project root %q is not a directory", root)
	}

	factory := cfg.Factory
	if factory == nil {
		factory = func(dir, command string) Process { return procrunner.New(dir, command) }
	}

	tc := make(map[string]bool, len(cfg.TimeConsuming))
	for _, name := range cfg.TimeConsuming {
		tc[name] = true
	}

	return &Launcher{
		projectRoot:   root,
		inputFlag:     cfg.InputFlag,
		outputFlag:    cfg.OutputFlag,
		timeConsuming: tc,
		factory:       factory,
		log:           cfg.Log.With("component", "launch"),
	}, nil
}

// Launch validates the request and returns a job ready for scheduling. The
// job is not submitted; that is the caller's decision.
func (l *Launcher) Launch(ctx context.Context, req Request) (*job.Job, error) {
	if err := l.validate(req); err != nil {
		return nil, err
	}

	dir, err := l.resolveWorkingFolder(req.WorkingFolder)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, 4+len(req.Arguments))
	args = append(args, l.inputFlag, req.InputFolder, l.outputFlag, req.OutputFolder)
	args = append(args, req.Arguments...)

	proc := l.factory(dir, req.Processor)
	exec := &processExecutor{proc: proc, args: args}

	pool := job.PoolCore
	if l.timeConsuming[req.Processor] {
		pool = job.PoolTimeConsuming
	}

	description := fmt.Sprintf("%s in %s", req.Processor, req.WorkingFolder)
	j := job.New(req.Key, description, pool, exec)

	l.log.Info(ctx, "job prepared", "processor", req.Processor, "working_folder", req.WorkingFolder, "pool", pool)

	return j, nil
}

func (l *Launcher) validate(req Request) error {
	for field, value := range map[string]string{
		"key":           req.Key,
		"workingFolder": req.WorkingFolder,
		"processor":     req.Processor,
		"inputFolder":   req.InputFolder,
		"outputFolder":  req.OutputFolder,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s must not be blank", ErrInvalidRequest, field)
		}
	}
	return nil
}

// resolveWorkingFolder joins the requested folder with the project root and
// rejects anything that escapes it.
func (l *Launcher) resolveWorkingFolder(folder string) (string, error) {
	dir := filepath.Clean(filepath.Join(l.projectRoot, folder))

	rel, err := filepath.Rel(l.projectRoot, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: working folder %q escapes the project root", ErrInvalidRequest, folder)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: working folder %q: %v", ErrInvalidRequest, folder, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: working folder %q is not a directory", ErrInvalidRequest, folder)
	}

	return dir, nil
}

// processExecutor adapts a Process to the job executor contract and exposes
// the captured process output.
type processExecutor struct {
	proc Process
	args []string
}

func (e *processExecutor) Execute(ctx context.Context) job.Result {
	if err := e.proc.Execute(ctx, e.args...); err != nil {
		return job.Result{
			State:   job.StateInterrupted,
			Message: fmt.Sprintf("interrupted - %v", err),
		}
	}

	if code := e.proc.ExitValue(); code != 0 {
		return job.Result{
			State:   job.StateInterrupted,
			Message: fmt.Sprintf("interrupted - exit value %d", code),
		}
	}

	return job.Result{State: job.StateCompleted, Message: "completed - exit value 0"}
}

func (e *processExecutor) Kill() { e.proc.Cancel() }

func (e *processExecutor) StandardOutput() string { return e.proc.StandardOutput() }
func (e *processExecutor) StandardError() string  { return e.proc.StandardError() }
func (e *processExecutor) ExitValue() int         { return e.proc.ExitValue() }
