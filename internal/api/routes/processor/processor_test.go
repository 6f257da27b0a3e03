package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrforge/procdispatch/internal/app/describe"
	"github.com/ocrforge/procdispatch/internal/app/launch"
	"github.com/ocrforge/procdispatch/internal/app/scheduler"
	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/internal/infra/pool"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
	"github.com/ocrforge/procdispatch/pkg/web"
)

type fakeProcess struct {
	execErr error
	exit    int
	stdout  string
	stderr  string
}

func (f *fakeProcess) Execute(ctx context.Context, args ...string) error { return f.execErr }
func (f *fakeProcess) Cancel()                                           {}
func (f *fakeProcess) StandardOutput() string                            { return f.stdout }
func (f *fakeProcess) StandardError() string                             { return f.stderr }
func (f *fakeProcess) ExitValue() int                                    { return f.exit }

type testEnv struct {
	app  *web.App
	root string
	proc *fakeProcess
}

func newTestEnv(t *testing.T, describeRate float64) *testEnv {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)

	core, err := pool.New("core", 2, log)
	require.NoError(t, err)

	sched, err := scheduler.New(scheduler.Config{
		Pools: map[job.Pool]*pool.Pool{job.PoolCore: core},
		Log:   log,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "project-a"), 0o755))

	proc := new(fakeProcess)

	launcher, err := launch.New(launch.Config{
		ProjectRoot: root,
		InputFlag:   "-I",
		OutputFlag:  "-O",
		Factory:     func(dir, command string) launch.Process { return proc },
		Log:         log,
	})
	require.NoError(t, err)

	describer, err := describe.New(describe.Config{
		DescriptionFlag: "--dump-json",
		RatePerSecond:   describeRate,
		Burst:           1,
		Factory:         func(command string) describe.Process { return proc },
		Log:             log,
	})
	require.NoError(t, err)

	app := web.NewApp(func(ctx context.Context, msg string, args ...any) {}, nil)
	Routes(app, Config{Log: log, Scheduler: sched, Launcher: launcher, Describer: describer})

	return &testEnv{app: app, root: root, proc: proc}
}

func (e *testEnv) do(method, path string, body []byte) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.app.ServeHTTP(w, r)
	return w
}

func TestDescription(t *testing.T) {
	env := newTestEnv(t, 100)
	env.proc.stdout = `{"executable":"ocrd-binarize"}`

	w := env.do(http.MethodGet, "/api/v1.0/processor/description/json/ocrd-binarize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"executable":"ocrd-binarize"}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestDescription_FailingProcessor(t *testing.T) {
	env := newTestEnv(t, 100)
	env.proc.exit = 1
	env.proc.stderr = "no such processor"

	w := env.do(http.MethodGet, "/api/v1.0/processor/description/json/bogus", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "no such processor")
}

func TestDescription_Throttled(t *testing.T) {
	env := newTestEnv(t, 0.001)
	env.proc.stdout = `{}`

	w := env.do(http.MethodGet, "/api/v1.0/processor/description/json/ocrd-binarize", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1.0/processor/description/json/ocrd-binarize", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExecute(t *testing.T) {
	env := newTestEnv(t, 100)

	body, err := json.Marshal(launch.Request{
		Key:           "wf-1",
		WorkingFolder: "project-a",
		Processor:     "ocrd-binarize",
		InputFolder:   "OCR-D-IMG",
		OutputFolder:  "OCR-D-BIN",
	})
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/api/v1.0/processor/execute", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp executeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.JobID)
	assert.NotEqual(t, job.StateInitialized, resp.State)
}

func TestExecute_BadJSON(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/api/v1.0/processor/execute", []byte("{nope"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecute_InvalidRequest(t *testing.T) {
	env := newTestEnv(t, 100)

	body, err := json.Marshal(launch.Request{
		Key:           "wf-1",
		WorkingFolder: "../escape",
		Processor:     "ocrd-binarize",
		InputFolder:   "in",
		OutputFolder:  "out",
	})
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/api/v1.0/processor/execute", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
