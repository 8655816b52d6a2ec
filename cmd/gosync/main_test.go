package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosync/guard"
	"github.com/nomis52/gosync/pipelinedef"
	"github.com/nomis52/gosync/schedule"
)

// Test Helpers
// ---------------------------------------------------------------------

type workspace struct {
	dir       string
	config    string
	pipelines string
	logs      string
}

// newWorkspace writes a config file and an empty pipelines directory.
func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	w := &workspace{
		dir:       dir,
		config:    filepath.Join(dir, "gosync.yaml"),
		pipelines: filepath.Join(dir, "pipelines"),
		logs:      filepath.Join(dir, "logs"),
	}
	require.NoError(t, os.Mkdir(w.pipelines, 0o755))

	cfg := fmt.Sprintf(`
site:
  name: shop
  env: test
sync:
  log_dir: %s
  clean_old_logs: 0
logging:
  output: %s
`, w.logs, filepath.Join(dir, "gosync.log"))
	require.NoError(t, os.WriteFile(w.config, []byte(cfg), 0o644))
	return w
}

func (w *workspace) define(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(w.pipelines, name+".yaml"), []byte(content), 0o644))
}

// feedPipeline fetches url and then posts to it.
func feedPipeline(name, url string) string {
	return fmt.Sprintf(`
name: %s
schedule: "0 2 * * *"
steps:
  - kind: http
    name: fetch
    params:
      url: %s/feed
      store_body_as: feed
  - kind: http
    name: notify
    depends_on: [fetch]
    params:
      url: %s/notify
      method: POST
`, name, url, url)
}

func (w *workspace) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	args = append([]string{"-c", w.config, "-p", w.pipelines}, args...)
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (w *workspace) logFiles(t *testing.T, pipeline string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(w.logs, pipeline, "*.log"))
	require.NoError(t, err)
	return files
}

// feedServer answers /feed and /notify, failing every request when status
// is not 200.
func feedServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		io.WriteString(w, `{"prices":[]}`)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

// Tests
// ---------------------------------------------------------------------

func TestExecute_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, execute([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "gosync dev")
}

func TestExecute_MissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "validate"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "failed to load config")
}

func TestExecute_Run(t *testing.T) {
	w := newWorkspace(t)
	server, hits := feedServer(t, http.StatusOK)
	w.define(t, "import_prices", feedPipeline("import_prices", server.URL))

	code, stdout, stderr := w.run("run", "import_prices")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, int32(2), hits.Load())
	assert.Contains(t, stdout, "sync started")
	assert.Contains(t, stdout, "sync finished")

	files := w.logFiles(t, "import_prices")
	require.Len(t, files, 1)
	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "INFO: step finished")
	assert.NoFileExists(t, filepath.Join(w.logs, "import_prices", "import_prices"+guard.MarkerSuffix))
}

func TestExecute_RunStopped(t *testing.T) {
	w := newWorkspace(t)
	server, hits := feedServer(t, http.StatusInternalServerError)
	w.define(t, "import_prices", feedPipeline("import_prices", server.URL))

	code, stdout, stderr := w.run("run", "import_prices")
	assert.Equal(t, 1, code)
	assert.Equal(t, int32(1), hits.Load(), "notify never runs")
	assert.Contains(t, stderr, `sync "import_prices" stopped`)
	assert.Contains(t, stdout, "domain error, sync stopped")
}

func TestExecute_RunOverlap(t *testing.T) {
	w := newWorkspace(t)
	server, _ := feedServer(t, http.StatusOK)
	w.define(t, "import_prices", feedPipeline("import_prices", server.URL))

	dir := filepath.Join(w.logs, "import_prices")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import_prices"+guard.MarkerSuffix), nil, 0o644))

	code, _, stderr := w.run("run", "import_prices")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "sync is already in process")

	code, _, stderr = w.run("run", "import_prices", "--allow-overlapping")
	assert.Equal(t, 0, code, stderr)
}

func TestExecute_RunFlags(t *testing.T) {
	w := newWorkspace(t)
	server, _ := feedServer(t, http.StatusOK)
	w.define(t, "import_prices", feedPipeline("import_prices", server.URL))

	t.Run("quiet hides info records", func(t *testing.T) {
		code, stdout, stderr := w.run("run", "import_prices", "-q")
		require.Equal(t, 0, code, stderr)
		assert.NotContains(t, stdout, "sync started")
	})

	t.Run("echo writes the log format", func(t *testing.T) {
		code, stdout, stderr := w.run("run", "import_prices", "-q", "--echo", "--input", "currency=EUR")
		require.Equal(t, 0, code, stderr)
		assert.Contains(t, stdout, "INFO: sync started")
	})

	t.Run("malformed input", func(t *testing.T) {
		code, _, stderr := w.run("run", "import_prices", "--input", "currency")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, `invalid input format "currency"`)
	})

	t.Run("unknown pipeline", func(t *testing.T) {
		code, _, stderr := w.run("run", "reindex")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, `unknown pipeline "reindex" (available: import_prices)`)
	})
}

func TestExecute_Validate(t *testing.T) {
	w := newWorkspace(t)
	w.define(t, "import_prices", feedPipeline("import_prices", "http://feed.example.com"))

	code, stdout, stderr := w.run("validate")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "ok   import_prices: 2 steps, schedule 0 2 * * *")

	w.define(t, "cleanup", `
name: cleanup
schedule: "0 25 * * *"
steps:
  - kind: sql
    params:
      statement: DELETE FROM sessions
`)
	code, stdout, stderr = w.run("validate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "FAIL cleanup")
	assert.Contains(t, stdout, "sql steps need a database")
	assert.Contains(t, stdout, "invalid cron spec")
	assert.Contains(t, stderr, "1 of 2 pipelines invalid")

	code, _, _ = w.run("validate", "import_prices")
	assert.Equal(t, 0, code)
}

func TestExecute_Graph(t *testing.T) {
	w := newWorkspace(t)
	w.define(t, "import_prices", feedPipeline("import_prices", "http://feed.example.com"))

	code, stdout, stderr := w.run("graph", "import_prices")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"fetch" -> "notify"`)
}

func TestTriggerSpecs(t *testing.T) {
	defs := []*pipelinedef.Definition{
		{Name: "import_prices", Schedule: "0 2 * * *"},
		{Name: "cleanup"},
	}

	specs, err := triggerSpecs("", defs)
	require.NoError(t, err)
	assert.Equal(t, []schedule.TriggerSpec{{Pipelines: []string{"import_prices"}, CronSpec: "0 2 * * *"}}, specs)

	specs, err = triggerSpecs("cleanup,import_prices:@daily", defs)
	require.NoError(t, err)
	assert.Equal(t, []string{"cleanup", "import_prices"}, specs[0].Pipelines)

	_, err = triggerSpecs("", defs[1:])
	assert.ErrorContains(t, err, "no pipeline has a schedule")

	_, err = triggerSpecs("reindex:@daily", defs)
	assert.ErrorContains(t, err, "unknown pipeline 'reindex'")
}

func TestPipelineRunner(t *testing.T) {
	w := newWorkspace(t)
	okServer, okHits := feedServer(t, http.StatusOK)
	badServer, _ := feedServer(t, http.StatusBadGateway)
	w.define(t, "broken", feedPipeline("broken", badServer.URL))
	w.define(t, "import_prices", feedPipeline("import_prices", okServer.URL))

	a, err := newApp(&rootOptions{configPath: w.config, pipelinesPath: w.pipelines})
	require.NoError(t, err)
	runner := &pipelineRunner{app: a}

	err = runner.RunPipelines(context.Background(), []string{"broken", "import_prices"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: stopped")
	assert.NotContains(t, err.Error(), "import_prices")
	assert.Equal(t, int32(2), okHits.Load(), "later pipelines still run")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, runner.RunPipelines(ctx, []string{"import_prices"}), context.Canceled)
}
