package pipelinedef

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosync/config"
	"github.com/nomis52/gosync/pipeline"
)

// Test Helpers
// ---------------------------------------------------------------------

const importPrices = `
name: import_prices
description: nightly price import
schedule: "0 2 * * *"
settings:
  clean_old_logs: 7
  allow_overlapping: true
  email_final_log_to: [ops@example.com]
shared:
  currency: EUR
steps:
  - kind: note
    name: fetch
    params:
      message: downloading
  - kind: note
    name: load
    depends_on: [fetch]
`

type noteStep struct {
	pipeline.Base
	Message string `yaml:"message"`
}

func (s *noteStep) Perform(_ context.Context, rc *pipeline.RunContext) (pipeline.Outcome, error) {
	rc.Shared.Set(s.Name(), s.Message)
	return pipeline.Completed(), nil
}

func testRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	reg.MustRegister("note", func(spec pipeline.StepSpec) (pipeline.Step, error) {
		step := &noteStep{}
		if err := spec.Decode(step); err != nil {
			return nil, err
		}
		return step, nil
	})
	return reg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Tests
// ---------------------------------------------------------------------

func TestParse(t *testing.T) {
	def, err := Parse([]byte(importPrices), "import_prices.yaml")
	require.NoError(t, err)

	assert.Equal(t, "import_prices", def.Name)
	assert.Equal(t, "nightly price import", def.Description)
	assert.Equal(t, "0 2 * * *", def.Schedule)
	assert.Equal(t, "import_prices.yaml", def.Source)
	assert.Equal(t, map[string]any{"currency": "EUR"}, def.Shared)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, []string{"fetch"}, def.Steps[1].DependsOn)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "empty", yaml: "", wantErr: "empty pipeline definition"},
		{name: "missing name", yaml: "steps:\n  - kind: note\n", wantErr: "pipeline name is required"},
		{name: "no steps", yaml: "name: cleanup\n", wantErr: `pipeline "cleanup" has no steps`},
		{name: "step without kind", yaml: "name: cleanup\nsteps:\n  - name: x\n", wantErr: "step 0 has no kind"},
		{name: "unknown key", yaml: "name: cleanup\nstep: []\n", wantErr: "field step not found"},
		{name: "negative retention", yaml: "name: cleanup\nsettings:\n  clean_old_logs: -1\nsteps:\n  - kind: note\n", wantErr: "must not be negative"},
		{name: "malformed", yaml: "name: [cleanup\n", wantErr: "parsing bad.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "bad.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOverrides_Apply(t *testing.T) {
	base := config.SyncConfig{
		CleanOldLogs:    30,
		EmailAlertsTo:   []string{"alerts@example.com"},
		EmailFinalLogTo: []string{"team@example.com"},
		Env:             "production",
	}

	t.Run("unset fields keep the configured value", func(t *testing.T) {
		assert.Equal(t, base, Overrides{}.Apply(base))
	})

	t.Run("explicit zero values override", func(t *testing.T) {
		zero := 0
		no := false
		got := Overrides{CleanOldLogs: &zero, SendOutputToEcho: &no, EmailFinalLogTo: []string{}}.Apply(base)
		assert.Equal(t, 0, got.CleanOldLogs)
		assert.Empty(t, got.EmailFinalLogTo)
		assert.Equal(t, []string{"alerts@example.com"}, got.EmailAlertsTo)
	})

	t.Run("telegram and env", func(t *testing.T) {
		got := Overrides{
			Telegram: &config.TelegramConfig{BotToken: "token", ChannelID: "@ops"},
			Env:      "staging",
		}.Apply(base)
		assert.True(t, got.Telegram.Enabled())
		assert.Equal(t, "staging", got.Env)
	})
}

func TestBuild(t *testing.T) {
	def, err := Parse([]byte(importPrices), "import_prices.yaml")
	require.NoError(t, err)

	cfg := config.SyncConfig{LogDir: t.TempDir(), CleanOldLogs: 30, SiteName: "shop", Env: "test"}
	p, err := def.Build(testRegistry(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "import_prices", p.Name())
	settings := p.Settings()
	assert.Equal(t, 7, settings.CleanOldLogs)
	assert.True(t, settings.AllowOverlapping)
	assert.Equal(t, []string{"ops@example.com"}, settings.EmailFinalLogTo)
	assert.Equal(t, "shop", settings.SiteName)

	order, err := p.Graph()
	require.NoError(t, err)
	_, err = order.Edge("fetch", "load")
	assert.NoError(t, err)
}

func TestBuildSteps_ParamsAreStrict(t *testing.T) {
	def, err := Parse([]byte("name: cleanup\nsteps:\n  - kind: note\n    params:\n      mesage: typo\n"), "cleanup.yaml")
	require.NoError(t, err)

	_, err = def.BuildSteps(testRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field mesage not found")

	var cfgErr *pipeline.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestBuildSteps_Errors(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		def, err := Parse([]byte("name: cleanup\nsteps:\n  - kind: ftp\n"), "cleanup.yaml")
		require.NoError(t, err)
		_, err = def.BuildSteps(testRegistry())
		assert.ErrorIs(t, err, pipeline.ErrUnknownStepKind)
	})

	t.Run("dependency order", func(t *testing.T) {
		def, err := Parse([]byte(`
name: cleanup
steps:
  - kind: note
    name: load
    depends_on: [fetch]
  - kind: note
    name: fetch
`), "cleanup.yaml")
		require.NoError(t, err)

		_, err = def.BuildSteps(testRegistry())
		var depErr *pipeline.DependencyError
		require.ErrorAs(t, err, &depErr)
		assert.Equal(t, pipeline.DependencyOrder, depErr.Reason)
	})
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yml", "name: cleanup\nsteps:\n  - kind: note\n")
	writeFile(t, dir, "a.yaml", importPrices)
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "import_prices", defs[0].Name)
	assert.Equal(t, "cleanup", defs[1].Name)
	assert.Equal(t, map[string]bool{"import_prices": true, "cleanup": true}, Names(defs))

	t.Run("duplicate names", func(t *testing.T) {
		writeFile(t, dir, "c.yaml", "name: cleanup\nsteps:\n  - kind: note\n")
		_, err := LoadDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `pipeline "cleanup" defined twice`)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "import_prices.yaml", importPrices)

	defs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, path, defs[0].Source)

	defs, err = Load(dir)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
