package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAvailablePipelines = map[string]bool{
	"import_prices": true,
	"import_stock":  true,
	"cleanup":       true,
}

func TestParseTriggerSpecs_Valid(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []TriggerSpec
	}{
		{
			name: "single trigger",
			spec: "import_prices:0 2 * * *",
			want: []TriggerSpec{{Pipelines: []string{"import_prices"}, CronSpec: "0 2 * * *"}},
		},
		{
			name: "multiple pipelines",
			spec: "import_prices,import_stock:0 2 * * *",
			want: []TriggerSpec{{Pipelines: []string{"import_prices", "import_stock"}, CronSpec: "0 2 * * *"}},
		},
		{
			name: "multiple triggers",
			spec: "import_prices,import_stock:0 2 * * *;cleanup:0 3 * * *",
			want: []TriggerSpec{
				{Pipelines: []string{"import_prices", "import_stock"}, CronSpec: "0 2 * * *"},
				{Pipelines: []string{"cleanup"}, CronSpec: "0 3 * * *"},
			},
		},
		{
			name: "whitespace",
			spec: "  import_prices , import_stock : 0 2 * * * ; cleanup : 0 3 * * *  ",
			want: []TriggerSpec{
				{Pipelines: []string{"import_prices", "import_stock"}, CronSpec: "0 2 * * *"},
				{Pipelines: []string{"cleanup"}, CronSpec: "0 3 * * *"},
			},
		},
		{
			name: "trailing semicolon",
			spec: "cleanup:0 3 * * *;",
			want: []TriggerSpec{{Pipelines: []string{"cleanup"}, CronSpec: "0 3 * * *"}},
		},
		{
			name: "empty pipeline entries are skipped",
			spec: "import_prices,,cleanup:@hourly",
			want: []TriggerSpec{{Pipelines: []string{"import_prices", "cleanup"}, CronSpec: "@hourly"}},
		},
		{
			name: "descriptor",
			spec: "cleanup:@every 15m",
			want: []TriggerSpec{{Pipelines: []string{"cleanup"}, CronSpec: "@every 15m"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := ParseTriggerSpecs(tt.spec, testAvailablePipelines)
			require.NoError(t, err)
			assert.Equal(t, tt.want, specs)
		})
	}
}

func TestParseTriggerSpecs_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr string
	}{
		{name: "empty", spec: "", wantErr: "cron spec cannot be empty"},
		{name: "only whitespace", spec: "   ", wantErr: "cron spec cannot be empty"},
		{name: "only separators", spec: ";;", wantErr: "no valid triggers found"},
		{name: "missing colon", spec: "cleanup", wantErr: "expected format 'pipelines:cron'"},
		{name: "missing pipelines", spec: ":0 2 * * *", wantErr: "missing pipelines"},
		{name: "missing schedule", spec: "cleanup:", wantErr: "missing cron schedule"},
		{name: "only commas", spec: ",,:0 2 * * *", wantErr: "no valid pipelines"},
		{name: "duplicate pipeline", spec: "cleanup,cleanup:0 2 * * *", wantErr: "duplicate pipeline 'cleanup'"},
		{name: "invalid cron", spec: "cleanup:not a cron", wantErr: "invalid cron expression"},
		{name: "colon in schedule", spec: "cleanup:0:2 * * *", wantErr: "invalid cron expression"},
		{name: "second trigger invalid", spec: "cleanup:0 2 * * *;import_prices:60 2 * * *", wantErr: "invalid cron expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := ParseTriggerSpecs(tt.spec, testAvailablePipelines)
			require.Error(t, err)
			assert.Nil(t, specs)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseTriggerSpecs_UnknownPipelineListsAvailable(t *testing.T) {
	_, err := ParseTriggerSpecs("reindex:0 2 * * *", testAvailablePipelines)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline 'reindex'")
	assert.Contains(t, err.Error(), "(available: cleanup, import_prices, import_stock)")
}

func TestValidateCronSpec(t *testing.T) {
	assert.NoError(t, ValidateCronSpec("0 2 * * *"))
	assert.NoError(t, ValidateCronSpec("@weekly"))
	assert.ErrorIs(t, ValidateCronSpec("0 25 * * *"), ErrInvalidCronSpec)
}
