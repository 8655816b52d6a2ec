package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	triggerSeparator      = ";"
	pipelineSeparator     = ":"
	pipelineListSeparator = ","
)

// parser accepts standard 5-field cron expressions and descriptors such
// as @daily or @every 15m.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TriggerSpec represents a parsed trigger specification with pipelines and cron schedule.
type TriggerSpec struct {
	Pipelines []string
	CronSpec  string
}

// ParseTriggerSpecs parses a multi-trigger specification string into individual trigger specs.
// The format is: pipeline1,pipeline2:cron_expression;pipeline3:cron_expression2
//
// Example:
//
//	"import_prices,import_stock:0 2 * * *;cleanup:0 3 * * *"
//
// Pipelines of one trigger run one after the other. Returns an error if:
//   - Any trigger is missing pipelines or cron expression
//   - Any pipeline name is not in available
//   - Any cron expression is invalid
//   - Any trigger has duplicate pipelines
func ParseTriggerSpecs(spec string, available map[string]bool) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	triggerStrs := strings.Split(spec, triggerSeparator)
	specs := make([]TriggerSpec, 0, len(triggerStrs))

	for _, triggerStr := range triggerStrs {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue
		}

		triggerSpec, err := parseSingleTrigger(triggerStr, available)
		if err != nil {
			return nil, err
		}
		specs = append(specs, triggerSpec)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}

	return specs, nil
}

// parseSingleTrigger parses a single trigger specification. Only the
// first colon separates pipelines from the schedule.
func parseSingleTrigger(triggerStr string, available map[string]bool) (TriggerSpec, error) {
	pipelinesStr, cronSpec, ok := strings.Cut(triggerStr, pipelineSeparator)
	if !ok {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: expected format 'pipelines:cron', got '%s'", triggerStr)
	}
	pipelinesStr = strings.TrimSpace(pipelinesStr)
	cronSpec = strings.TrimSpace(cronSpec)

	if pipelinesStr == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing pipelines in '%s'", triggerStr)
	}
	if cronSpec == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
	}

	names := strings.Split(pipelinesStr, pipelineListSeparator)
	pipelines := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if seen[name] {
			return TriggerSpec{}, fmt.Errorf("invalid trigger spec: duplicate pipeline '%s' in '%s'", name, triggerStr)
		}
		seen[name] = true

		if !available[name] {
			return TriggerSpec{}, fmt.Errorf("invalid trigger spec: unknown pipeline '%s' in '%s' (available: %s)",
				name, triggerStr, formatAvailable(available))
		}
		pipelines = append(pipelines, name)
	}

	if len(pipelines) == 0 {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: no valid pipelines in '%s'", triggerStr)
	}

	if _, err := parser.Parse(cronSpec); err != nil {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: invalid cron expression in '%s': %w", triggerStr, err)
	}

	return TriggerSpec{Pipelines: pipelines, CronSpec: cronSpec}, nil
}

// formatAvailable lists the available pipelines in sorted order.
func formatAvailable(available map[string]bool) string {
	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// ValidateCronSpec reports whether spec is an accepted cron expression.
func ValidateCronSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return errors.Join(ErrInvalidCronSpec, err)
	}
	return nil
}
