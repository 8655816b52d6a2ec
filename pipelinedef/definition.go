// Package pipelinedef loads pipeline definitions from YAML and builds them
// into runnable pipelines through a step registry.
//
// A definition file looks like:
//
//	name: import_prices
//	schedule: "0 2 * * *"
//	settings:
//	  clean_old_logs: 7
//	  email_final_log_to: [ops@example.com]
//	shared:
//	  currency: EUR
//	steps:
//	  - kind: http
//	    name: fetch
//	    params:
//	      url: https://feed.example.com/prices.json
//	  - kind: sql
//	    name: load
//	    depends_on: [fetch]
//	    params:
//	      statement: CALL load_prices()
package pipelinedef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/gosync/config"
	"github.com/nomis52/gosync/pipeline"
)

// Definition is one pipeline read from YAML.
type Definition struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schedule    string         `yaml:"schedule"`
	Settings    Overrides      `yaml:"settings"`
	Shared      map[string]any `yaml:"shared"`
	Steps       []StepDef      `yaml:"steps"`

	// Source is the file the definition was read from.
	Source string `yaml:"-"`
}

// StepDef is one step of a definition. Params are decoded by the step
// factory of Kind.
type StepDef struct {
	Kind      string    `yaml:"kind"`
	Name      string    `yaml:"name"`
	DependsOn []string  `yaml:"depends_on"`
	Params    yaml.Node `yaml:"params"`
}

// Overrides replaces parts of the configured sync settings for one
// pipeline. Unset fields keep the configured value.
type Overrides struct {
	AllowOverlapping *bool                  `yaml:"allow_overlapping"`
	ProfileSQL       *bool                  `yaml:"profile_sql"`
	EmailAlertsTo    []string               `yaml:"email_alerts_to"`
	EmailFinalLogTo  []string               `yaml:"email_final_log_to"`
	Telegram         *config.TelegramConfig `yaml:"telegram"`
	CleanOldLogs     *int                   `yaml:"clean_old_logs"`
	SendOutputToEcho *bool                  `yaml:"send_output_to_echo"`
	Env              string                 `yaml:"env"`
}

// Apply returns cfg with the overrides applied.
func (o Overrides) Apply(cfg config.SyncConfig) config.SyncConfig {
	if o.AllowOverlapping != nil {
		cfg.AllowOverlapping = *o.AllowOverlapping
	}
	if o.ProfileSQL != nil {
		cfg.ProfileSQL = *o.ProfileSQL
	}
	if o.EmailAlertsTo != nil {
		cfg.EmailAlertsTo = append([]string(nil), o.EmailAlertsTo...)
	}
	if o.EmailFinalLogTo != nil {
		cfg.EmailFinalLogTo = append([]string(nil), o.EmailFinalLogTo...)
	}
	if o.Telegram != nil {
		cfg.Telegram = *o.Telegram
	}
	if o.CleanOldLogs != nil {
		cfg.CleanOldLogs = *o.CleanOldLogs
	}
	if o.SendOutputToEcho != nil {
		cfg.SendOutputToEcho = *o.SendOutputToEcho
	}
	if o.Env != "" {
		cfg.Env = o.Env
	}
	return cfg
}

// Parse decodes a single definition. Unknown keys are rejected.
func Parse(data []byte, source string) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty pipeline definition", source)
		}
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}
	def.Source = source

	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", d.Name)
	}
	for i, step := range d.Steps {
		if step.Kind == "" {
			return fmt.Errorf("pipeline %q: step %d has no kind", d.Name, i)
		}
	}
	if d.Settings.CleanOldLogs != nil && *d.Settings.CleanOldLogs < 0 {
		return fmt.Errorf("pipeline %q: clean_old_logs must not be negative", d.Name)
	}
	return nil
}

// LoadFile reads the definition at path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// LoadDir reads every *.yaml and *.yml file in dir, sorted by name.
// Pipeline names must be unique across the directory.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("pipeline %q defined twice: %s and %s", def.Name, prev, path)
		}
		seen[def.Name] = path
		defs = append(defs, def)
	}
	return defs, nil
}

// Load reads a definition file, or every definition of a directory.
func Load(path string) ([]*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	def, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*Definition{def}, nil
}

// StepSpecs converts the step definitions into registry specs.
func (d *Definition) StepSpecs() []pipeline.StepSpec {
	specs := make([]pipeline.StepSpec, 0, len(d.Steps))
	for _, step := range d.Steps {
		spec := pipeline.StepSpec{
			Kind:      step.Kind,
			Name:      step.Name,
			DependsOn: append([]string(nil), step.DependsOn...),
		}
		if step.Params.Kind != 0 {
			spec.Decode = strictDecoder(step.Params)
		}
		specs = append(specs, spec)
	}
	return specs
}

// strictDecoder decodes params into v, rejecting keys v does not declare.
func strictDecoder(node yaml.Node) func(v any) error {
	return func(v any) error {
		data, err := yaml.Marshal(&node)
		if err != nil {
			return err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("params: %w", err)
		}
		return nil
	}
}

// BuildSteps builds the steps through reg and validates their
// dependencies.
func (d *Definition) BuildSteps(reg *pipeline.Registry) ([]pipeline.Step, error) {
	steps, err := reg.BuildAll(d.StepSpecs())
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", d.Name, err)
	}
	if err := pipeline.Validate(steps); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", d.Name, err)
	}
	return steps, nil
}

// Build creates the pipeline, with cfg adjusted by the definition's
// settings.
func (d *Definition) Build(reg *pipeline.Registry, cfg config.SyncConfig, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	steps, err := d.BuildSteps(reg)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(d.Name, d.Settings.Apply(cfg), opts...)
	if err != nil {
		return nil, err
	}
	p.SetSteps(steps...)
	if len(d.Shared) > 0 {
		p.SetSharedData(d.Shared)
	}
	return p, nil
}

// Names returns the set of pipeline names in defs.
func Names(defs []*Definition) map[string]bool {
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		names[def.Name] = true
	}
	return names
}
