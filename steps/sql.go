package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nomis52/gosync/pipeline"
)

// SQLParams configure a sql step.
type SQLParams struct {
	Statement string `yaml:"statement"`
	Args      []any  `yaml:"args"`
	// MinRows fails the step when fewer rows are affected.
	MinRows int64 `yaml:"min_rows"`
	// StoreAs saves the number of affected rows in the shared context.
	StoreAs string        `yaml:"store_as"`
	Timeout time.Duration `yaml:"timeout"`
	OnError OnError       `yaml:"on_error"`
}

// SQLStep executes one statement on the pipeline database.
type SQLStep struct {
	pipeline.Base
	params SQLParams
	db     Execer
}

// NewSQLStep creates a sql step.
func NewSQLStep(db Execer, params SQLParams) (*SQLStep, error) {
	if db == nil {
		return nil, errors.New("sql steps need a database, set database.dsn")
	}
	if params.Statement == "" {
		return nil, errors.New("statement is required")
	}
	if params.MinRows < 0 {
		return nil, errors.New("min_rows must not be negative")
	}
	if err := params.OnError.validate(); err != nil {
		return nil, err
	}
	return &SQLStep{params: params, db: db}, nil
}

func newSQLFactory(db Execer) pipeline.Factory {
	return func(spec pipeline.StepSpec) (pipeline.Step, error) {
		var params SQLParams
		if err := spec.Decode(&params); err != nil {
			return nil, err
		}
		return NewSQLStep(db, params)
	}
}

// Perform implements pipeline.Step.
func (s *SQLStep) Perform(ctx context.Context, rc *pipeline.RunContext) (pipeline.Outcome, error) {
	if s.params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.params.Timeout)
		defer cancel()
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, s.params.Statement, s.params.Args...)
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("SQLStatementFailed", err))
	}

	rows := tag.RowsAffected()
	rc.Logger.Info("statement executed",
		"command", tag.String(),
		"rows", rows,
		"duration", time.Since(start),
	)

	if s.params.StoreAs != "" {
		rc.Shared.Set(s.params.StoreAs, rows)
	}
	if rows < s.params.MinRows {
		return s.params.OnError.handle(pipeline.WrapDomainError("TooFewRows",
			fmt.Errorf("%d rows affected, expected at least %d", rows, s.params.MinRows)))
	}
	return pipeline.Completed(), nil
}
