// Package steps provides the stock step kinds that pipeline definitions
// can use: sql statements, remote ssh commands and http requests.
//
// Every kind accepts on_error to choose what a failure does:
//
//	abort  the failure is a domain error and stops the run (default)
//	fail   the step ends as failed and the run continues
//	skip   the step ends as skipped and the run continues
package steps

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nomis52/gosync/clients/sshclient"
	"github.com/nomis52/gosync/pipeline"
)

// Step kinds registered by Register.
const (
	KindSQL  = "sql"
	KindSSH  = "ssh"
	KindHTTP = "http"
)

// OnError selects how a failing stock step ends.
type OnError string

const (
	OnErrorAbort OnError = "abort"
	OnErrorFail  OnError = "fail"
	OnErrorSkip  OnError = "skip"
)

func (o OnError) validate() error {
	switch o {
	case "", OnErrorAbort, OnErrorFail, OnErrorSkip:
		return nil
	}
	return fmt.Errorf("invalid on_error %q, use abort, fail or skip", o)
}

// handle turns a step failure into the step result.
func (o OnError) handle(err *pipeline.DomainError) (pipeline.Outcome, error) {
	switch o {
	case OnErrorFail:
		return pipeline.EndStep(pipeline.StatusFailed, err.Error()), nil
	case OnErrorSkip:
		return pipeline.EndStep(pipeline.StatusSkipped, err.Error()), nil
	default:
		return pipeline.Outcome{}, err
	}
}

// Execer runs SQL statements. *pgclient.Client implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CommandRunner runs commands on a remote host. *sshclient.SSHClient
// implements it.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout, stderr string, err error)
	Close() error
}

// SSHDialer opens a CommandRunner for a host.
type SSHDialer func(ctx context.Context, cfg sshclient.Config) (CommandRunner, error)

// DialSSH is the SSHDialer backed by sshclient.
func DialSSH(ctx context.Context, cfg sshclient.Config) (CommandRunner, error) {
	client, err := sshclient.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Deps are the collaborators of the stock steps. A nil DB makes sql steps
// fail to build.
type Deps struct {
	DB         Execer
	DialSSH    SSHDialer
	HTTPClient *http.Client
}

// Register adds the sql, ssh and http kinds to reg.
func Register(reg *pipeline.Registry, deps Deps) error {
	if deps.DialSSH == nil {
		deps.DialSSH = DialSSH
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	factories := map[string]pipeline.Factory{
		KindSQL:  newSQLFactory(deps.DB),
		KindSSH:  newSSHFactory(deps.DialSSH),
		KindHTTP: newHTTPFactory(deps.HTTPClient),
	}
	for _, kind := range []string{KindSQL, KindSSH, KindHTTP} {
		if err := reg.Register(kind, factories[kind]); err != nil {
			return err
		}
	}
	return nil
}
