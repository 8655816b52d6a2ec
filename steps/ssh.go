package steps

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nomis52/gosync/clients/sshclient"
	"github.com/nomis52/gosync/pipeline"
)

// SSHParams configure an ssh step.
type SSHParams struct {
	Host                  string        `yaml:"host"`
	User                  string        `yaml:"user"`
	PrivateKeyFile        string        `yaml:"private_key_file"`
	KnownHostsFile        string        `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	Command               string        `yaml:"command"`
	Timeout               time.Duration `yaml:"timeout"`
	// StoreOutputAs saves the trimmed stdout in the shared context.
	StoreOutputAs string  `yaml:"store_output_as"`
	OnError       OnError `yaml:"on_error"`
}

// SSHStep runs one command on a remote host.
type SSHStep struct {
	pipeline.Base
	params SSHParams
	dial   SSHDialer
}

// NewSSHStep creates an ssh step.
func NewSSHStep(dial SSHDialer, params SSHParams) (*SSHStep, error) {
	switch {
	case params.Host == "":
		return nil, errors.New("host is required")
	case params.User == "":
		return nil, errors.New("user is required")
	case params.PrivateKeyFile == "":
		return nil, errors.New("private_key_file is required")
	case params.Command == "":
		return nil, errors.New("command is required")
	case params.KnownHostsFile == "" && !params.InsecureIgnoreHostKey:
		return nil, errors.New("known_hosts_file is required unless insecure_ignore_host_key is set")
	}
	if err := params.OnError.validate(); err != nil {
		return nil, err
	}
	return &SSHStep{params: params, dial: dial}, nil
}

func newSSHFactory(dial SSHDialer) pipeline.Factory {
	return func(spec pipeline.StepSpec) (pipeline.Step, error) {
		var params SSHParams
		if err := spec.Decode(&params); err != nil {
			return nil, err
		}
		return NewSSHStep(dial, params)
	}
}

// Perform implements pipeline.Step.
func (s *SSHStep) Perform(ctx context.Context, rc *pipeline.RunContext) (pipeline.Outcome, error) {
	if s.params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.params.Timeout)
		defer cancel()
	}

	key, err := sshclient.LoadPrivateKey(s.params.PrivateKeyFile)
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("SSHConnectFailed", err))
	}

	client, err := s.dial(ctx, sshclient.Config{
		Host:                  s.params.Host,
		User:                  s.params.User,
		PrivateKeyPEM:         key,
		KnownHostsFile:        s.params.KnownHostsFile,
		InsecureIgnoreHostKey: s.params.InsecureIgnoreHostKey,
	})
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("SSHConnectFailed", err))
	}
	defer client.Close()

	rc.Logger.Debug("running remote command", "host", s.params.Host, "command", s.params.Command)

	start := time.Now()
	stdout, stderr, err := client.Run(ctx, s.params.Command)
	if stderr != "" {
		rc.Logger.Info("remote command stderr", "host", s.params.Host, "stderr", strings.TrimSpace(stderr))
	}
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("RemoteCommandFailed", err))
	}

	output := strings.TrimSpace(stdout)
	rc.Logger.Info("remote command finished",
		"host", s.params.Host,
		"duration", time.Since(start),
		"output_bytes", len(stdout),
	)
	if s.params.StoreOutputAs != "" {
		rc.Shared.Set(s.params.StoreOutputAs, output)
	}
	return pipeline.Completed(), nil
}
