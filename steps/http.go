package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/nomis52/gosync/pipeline"
)

// maxBodyBytes caps how much of a response is read into the shared context.
const maxBodyBytes = 1 << 20

// HTTPParams configure an http step.
type HTTPParams struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	// ExpectStatus lists the accepted status codes. Empty accepts any 2xx.
	ExpectStatus []int `yaml:"expect_status"`
	// StoreBodyAs saves the response body in the shared context.
	StoreBodyAs string        `yaml:"store_body_as"`
	Timeout     time.Duration `yaml:"timeout"`
	OnError     OnError       `yaml:"on_error"`
}

// HTTPStep sends one request and checks the response status.
type HTTPStep struct {
	pipeline.Base
	params HTTPParams
	client *http.Client
}

// NewHTTPStep creates an http step. The method defaults to GET.
func NewHTTPStep(client *http.Client, params HTTPParams) (*HTTPStep, error) {
	if params.URL == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(params.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid url %q: scheme must be http or https", params.URL)
	}
	if params.Method == "" {
		params.Method = http.MethodGet
	}
	params.Method = strings.ToUpper(params.Method)
	if err := params.OnError.validate(); err != nil {
		return nil, err
	}
	return &HTTPStep{params: params, client: client}, nil
}

func newHTTPFactory(client *http.Client) pipeline.Factory {
	return func(spec pipeline.StepSpec) (pipeline.Step, error) {
		var params HTTPParams
		if err := spec.Decode(&params); err != nil {
			return nil, err
		}
		return NewHTTPStep(client, params)
	}
}

// Perform implements pipeline.Step.
func (s *HTTPStep) Perform(ctx context.Context, rc *pipeline.RunContext) (pipeline.Outcome, error) {
	if s.params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.params.Timeout)
		defer cancel()
	}

	var body io.Reader
	if s.params.Body != "" {
		body = strings.NewReader(s.params.Body)
	}
	req, err := http.NewRequestWithContext(ctx, s.params.Method, s.params.URL, body)
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("HTTPRequestFailed", err))
	}
	for k, v := range s.params.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("HTTPRequestFailed", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return s.params.OnError.handle(pipeline.WrapDomainError("HTTPRequestFailed",
			fmt.Errorf("reading response: %w", err)))
	}

	rc.Logger.Info("request finished",
		"method", s.params.Method,
		"url", s.params.URL,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)

	if !s.accepts(resp.StatusCode) {
		return s.params.OnError.handle(pipeline.WrapDomainError("UnexpectedStatus",
			fmt.Errorf("%s %s returned %s", s.params.Method, s.params.URL, resp.Status)))
	}

	if s.params.StoreBodyAs != "" {
		rc.Shared.Set(s.params.StoreBodyAs, string(data))
	}
	return pipeline.Completed(), nil
}

func (s *HTTPStep) accepts(status int) bool {
	if len(s.params.ExpectStatus) == 0 {
		return status >= 200 && status < 300
	}
	return slices.Contains(s.params.ExpectStatus, status)
}
