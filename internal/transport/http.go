package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"boundq/internal/runner"
)

const defaultMaxBody = 64 << 10

type HTTPOptions struct {
	Method   string
	Headers  map[string]string
	Body     string // template, see TemplateEngine
	Insecure bool
	MaxConns int
	MaxBody  int64
}

// HTTPSender issues one HTTP request per attempt. Timeouts come from the attempt
// context, not from the client.
type HTTPSender struct {
	Client *http.Client

	method  string
	headers map[string]string
	body    *template.Template
	engine  *TemplateEngine
	maxBody int64
}

func NewHTTPSender(opts HTTPOptions) (*HTTPSender, error) {
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = 2000
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = maxConns
	t.MaxConnsPerHost = maxConns
	t.MaxIdleConnsPerHost = maxConns
	if opts.Insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	s := &HTTPSender{
		Client:  &http.Client{Transport: t},
		method:  strings.ToUpper(opts.Method),
		headers: opts.Headers,
		engine:  NewTemplateEngine(),
		maxBody: opts.MaxBody,
	}
	if s.method == "" {
		s.method = http.MethodGet
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}
	if opts.Body != "" {
		tpl, err := s.engine.Parse("body", opts.Body)
		if err != nil {
			return nil, err
		}
		s.body = tpl
	}
	return s, nil
}

func (s *HTTPSender) Send(ctx context.Context, a runner.Attempt) (*runner.Response, error) {
	var body io.Reader
	if s.body != nil {
		b, err := s.engine.Execute(s.body, NewTemplateData(a))
		if err != nil {
			return nil, fmt.Errorf("render body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, a.Target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	kept, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, err
	}
	rest, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, err
	}

	return &runner.Response{
		StatusCode: resp.StatusCode,
		Body:       kept,
		Bytes:      int64(len(kept)) + rest,
	}, nil
}

// Close releases idle connections.
func (s *HTTPSender) Close() {
	s.Client.CloseIdleConnections()
}
