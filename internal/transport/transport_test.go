package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boundq/internal/dummy"
	"boundq/internal/runner"
)

func TestHTTPSender_RendersBodyAndHeaders(t *testing.T) {
	var gotBody, gotHeader, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Run")
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSender(HTTPOptions{
		Method:  "post",
		Headers: map[string]string{"X-Run": "7"},
		Body:    `{"id":"{{uuid}}","seq":{{seq}},"user":"{{userID}}"}`,
	})
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Send(context.Background(), runner.Attempt{Seq: 1001, ID: "abc", Target: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int64(11), resp.Bytes)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "7", gotHeader)
	assert.Equal(t, `{"id":"abc","seq":1001,"user":"load_test_user_1"}`, gotBody)
}

func TestHTTPSender_TruncatesBodyButCountsBytes(t *testing.T) {
	payload := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	s, err := NewHTTPSender(HTTPOptions{MaxBody: 100})
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), runner.Attempt{Target: srv.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 100)
	assert.Equal(t, int64(1000), resp.Bytes)
}

func TestHTTPSender_Classification(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{Scale: 1}))
	defer srv.Close()

	s, err := NewHTTPSender(HTTPOptions{})
	require.NoError(t, err)
	defer s.Close()

	// /slow takes at least a second
	cfg := runner.Config{Target: srv.URL + "/slow", Total: 4, Concurrency: 4, Timeout: 50 * time.Millisecond}
	res, err := runner.Run(context.Background(), cfg, s)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Summary.Reasons[runner.ReasonTimeout])

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	cfg = runner.Config{Target: url, Total: 3, Concurrency: 3, Timeout: time.Second}
	res, err = runner.Run(context.Background(), cfg, s)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.Reasons[runner.ReasonConnection])
}

func TestHTTPSender_BadTemplate(t *testing.T) {
	_, err := NewHTTPSender(HTTPOptions{Body: "{{ .Nope"})
	assert.Error(t, err)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWSSender_Echo(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	s, err := NewWSSender(WSOptions{Message: `{"method":"public/test","id":{{seq}}}`})
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), runner.Attempt{Seq: 3, ID: "x", Target: wsURL(srv, "/ws")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, `{"method":"public/test","id":3}`, string(resp.Body))

	cfg := runner.Config{Target: wsURL(srv, "/ws"), Total: 20, Concurrency: 5, Timeout: 2 * time.Second}
	res, err := runner.Run(context.Background(), cfg, s, runner.WithValidator(runner.ExpectStatus(101)))
	require.NoError(t, err)
	assert.Equal(t, 20, res.Summary.Succeeded)
}

func TestWSSender_BadHandshake(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	s, err := NewWSSender(WSOptions{})
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), runner.Attempt{Target: wsURL(srv, "/fast")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWSSender_ReplyTimeout(t *testing.T) {
	// accepts the upgrade but never answers
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	s, err := NewWSSender(WSOptions{})
	require.NoError(t, err)

	cfg := runner.Config{Target: wsURL(srv, "/"), Total: 2, Concurrency: 2, Timeout: 50 * time.Millisecond}
	res, err := runner.Run(context.Background(), cfg, s)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.Reasons[runner.ReasonTimeout])
}

func TestTemplateEngine_Functions(t *testing.T) {
	dir := t.TempDir()
	lines := filepath.Join(dir, "lines.txt")
	require.NoError(t, os.WriteFile(lines, []byte("only\n\n"), 0o644))

	e := NewTemplateEngine()
	tpl, err := e.Parse("t", `{{randomInt 5 6}}|{{randomChoice "a"}}|{{randomLine "`+lines+`"}}|{{chatID}}`)
	require.NoError(t, err)

	out, err := e.Execute(tpl, NewTemplateData(runner.Attempt{Seq: 9}))
	require.NoError(t, err)
	assert.Equal(t, "5|a|only|load_test_chat_9", string(out))

	uid, err := e.Parse("u", `{{randomUUID}}`)
	require.NoError(t, err)
	out, err = e.Execute(uid, TemplateData{})
	require.NoError(t, err)
	assert.Len(t, out, 36)
}

func TestTemplateEngine_MissingFile(t *testing.T) {
	e := NewTemplateEngine()
	tpl, err := e.Parse("t", `{{randomLine "/does/not/exist"}}`)
	require.NoError(t, err)

	_, err = e.Execute(tpl, TemplateData{})
	assert.Error(t, err)
}
