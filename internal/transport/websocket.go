package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/gorilla/websocket"

	"boundq/internal/runner"
)

// WSOptions configures a WSSender. Message is a template rendered per attempt.
type WSOptions struct {
	Message  string
	Headers  map[string]string
	Insecure bool
}

// WSSender opens a connection per attempt, writes one text frame and waits for one
// reply. A successful exchange reports status 101.
type WSSender struct {
	dialer *websocket.Dialer
	header http.Header
	msg    *template.Template
	engine *TemplateEngine
}

func NewWSSender(opts WSOptions) (*WSSender, error) {
	d := *websocket.DefaultDialer
	if opts.Insecure {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	h := make(http.Header, len(opts.Headers))
	for k, v := range opts.Headers {
		h.Set(k, v)
	}

	s := &WSSender{dialer: &d, header: h, engine: NewTemplateEngine()}
	text := opts.Message
	if text == "" {
		text = `{"id":"{{uuid}}","seq":{{seq}}}`
	}
	tpl, err := s.engine.Parse("message", text)
	if err != nil {
		return nil, err
	}
	s.msg = tpl
	return s, nil
}

func (s *WSSender) Send(ctx context.Context, a runner.Attempt) (*runner.Response, error) {
	payload, err := s.engine.Execute(s.msg, NewTemplateData(a))
	if err != nil {
		return nil, fmt.Errorf("render message: %w", err)
	}

	conn, resp, err := s.dialer.DialContext(ctx, a.Target, s.header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return &runner.Response{StatusCode: resp.StatusCode}, nil
		}
		return nil, err
	}
	defer conn.Close()

	// the connection does not watch ctx, so close it on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		_ = conn.SetReadDeadline(dl)
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, wsErr(ctx, err)
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return nil, wsErr(ctx, err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return &runner.Response{
		StatusCode: http.StatusSwitchingProtocols,
		Body:       reply,
		Bytes:      int64(len(reply)),
	}, nil
}

// wsErr prefers the context error so that deadlines classify as timeouts.
func wsErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if websocket.IsUnexpectedCloseError(err) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %v", runner.ErrConnection, err)
	}
	return err
}
