package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
)

// Client posts finished-game records to the external record service.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post delivers one record. A non-2xx response is an error; the caller
// decides whether to retry.
func (c *Client) Post(ctx context.Context, rec Record) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/api/games")
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	req.SetBody(payload)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return fmt.Errorf("archive request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("archive api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}
	return nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

// DirectSubmitter delivers records in a detached task with no retry, the
// original fire-and-forget behavior used when no queue backend is available.
type DirectSubmitter struct {
	client *Client
}

func NewDirectSubmitter(client *Client) *DirectSubmitter {
	return &DirectSubmitter{client: client}
}

func (d *DirectSubmitter) Submit(rec Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.client.Post(ctx, rec); err != nil {
			obslog.L().Error("archive_submit_error", zap.Error(err))
			return
		}
		obslog.L().Info("archive_submit", zap.Time("played_at", rec.PlayedAt))
	}()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
