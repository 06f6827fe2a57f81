// Package httpclient is the resty-based bus.Bus client a remote worker uses
// to reach the coordinator's internal/bus/httpapi server, with
// cenkalti/backoff/v4 retrying transient failures the same way
// dolthub-driver retries a flaky embedded engine: bounded exponential
// backoff, permanent errors short-circuit immediately.
package httpclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/obs/errs"
)

// Client implements bus.Bus against a remote coordinator's HTTP bus.
type Client struct {
	rc      *resty.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout (default 5s, matching the
// bus's 500ms-1s poll cadence with headroom for a slow network hop).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.rc.SetTimeout(d) }
}

// New constructs a Client targeting baseURL (e.g. "http://coordinator:9090").
func New(baseURL string, opts ...Option) *Client {
	rc := resty.New().SetTimeout(5 * time.Second)
	c := &Client{rc: rc, baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) runPath(runID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/runs/%s%s", c.baseURL, runID, suffix)
}

// newBackOff returns a bounded exponential backoff for one bus call: up to
// 5 attempts, capped at 2s between tries, so a worker never stalls a
// heartbeat cycle waiting on a dead coordinator.
func newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx)
}

func (c *Client) Heartbeat(ctx context.Context, hb *model.WorkerHeartbeat) error {
	return backoff.Retry(func() error {
		resp, err := c.rc.R().SetContext(ctx).SetBody(hb).Put(c.runPath(hb.RunID, "/heartbeat"))
		return classify(resp, err)
	}, newBackOff(ctx))
}

func (c *Client) PollEvents(ctx context.Context, runID string, afterSeq int64) ([]*model.ControlEvent, error) {
	var events []*model.ControlEvent
	err := backoff.Retry(func() error {
		resp, err := c.rc.R().SetContext(ctx).
			SetQueryParam("after", fmt.Sprintf("%d", afterSeq)).
			SetResult(&events).
			Get(c.runPath(runID, "/events"))
		return classify(resp, err)
	}, newBackOff(ctx))
	return events, err
}

func (c *Client) ReportQueryExecutions(ctx context.Context, execs []*model.QueryExecution) error {
	if len(execs) == 0 {
		return nil
	}
	return backoff.Retry(func() error {
		resp, err := c.rc.R().SetContext(ctx).SetBody(execs).Post(c.runPath(execs[0].RunID, "/query-executions"))
		return classify(resp, err)
	}, newBackOff(ctx))
}

func (c *Client) ReportMetricSnapshot(ctx context.Context, snap *model.MetricSnapshot) error {
	return backoff.Retry(func() error {
		resp, err := c.rc.R().SetContext(ctx).SetBody(snap).Post(c.runPath(snap.RunID, "/metrics"))
		return classify(resp, err)
	}, newBackOff(ctx))
}

// classify maps a resty response/transport error to a retryable or
// permanent error for backoff.Retry: 4xx responses are the coordinator
// rejecting the request outright and never succeed on retry; everything
// else (transport errors, 5xx) is retried.
func classify(resp *resty.Response, err error) error {
	if err != nil {
		return errs.BusError("bus request failed", err)
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return backoff.Permanent(errs.BusError(fmt.Sprintf("bus rejected request: %s", resp.Status()), nil))
	}
	if resp.IsError() {
		return errs.BusError(fmt.Sprintf("bus request failed: %s", resp.Status()), nil)
	}
	return nil
}
