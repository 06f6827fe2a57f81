// Package notify implements the best-effort terminal-status webhook of
// SPEC_FULL §12: one POST of a JSON summary once a run reaches a terminal
// status, using go-resty/resty/v2 the way internal/bus/httpclient does for
// its calls to a coordinator's HTTP bus API.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/benchctl/benchctl/internal/model"
	obslog "github.com/benchctl/benchctl/internal/obs/log"
)

// Summary is the JSON body posted to a scenario's notify.webhook_url.
type Summary struct {
	RunID         string  `json:"run_id"`
	Status        string  `json:"status"`
	ReasonCode    string  `json:"reason_code"`
	ReasonMessage string  `json:"reason_message,omitempty"`
	TotalOps      int64   `json:"total_ops"`
	ErrorCount    int64   `json:"error_count"`
	QPS           float64 `json:"qps"`
}

// SummaryFromRun builds a Summary from a terminal Run row.
func SummaryFromRun(r *model.Run) Summary {
	return Summary{
		RunID:         r.RunID,
		Status:        string(r.Status),
		ReasonCode:    r.ReasonCode,
		ReasonMessage: r.ReasonMessage,
		TotalOps:      r.TotalOps,
		ErrorCount:    r.ErrorCount,
		QPS:           r.CurrentQPS,
	}
}

// Notifier posts a Summary to a webhook URL, best-effort: a delivery
// failure is logged, not propagated, since a run's terminal status is
// already durably persisted by the time Notify is called (spec: the
// webhook is a convenience, not part of the state machine).
type Notifier struct {
	rc     *resty.Client
	logger *slog.Logger
}

// New constructs a Notifier with a short fixed timeout; unlike the bus
// client this never retries, matching SPEC_FULL §12's "best-effort, fired
// once" wording.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		rc:     resty.New().SetTimeout(5 * time.Second),
		logger: logger,
	}
}

// Notify posts summary to webhookURL. Errors are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, webhookURL string, summary Summary) {
	if webhookURL == "" {
		return
	}
	resp, err := n.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(summary).
		Post(webhookURL)
	if err != nil {
		obslog.Warn(ctx, n.logger, "terminal-status webhook delivery failed", "run_id", summary.RunID, "url", webhookURL, "err", err)
		return
	}
	if resp.IsError() {
		obslog.Warn(ctx, n.logger, "terminal-status webhook rejected", "run_id", summary.RunID, "url", webhookURL, "status", resp.StatusCode())
	}
}
