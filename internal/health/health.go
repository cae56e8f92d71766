package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Waiter polls a target's health endpoint until it answers or the attempt
// budget runs out. Exhaustion is a plain false, never an error, so callers
// can branch without exception machinery.
type Waiter struct {
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger
}

func NewWaiter(logger *slog.Logger) *Waiter {
	return &Waiter{
		// Health probes must answer fast; a slow probe is a failed probe.
		client:   &http.Client{Timeout: 900 * time.Millisecond},
		interval: time.Second,
		logger:   logger,
	}
}

// WaitReady probes url once per second for up to attempts tries. Ready
// means the GET completed with a 2xx status; connection errors and non-2xx
// responses both count as not ready.
func (w *Waiter) WaitReady(ctx context.Context, url string, attempts int) bool {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(w.interval):
			}
		}
		if w.probe(ctx, url) {
			w.logger.Info("target ready", "url", url, "attempts", i+1)
			return true
		}
	}
	w.logger.Warn("target never became ready", "url", url, "attempts", attempts)
	return false
}

func (w *Waiter) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
