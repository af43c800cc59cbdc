package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// HTTPTrigger POSTs a Command to a processor webhook.
type HTTPTrigger struct {
	url    string
	client *http.Client
}

// NewHTTPTrigger creates a webhook trigger.
func NewHTTPTrigger(url string, timeout time.Duration) *HTTPTrigger {
	return &HTTPTrigger{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTrigger) Name() string { return "http" }

func (t *HTTPTrigger) Signal(ctx context.Context, job *models.Job) error {
	body, err := json.Marshal(newCommand(job))
	if err != nil {
		return fmt.Errorf("encoding dispatch command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook returned status %d", ErrDispatchUnavailable, resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to ErrDispatchUnavailable.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrDispatchUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrDispatchUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrDispatchUnavailable, err)
}

var _ Trigger = (*HTTPTrigger)(nil)
