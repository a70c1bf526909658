package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

// webhookSink posts envelopes to the workflow webhook
type webhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates the workflow sink
// Each send is bounded by timeout (10s when zero)
func NewWebhookSink(url string, timeout time.Duration) repo.EnvelopeSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the envelope once, 200 and 201 count as delivered
func (s *webhookSink) Send(ctx context.Context, env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return &domain.ForwardError{MessageID: env.MessageID, Err: fmt.Errorf("marshal envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return &domain.ForwardError{MessageID: env.MessageID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.ForwardError{MessageID: env.MessageID, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &domain.ForwardError{
			MessageID: env.MessageID,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return nil
}
