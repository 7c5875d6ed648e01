package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookTrigger POSTs an Event to a fixed URL.
type WebhookTrigger struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

func NewWebhookTrigger(url string) *WebhookTrigger {
	return &WebhookTrigger{
		url:        url,
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
		now:        time.Now,
	}
}

func (t *WebhookTrigger) RecomputeFactors(ctx context.Context, code string) error {
	return t.post(ctx, Event{Kind: KindFactors, Code: code, RequestedAt: t.now()})
}

func (t *WebhookTrigger) RecomputeAllScores(ctx context.Context) error {
	return t.post(ctx, Event{Kind: KindScores, RequestedAt: t.now()})
}

func (t *WebhookTrigger) post(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return &TriggerError{Kind: ev.Kind, Code: ev.Code, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return &TriggerError{Kind: ev.Kind, Code: ev.Code, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &TriggerError{Kind: ev.Kind, Code: ev.Code, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TriggerError{Kind: ev.Kind, Code: ev.Code, Err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}
	return nil
}
