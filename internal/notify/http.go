package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/webhook"
)

// HTTPPublisher POSTs each event, HMAC-signed, to one downstream URL.
// Receivers verify X-Idv-Signature with the same scheme vendors use towards us.
type HTTPPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

func NewHTTPPublisher(url string, secret []byte) *HTTPPublisher {
	return &HTTPPublisher{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type envelope struct {
	Topic  string    `json:"topic"`
	SentAt time.Time `json:"sent_at"`
	Data   any       `json:"data"`
}

func (p *HTTPPublisher) Publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(envelope{Topic: topic, SentAt: time.Now().UTC(), Data: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idv-Signature", webhook.Sign(p.secret, payload))
	req.Header.Set("X-Idv-Topic", topic)
	req.Header.Set("User-Agent", "idvsync-notify/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", topic, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("deliver %s: HTTP %d", topic, resp.StatusCode)
	}
	return nil
}

func (p *HTTPPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
