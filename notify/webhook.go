package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ferreirogomes/matricula/models"

	"github.com/cenkalti/backoff/v4"
)

const webhookAttempts = 3

// WebhookSink publica cada evento como JSON num endpoint HTTP. Respostas 5xx e erros de rede
// são repetidas com backoff exponencial; 4xx não.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func (s WebhookSink) Deliver(ctx context.Context, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("falha ao serializar evento: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	post := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook respondeu %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook respondeu %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), webhookAttempts-1), ctx)
	return backoff.Retry(post, policy)
}
