package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts channel messages to configured HTTP endpoints. Edits are
// delivered as a second POST carrying the ref of the original message;
// the receiving transport decides how to apply them.
type Webhook struct {
	Endpoints map[Channel]string
	Client    *http.Client
	Logger    *log.Logger
}

func NewWebhook(endpoints map[Channel]string, logger *log.Logger) *Webhook {
	return &Webhook{
		Endpoints: endpoints,
		Client:    &http.Client{Timeout: defaultWebhookTimeout},
		Logger:    logger,
	}
}

type webhookPayload struct {
	Ref    MessageRef `json:"ref"`
	EditOf MessageRef `json:"edit_of,omitempty"`
	Message
}

func (w *Webhook) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

func (w *Webhook) Send(ctx context.Context, msg Message) (MessageRef, error) {
	ref := MessageRef(uuid.New().String())
	return ref, w.post(ctx, webhookPayload{Ref: ref, Message: msg})
}

func (w *Webhook) Edit(ctx context.Context, ref MessageRef, msg Message) error {
	return w.post(ctx, webhookPayload{Ref: MessageRef(uuid.New().String()), EditOf: ref, Message: msg})
}

func (w *Webhook) post(ctx context.Context, payload webhookPayload) error {
	endpoint := w.Endpoints[payload.Channel]
	if endpoint == "" {
		// Unconfigured channel: drop, but keep it visible for operators.
		w.logger().Printf("notify: no endpoint for channel %s, dropping message", payload.Channel)
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint %s returned %d", endpoint, res.StatusCode)
	}
	return nil
}
