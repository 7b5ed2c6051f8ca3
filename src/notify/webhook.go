package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

type webhookBody struct {
	UserID  uint                   `json:"user_id"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	SentAt  time.Time              `json:"sent_at"`
}

// WebhookNotifier posts each event as JSON to a fixed URL from a background goroutine.
type WebhookNotifier struct {
	http *resty.Client
	url  string
	wg   sync.WaitGroup
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		http: resty.New().SetTimeout(timeout),
		url:  url,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, userID uint, event string, payload map[string]interface{}) {
	body := webhookBody{UserID: userID, Event: event, Payload: payload, SentAt: time.Now().UTC()}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("component", "notify").Errorf("webhook panic: %v", r)
			}
		}()

		if err := w.send(context.WithoutCancel(ctx), body); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "notify",
				"user_id":   userID,
				"event":     event,
			}).WithError(err).Warn("webhook delivery failed")
		}
	}()
}

func (w *WebhookNotifier) send(ctx context.Context, body webhookBody) error {
	resp, err := w.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(w.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Wait blocks until in-flight deliveries finish; used on shutdown.
func (w *WebhookNotifier) Wait() {
	w.wg.Wait()
}
