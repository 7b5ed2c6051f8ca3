package notify

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebhookURL     string        `envconfig:"NOTIFY_WEBHOOK_URL" default:""`
	WebhookTimeout time.Duration `envconfig:"NOTIFY_WEBHOOK_TIMEOUT" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// FromConfig always logs events and also posts them when a webhook URL is set.
func FromConfig(cfg Config) Notifier {
	if cfg.WebhookURL == "" {
		return LogNotifier{}
	}
	return Multi{LogNotifier{}, NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout)}
}
