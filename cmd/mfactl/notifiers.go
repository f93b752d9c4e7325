package main

import (
	"fmt"
	"io"

	"github.com/MrEthical07/goMFA/notify"
)

// buildNotifier returns the configured gateway for one channel, rate limited
// when rate_per_second is set. The closer is nil unless the gateway holds a
// connection.
func buildNotifier(name string, cfg channelConfig) (notify.Notifier, io.Closer, error) {
	var (
		n      notify.Notifier
		closer io.Closer
	)
	switch cfg.Notifier {
	case "", "mock":
		n = notify.NewMock()
	case "webhook":
		w, err := notify.NewWebhook(notify.WebhookConfig{
			URL:         cfg.WebhookURL,
			BearerToken: cfg.BearerToken,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s notifier: %w", name, err)
		}
		n = w
	case "smtp":
		s, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			StartTLS: cfg.SMTPStartTLS,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s notifier: %w", name, err)
		}
		n = s
	case "kafka":
		k, err := notify.NewKafka(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s notifier: %w", name, err)
		}
		n, closer = k, k
	default:
		return nil, nil, fmt.Errorf("%s notifier: unknown kind %q", name, cfg.Notifier)
	}

	if cfg.RatePerSecond > 0 {
		n = notify.NewThrottle(n, cfg.RatePerSecond, cfg.Burst)
	}
	return n, closer, nil
}
