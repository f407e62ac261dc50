package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/packetline/adapter"
	"github.com/pithecene-io/packetline/adapter/redis"
	"github.com/pithecene-io/packetline/adapter/webhook"
	"github.com/pithecene-io/packetline/cli/config"
)

func adapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "adapter", Usage: "Report adapter: webhook or redis (optional)"},
		&cli.StringFlag{Name: "adapter-url", Usage: "Webhook endpoint or Redis URL"},
		&cli.StringFlag{Name: "adapter-channel", Usage: "Redis pub/sub channel (default: packetline:reports)"},
		&cli.StringSliceFlag{Name: "adapter-header", Usage: "Webhook header as Key=Value (repeatable)"},
		&cli.DurationFlag{Name: "adapter-timeout", Usage: "Per-notification timeout (default: adapter specific)"},
		&cli.IntFlag{Name: "adapter-retries", Usage: "Retry attempts per notification", Value: webhook.DefaultRetries},
	}
}

// adapterChoice holds the resolved adapter settings.
type adapterChoice struct {
	typ     string
	url     string
	channel string
	headers map[string]string
	timeout time.Duration
	retries int
}

// parseAdapterConfigWithPrecedence resolves adapter settings from flags
// over cfg. An empty typ means no adapter.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config) (adapterChoice, error) {
	choice := adapterChoice{
		typ:     resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type })),
		url:     resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel: resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		timeout: resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries: c.Int("adapter-retries"),
		headers: make(map[string]string),
	}
	if !c.IsSet("adapter-retries") && cfg != nil && cfg.Adapter.Retries != nil {
		choice.retries = *cfg.Adapter.Retries
	}
	if cfg != nil {
		for k, v := range cfg.Adapter.Headers {
			choice.headers[k] = v
		}
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return adapterChoice{}, fmt.Errorf("invalid --adapter-header %q (want Key=Value)", h)
		}
		choice.headers[strings.TrimSpace(k)] = v
	}

	switch choice.typ {
	case "":
		return choice, nil
	case config.AdapterWebhook, config.AdapterRedis:
		if choice.url == "" {
			return adapterChoice{}, fmt.Errorf("--adapter-url is required when --adapter=%s", choice.typ)
		}
	default:
		return adapterChoice{}, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", choice.typ)
	}
	if choice.retries < 0 {
		return adapterChoice{}, fmt.Errorf("--adapter-retries must be >= 0, got %d", choice.retries)
	}
	return choice, nil
}

// buildNotifier constructs the notifier for choice, or nil without one.
func buildNotifier(choice adapterChoice) (adapter.Notifier, error) {
	switch choice.typ {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		n, err := webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.AdapterRedis:
		n, err := redis.New(redis.Config{
			URL:     choice.url,
			Channel: choice.channel,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", choice.typ)
	}
}
