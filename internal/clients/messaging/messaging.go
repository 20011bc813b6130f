// Package messaging delivers alert text over the instant-messaging and SMS
// providers.
package messaging

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tripwatch/server/internal/lib/dispatch"
)

// HTTPDoer is the part of *http.Client the providers need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider sends text to one address.
type Provider interface {
	Send(ctx context.Context, address, text string) error
}

// Config for both providers. A provider with missing credentials is left
// unconfigured and reports dispatch.ErrProviderUnavailable.
type Config struct {
	MessengerWebhookURL string        `koanf:"messenger_webhook_url" yaml:"messenger_webhook_url"`
	MessengerToken      string        `koanf:"messenger_token" yaml:"messenger_token"`
	TwilioAccountSID    string        `koanf:"twilio_account_sid" yaml:"twilio_account_sid"`
	TwilioAuthToken     string        `koanf:"twilio_auth_token" yaml:"twilio_auth_token"`
	TwilioFromNumber    string        `koanf:"twilio_from_number" yaml:"twilio_from_number"`
	TwilioBaseURL       string        `koanf:"twilio_base_url" yaml:"twilio_base_url"`
	Timeout             time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Router implements dispatch.Sender by picking the provider for a channel.
type Router struct {
	providers map[dispatch.Channel]Provider
}

// NewRouter builds a router; nil providers are treated as unavailable.
func NewRouter(messenger, sms Provider) *Router {
	r := &Router{providers: make(map[dispatch.Channel]Provider)}
	if messenger != nil {
		r.providers[dispatch.ChannelMessenger] = messenger
	}
	if sms != nil {
		r.providers[dispatch.ChannelSMS] = sms
	}
	return r
}

// FromConfig builds a router with whichever providers cfg configures.
func FromConfig(cfg Config) *Router {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	doer := &http.Client{Timeout: timeout}

	var messenger, sms Provider
	if cfg.MessengerWebhookURL != "" {
		messenger = NewWebhook(cfg.MessengerWebhookURL, cfg.MessengerToken, doer)
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		sms = NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.TwilioBaseURL, doer)
	}
	return NewRouter(messenger, sms)
}

// Configured reports whether any provider can send.
func (r *Router) Configured() bool {
	return len(r.providers) > 0
}

// Send implements dispatch.Sender.
func (r *Router) Send(ctx context.Context, channel dispatch.Channel, address, text string) error {
	p, ok := r.providers[channel]
	if !ok {
		return fmt.Errorf("%s: %w", channel, dispatch.ErrProviderUnavailable)
	}
	return p.Send(ctx, address, text)
}

// statusError classifies a provider HTTP status. Server-side failures are
// reported as unavailable so the dispatcher can record degraded mode.
func statusError(provider string, code int, body string) error {
	if code >= 500 || code == http.StatusTooManyRequests {
		return fmt.Errorf("%s: status %d: %w", provider, code, dispatch.ErrProviderUnavailable)
	}
	return fmt.Errorf("%s: status %d: %s", provider, code, body)
}
