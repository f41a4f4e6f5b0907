package email

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gitshopapp/checkout/internal/observability"
)

const sendTimeout = 30 * time.Second

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Tag groups messages by notification type where the provider supports it.
	Tag string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Domain   string // Mailgun only
	BaseURL  string
}

// NewProvider builds the configured provider. An empty provider name
// returns nil; callers treat that as notifications disabled.
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "":
		return nil, nil
	case "postmark":
		return NewPostmarkProvider(config.APIKey, config.From, config.BaseURL), nil
	case "mailgun":
		return NewMailgunProvider(config.APIKey, config.Domain, config.From, config.BaseURL), nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'postmark', 'mailgun', or 'resend'")
	}
}

func validateEmail(email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	if email.To == "" {
		return fmt.Errorf("email recipient is required")
	}
	if email.Text == "" && email.HTML == "" {
		return fmt.Errorf("email body is empty")
	}
	return nil
}

// readResponse drains and closes resp, returning the body.
func readResponse(resp *http.Response, provider string) ([]byte, error) {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, readErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close %s response body: %w", provider, closeErr)
	}
	return body, nil
}

func newHTTPClient() *http.Client {
	return observability.NewHTTPClient(sendTimeout)
}
