package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultPostmarkURL = "https://api.postmarkapp.com"

type PostmarkProvider struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

type postmarkEmail struct {
	From       string `json:"From"`
	To         string `json:"To"`
	Subject    string `json:"Subject"`
	TextBody   string `json:"TextBody,omitempty"`
	HtmlBody   string `json:"HtmlBody,omitempty"`
	Tag        string `json:"Tag,omitempty"`
	TrackOpens bool   `json:"TrackOpens"`
}

func NewPostmarkProvider(apiKey, from, baseURL string) *PostmarkProvider {
	if baseURL == "" {
		baseURL = defaultPostmarkURL
	}
	return &PostmarkProvider{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

func (p *PostmarkProvider) SendEmail(ctx context.Context, email *Email) error {
	if err := validateEmail(email); err != nil {
		return err
	}

	payload, err := json.Marshal(postmarkEmail{
		From:       p.from,
		To:         email.To,
		Subject:    email.Subject,
		TextBody:   email.Text,
		HtmlBody:   email.HTML,
		Tag:        email.Tag,
		TrackOpens: true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email via postmark: %w", err)
	}
	body, err := readResponse(resp, "postmark")
	if err != nil {
		return err
	}

	var result postmarkResponse
	_ = json.Unmarshal(body, &result)
	if result.ErrorCode != 0 {
		return fmt.Errorf("postmark error (%d): %s", result.ErrorCode, result.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("postmark API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
