package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/slack-go/slack"

	"github.com/beaconhq/beacon/internal/database"
)

// Channel delivers a rendered notification to one address. Implementations
// must respect the context deadline; the dispatcher gives each channel an
// independent timeout so a slow channel cannot delay the others.
type Channel interface {
	Name() database.NotificationChannel
	Send(ctx context.Context, address, subject, body string) error
}

// ========== Email (Resend) ==========

// EmailChannel sends email via the Resend API
type EmailChannel struct {
	client *resend.Client
	from   string
}

// NewEmailChannel creates the email channel. A missing API key leaves the
// channel unconfigured; sends then fail with an explicit error captured in
// the delivery report.
func NewEmailChannel(apiKey, from string) *EmailChannel {
	ch := &EmailChannel{from: from}
	if apiKey != "" {
		ch.client = resend.NewClient(apiKey)
	}
	return ch
}

func (c *EmailChannel) Name() database.NotificationChannel {
	return database.ChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, address, subject, body string) error {
	if c.client == nil {
		return fmt.Errorf("email channel not configured")
	}
	params := &resend.SendEmailRequest{
		From:    c.from,
		To:      []string{address},
		Subject: subject,
		Text:    body,
	}
	if _, err := c.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}
	return nil
}

// ========== SMS (HTTP gateway) ==========

// SMSChannel posts messages to an SMS gateway endpoint
type SMSChannel struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

// NewSMSChannel creates the SMS channel against the given gateway
func NewSMSChannel(gatewayURL, apiKey string) *SMSChannel {
	return &SMSChannel{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *SMSChannel) Name() database.NotificationChannel {
	return database.ChannelSMS
}

func (c *SMSChannel) Send(ctx context.Context, address, subject, body string) error {
	if c.gatewayURL == "" {
		return fmt.Errorf("sms channel not configured")
	}
	payload := map[string]string{"to": address, "message": body}
	return postJSON(ctx, c.client, c.gatewayURL+"/v1/messages", c.apiKey, payload)
}

// ========== Push (HTTP gateway) ==========

// PushChannel posts notifications to a push delivery endpoint
type PushChannel struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

// NewPushChannel creates the push channel against the given gateway
func NewPushChannel(gatewayURL, apiKey string) *PushChannel {
	return &PushChannel{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *PushChannel) Name() database.NotificationChannel {
	return database.ChannelPush
}

func (c *PushChannel) Send(ctx context.Context, address, subject, body string) error {
	if c.gatewayURL == "" {
		return fmt.Errorf("push channel not configured")
	}
	payload := map[string]string{"device_token": address, "title": subject, "body": body}
	return postJSON(ctx, c.client, c.gatewayURL+"/v1/push", c.apiKey, payload)
}

// ========== Chat (Slack) ==========

// ChatChannel posts messages to Slack
type ChatChannel struct {
	client *slack.Client
}

// NewChatChannel creates the chat channel. An empty token leaves it
// unconfigured.
func NewChatChannel(botToken string) *ChatChannel {
	ch := &ChatChannel{}
	if botToken != "" {
		ch.client = slack.New(botToken)
	}
	return ch
}

func (c *ChatChannel) Name() database.NotificationChannel {
	return database.ChannelChat
}

func (c *ChatChannel) Send(ctx context.Context, address, subject, body string) error {
	if c.client == nil {
		return fmt.Errorf("chat channel not configured")
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject("plain_text", subject, false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", body, false, false),
			nil, nil,
		),
	}
	_, _, err := c.client.PostMessageContext(ctx, address,
		slack.MsgOptionText(subject, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("slack post failed: %w", err)
	}
	return nil
}

// postJSON is the shared HTTP helper for the gateway-backed channels
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
