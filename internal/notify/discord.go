package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// DiscordSender delivers alerts and status messages through a Discord
// webhook. Status messages are edited in place through the webhook message
// endpoint.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: strings.TrimRight(webhookURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

// Send posts an alert. The title is rendered in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	_, err := d.do(ctx, http.MethodPost, d.webhookURL, fmt.Sprintf("**%s**\n%s", title, message))
	return err
}

// Deliver posts a status message, or edits the message with id handle.
func (d *DiscordSender) Deliver(ctx context.Context, handle string, msg StatusMessage) (string, error) {
	content := "```\n" + msg.Text + "\n```"
	if handle != "" {
		if _, err := d.do(ctx, http.MethodPatch, d.webhookURL+"/messages/"+handle, content); err != nil {
			return handle, err
		}
		return handle, nil
	}
	body, err := d.do(ctx, http.MethodPost, d.webhookURL+"?wait=true", content)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := sonic.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("discord: decode message: %w", err)
	}
	return created.ID, nil
}

func (d *DiscordSender) do(ctx context.Context, method, url, content string) ([]byte, error) {
	body, err := sonic.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	// Plain webhook posts return 204 No Content.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody[:min(len(respBody), 1024)]))
	}
	return respBody, nil
}
