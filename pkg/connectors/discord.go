package connectors

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Discord posts messages to a channel webhook (secret "webhook_url").
type Discord struct {
	client *resty.Client
}

func NewDiscord(client *resty.Client) *Discord {
	return &Discord{client: client}
}

func (d *Discord) Type() string { return "discord" }

func (d *Discord) Actions() []string { return []string{"send_message"} }

func (d *Discord) Invoke(ctx context.Context, action string, params map[string]any, secrets map[string]string) (any, error) {
	if err := checkAction(d, action); err != nil {
		return nil, err
	}

	webhookURL, err := requireSecret(secrets, "webhook_url")
	if err != nil {
		return nil, err
	}

	content, err := requireParam(params, "content")
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"content": content}
	if username := stringParam(params, "username"); username != "" {
		payload["username"] = username
	}

	if embeds, ok := params["embeds"]; ok {
		payload["embeds"] = embeds
	}

	resp, err := d.client.R().SetContext(ctx).SetBody(payload).Post(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("discord webhook: %w", err)
	}

	if err := checkResponse(d.Type(), resp); err != nil {
		return nil, err
	}

	return map[string]any{"sent": true, "status": resp.StatusCode()}, nil
}
