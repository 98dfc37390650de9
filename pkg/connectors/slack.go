package connectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const slackAPIBaseURL = "https://slack.com/api"

// Slack posts messages through an incoming webhook (secret "webhook_url") or the Web API
// (secret "bot_token").
type Slack struct {
	client  *resty.Client
	baseURL string
}

// SlackOption configures Slack.
type SlackOption func(*Slack)

// WithSlackBaseURL overrides the Web API base URL.
func WithSlackBaseURL(baseURL string) SlackOption {
	return func(s *Slack) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

func NewSlack(client *resty.Client, opts ...SlackOption) *Slack {
	s := &Slack{client: client, baseURL: slackAPIBaseURL}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Slack) Type() string { return "slack" }

func (s *Slack) Actions() []string { return []string{"send_message"} }

func (s *Slack) Invoke(ctx context.Context, action string, params map[string]any, secrets map[string]string) (any, error) {
	if err := checkAction(s, action); err != nil {
		return nil, err
	}

	text, err := requireParam(params, "text")
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"text": text}
	if blocks, ok := params["blocks"]; ok {
		payload["blocks"] = blocks
	}

	if webhookURL := secrets["webhook_url"]; webhookURL != "" {
		resp, err := s.client.R().SetContext(ctx).SetBody(payload).Post(webhookURL)
		if err != nil {
			return nil, fmt.Errorf("slack webhook: %w", err)
		}

		if err := checkResponse(s.Type(), resp); err != nil {
			return nil, err
		}

		return map[string]any{"sent": true, "status": resp.StatusCode()}, nil
	}

	token, err := requireSecret(secrets, "bot_token")
	if err != nil {
		return nil, err
	}

	channel, err := requireParam(params, "channel")
	if err != nil {
		return nil, err
	}

	payload["channel"] = channel

	var reply struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(payload).
		SetResult(&reply).
		Post(s.baseURL + "/chat.postMessage")
	if err != nil {
		return nil, fmt.Errorf("slack chat.postMessage: %w", err)
	}

	if err := checkResponse(s.Type(), resp); err != nil {
		return nil, err
	}

	if !reply.OK {
		return nil, &APIError{Connector: s.Type(), Status: resp.StatusCode(), Body: reply.Error}
	}

	return map[string]any{"sent": true, "channel": reply.Channel, "ts": reply.TS}, nil
}
