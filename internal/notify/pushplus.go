package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultPushPlusURL is the PushPlus send endpoint.
const DefaultPushPlusURL = "http://www.pushplus.plus/send"

// PushPlusSender posts through PushPlus. With Channel "webhook" and a
// Webhook code configured in the PushPlus console, messages are relayed
// to a WeCom group robot.
type PushPlusSender struct {
	client  *resty.Client
	token   string
	channel string
	webhook string
}

// NewPushPlusSender creates a sender. An empty url selects
// DefaultPushPlusURL; an empty channel leaves PushPlus's default.
func NewPushPlusSender(url, token, channel, webhook string) *PushPlusSender {
	if url == "" {
		url = DefaultPushPlusURL
	}
	c := resty.New().
		SetBaseURL(url).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	return &PushPlusSender{client: c, token: token, channel: channel, webhook: webhook}
}

type pushPlusRequest struct {
	Token   string `json:"token"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Channel string `json:"channel,omitempty"`
	Webhook string `json:"webhook,omitempty"`
}

type pushPlusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Send delivers one message.
func (p *PushPlusSender) Send(ctx context.Context, title, message string) error {
	var out pushPlusResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(pushPlusRequest{
			Token:   p.token,
			Title:   title,
			Content: message,
			Channel: p.channel,
			Webhook: p.webhook,
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return fmt.Errorf("pushplus: send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("pushplus: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Code != 200 {
		return fmt.Errorf("pushplus: code %d: %s", out.Code, out.Msg)
	}
	return nil
}

// Name implements Sender.
func (p *PushPlusSender) Name() string { return "pushplus" }
