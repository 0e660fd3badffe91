package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultWeComURL is the WeCom group robot endpoint; the robot key goes
// in the "key" query parameter.
const DefaultWeComURL = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send"

// WeComSender posts markdown messages to a WeCom group robot.
type WeComSender struct {
	client *resty.Client
	key    string
}

// NewWeComSender creates a sender for robot key. An empty url selects
// DefaultWeComURL.
func NewWeComSender(url, key string) *WeComSender {
	if url == "" {
		url = DefaultWeComURL
	}
	c := resty.New().
		SetBaseURL(url).
		SetTimeout(10 * time.Second)
	return &WeComSender{client: c, key: key}
}

type weComMarkdown struct {
	Content string `json:"content"`
}

type weComRequest struct {
	MsgType  string        `json:"msgtype"`
	Markdown weComMarkdown `json:"markdown"`
}

type weComResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send delivers one message with the title in bold.
func (w *WeComSender) Send(ctx context.Context, title, message string) error {
	var out weComResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParam("key", w.key).
		SetBody(weComRequest{
			MsgType:  "markdown",
			Markdown: weComMarkdown{Content: fmt.Sprintf("**%s**\n%s", title, message)},
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return fmt.Errorf("wecom: send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("wecom: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.ErrCode != 0 {
		return fmt.Errorf("wecom: errcode %d: %s", out.ErrCode, out.ErrMsg)
	}
	return nil
}

// Name implements Sender.
func (w *WeComSender) Name() string { return "wecom" }
