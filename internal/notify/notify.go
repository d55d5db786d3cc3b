// Package notify 告警投递：日志、Webhook、WebSocket 推送
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"csgo-quant/internal/models"

	"github.com/go-resty/resty/v2"
)

// Notifier 告警投递后端
type Notifier interface {
	Notify(ctx context.Context, alerts []models.Alert) error
}

// LogNotifier 将告警写入日志
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, alerts []models.Alert) error {
	for _, a := range alerts {
		n.logger.Info("alert raised", "item", a.ItemName, "kind", a.Kind, "severity", a.Severity, "title", a.Title, "value", a.Value)
	}
	return nil
}

// WebhookPayload Webhook 请求体，text 兼容钉钉/企业微信的文本机器人
type WebhookPayload struct {
	MsgType string         `json:"msgtype"`
	Text    WebhookText    `json:"text"`
	Alerts  []models.Alert `json:"alerts"`
	SentAt  time.Time      `json:"sent_at"`
}

type WebhookText struct {
	Content string `json:"content"`
}

// WebhookNotifier 将一批告警 POST 到 Webhook
type WebhookNotifier struct {
	url    string
	client *resty.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Notify(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		lines = append(lines, fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity), a.Title))
	}
	payload := WebhookPayload{
		MsgType: "text",
		Text:    WebhookText{Content: strings.Join(lines, "\n")},
		Alerts:  alerts,
		SentAt:  time.Now().UTC(),
	}
	resp, err := w.client.R().SetContext(ctx).SetBody(payload).Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// Multi 依次投递到所有后端，单个失败不影响其它
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alerts []models.Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
