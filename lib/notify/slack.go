// Package notify delivers availability and purchase updates to Slack via
// an incoming webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockwatch-backend/lib/restyutil"
	"stockwatch-backend/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("notify")

// NotificationError reports a failed webhook delivery.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("slack notification: %v", e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

type Slack struct {
	webhookURL string
	username   string
	iconEmoji  string
	http       *resty.Client
}

func NewSlack(webhookURL, username, iconEmoji string) *Slack {
	client := resty.New()
	client.SetTimeout(time.Second * 10)
	restyutil.InstrumentClient(client, tracer, nil)

	return &Slack{
		webhookURL: webhookURL,
		username:   username,
		iconEmoji:  iconEmoji,
		http:       client,
	}
}

type block struct {
	Type string     `json:"type"`
	Text *blockText `json:"text,omitempty"`
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type message struct {
	Username  string  `json:"username,omitempty"`
	IconEmoji string  `json:"icon_emoji,omitempty"`
	Text      string  `json:"text"`
	Blocks    []block `json:"blocks,omitempty"`
}

func (s *Slack) post(ctx context.Context, msg message) error {
	msg.Username = s.username
	msg.IconEmoji = s.iconEmoji

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(s.webhookURL)
	if err != nil {
		return &NotificationError{Err: err}
	}
	if res.IsError() {
		return &NotificationError{
			Err: fmt.Errorf("webhook returned status %d: %s", res.StatusCode(), res.String()),
		}
	}
	return nil
}

// Notify announces that a product became available. Failure here matters,
// the whole point of the monitor is this message, so the error propagates.
func (s *Slack) Notify(ctx context.Context, productName, productURL string) error {
	ctx, span := tracer.Start(ctx, "notify:Notify")
	defer span.End()

	err := s.post(ctx, message{
		Text: fmt.Sprintf("%s is now available! %s", productName, productURL),
		Blocks: []block{
			{
				Type: "header",
				Text: &blockText{Type: "plain_text", Text: "🎉 Food Now Available!"},
			},
			{
				Type: "section",
				Text: &blockText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*%s* is back in stock.\n<%s|Go buy it>", productName, productURL),
				},
			},
			{
				Type: "section",
				Text: &blockText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Checked at %s", timezone.Now().Format("2006-01-02 15:04:05 MST")),
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook delivery failed")
	}
	return err
}

// SendSuccess reports a completed purchase. Best effort: the order already
// went through, so a delivery failure is logged and swallowed.
func (s *Slack) SendSuccess(ctx context.Context, orderID, productName string) bool {
	ctx, span := tracer.Start(ctx, "notify:SendSuccess")
	defer span.End()

	err := s.post(ctx, message{
		Text: fmt.Sprintf("Order %s placed for %s", orderID, productName),
		Blocks: []block{
			{
				Type: "header",
				Text: &blockText{Type: "plain_text", Text: "✅ Purchase Complete"},
			},
			{
				Type: "section",
				Text: &blockText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Order *%s* placed for *%s*.", orderID, productName),
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "could not deliver purchase success notification", "err", err)
		return false
	}
	return true
}

// SendError reports a failed purchase attempt. Best effort for the same
// reason as SendSuccess.
func (s *Slack) SendError(ctx context.Context, failure error, detail string) bool {
	ctx, span := tracer.Start(ctx, "notify:SendError")
	defer span.End()

	err := s.post(ctx, message{
		Text: fmt.Sprintf("Purchase failed: %v", failure),
		Blocks: []block{
			{
				Type: "header",
				Text: &blockText{Type: "plain_text", Text: "🚨 Purchase Failed"},
			},
			{
				Type: "section",
				Text: &blockText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Error:* %v\n*Context:* %s", failure, detail),
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "could not deliver purchase failure notification", "err", err)
		return false
	}
	return true
}
