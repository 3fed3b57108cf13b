package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/linebot"
)

// LineSender pushes text messages to LINE users.
type LineSender struct {
	Bot *linebot.Client
}

// NewLineSender returns nil when the channel credentials are missing.
func NewLineSender(channelSecret, channelToken string, options ...linebot.ClientOption) (*LineSender, error) {
	if channelSecret == "" || channelToken == "" {
		return nil, nil
	}
	bot, err := linebot.New(channelSecret, channelToken, options...)
	if err != nil {
		return nil, fmt.Errorf("create LINE bot client: %w", err)
	}
	return &LineSender{Bot: bot}, nil
}

func (s *LineSender) Send(ctx context.Context, msg Message) error {
	if s.Bot == nil {
		return Permanent(errors.New("LINE Bot client is not initialized"))
	}
	_, err := s.Bot.PushMessage(msg.Recipient, linebot.NewTextMessage(msg.Body)).WithContext(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *linebot.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
		return Permanent(fmt.Errorf("LINE Messaging API failed: %w", err))
	}
	return fmt.Errorf("LINE Messaging API failed: %w", err)
}
