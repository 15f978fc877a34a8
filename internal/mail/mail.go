package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message. Callers treat delivery as best effort.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogProvider writes messages to the log instead of delivering them.
type LogProvider struct {
	From   string
	Logger *zap.Logger
}

func (p LogProvider) Send(_ context.Context, msg Message) error {
	if p.Logger == nil {
		return nil
	}
	p.Logger.Info("mail",
		zap.String("from", p.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

type sendGridError struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// SendGridProvider posts to the SendGrid v3 mail API.
type SendGridProvider struct {
	from       string
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewSendGridProvider(baseURL, apiKey, from string, logger *zap.Logger) *SendGridProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridProvider{from: from, httpClient: client, logger: logger}
}

func (p *SendGridProvider) Send(ctx context.Context, msg Message) error {
	body := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: msg.To}}}},
		From:             sendGridAddress{Email: p.from},
		Subject:          msg.Subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: msg.Body}},
	}
	var apiErr sendGridError
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErr).
		Post("/v3/mail/send")
	if err != nil {
		p.logger.Error("sendgrid call failed", zap.Error(err), zap.String("to", msg.To))
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.IsError() {
		reason := resp.Status()
		if len(apiErr.Errors) > 0 {
			reason = apiErr.Errors[0].Message
		}
		p.logger.Error("sendgrid rejected message",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("reason", reason),
		)
		return fmt.Errorf("sendgrid: %s (status: %d)", reason, resp.StatusCode())
	}
	p.logger.Debug("mail sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
