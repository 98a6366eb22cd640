// Package ses sends plain text email through Amazon SES.
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sendEmailAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Config holds SES settings.
type Config struct {
	Region    string
	Endpoint  string
	FromEmail string
}

// Email is a single outgoing message.
type Email struct {
	To      string
	Subject string
	Body    string
}

type Sender struct {
	client sendEmailAPI
	from   string
	logger *zap.Logger
}

func NewSender(ctx context.Context, cfg Config, logger *zap.Logger) (*Sender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Sender{
		client: client,
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers one email and returns the SES message id.
func (s *Sender) Send(ctx context.Context, email Email) (string, error) {
	if email.To == "" {
		return "", errors.New("email is missing a recipient address")
	}
	if email.Subject == "" || email.Body == "" {
		return "", errors.New("email needs a subject and a body")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(email.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(email.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Debug("email sent via SES",
		zap.String("to", email.To),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}
