package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Config holds SNS publisher settings. Endpoint overrides the AWS endpoint
// (LocalStack).
type Config struct {
	TopicARN string
	Region   string
	Endpoint string
}

type publishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher fans notifications out to an SNS topic for downstream
// consumers (mobile push, analytics). Subscribers filter on the message
// attributes.
type Publisher struct {
	client   publishAPI
	topicARN string
}

// Message is the JSON body published for one notification.
type Message struct {
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	RecipientKind  string          `json:"recipient_kind"`
	RecipientID    string          `json:"recipient_id"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Link           string          `json:"link,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Publisher{
		client:   client,
		topicARN: cfg.TopicARN,
	}, nil
}

// Publish sends a message to the topic and returns the SNS message id.
func (p *Publisher) Publish(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(msg.Title),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Type),
			},
			"recipient_kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.RecipientKind),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
