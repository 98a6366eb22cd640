package sqs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string
}

type sendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Producer publishes scan events to an SQS queue.
type Producer struct {
	client   sendMessageAPI
	queueURL string
	fifo     bool
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		fifo:     strings.HasSuffix(cfg.QueueURL, ".fifo"),
		logger:   logger,
	}, nil
}

// Publish sends one message. key is carried as the "key" attribute and,
// on FIFO queues, as the message group so a pass's events stay ordered.
// FIFO messages are deduplicated on a digest of key and body.
func (p *Producer) Publish(ctx context.Context, key string, body []byte) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(key),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(key)
		input.MessageDeduplicationId = aws.String(deduplicationID(key, body))
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("sqs message sent",
		zap.String("key", key),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func deduplicationID(key string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Close is a no-op; SDK v2 clients hold no resources.
func (p *Producer) Close() error {
	return nil
}
