package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/sns"
)

// TopicPublisher is implemented by sns.Publisher.
type TopicPublisher interface {
	Publish(ctx context.Context, msg sns.Message) (string, error)
}

// Topic publishes every notification to an SNS topic for downstream
// consumers such as native mobile push.
type Topic struct {
	publisher TopicPublisher
	logger    *zap.Logger
}

func NewTopic(publisher TopicPublisher, logger *zap.Logger) *Topic {
	return &Topic{publisher: publisher, logger: logger}
}

func (*Topic) Name() string { return NameTopic }

func (c *Topic) Deliver(ctx context.Context, notif *db.Notification) Result {
	v := payloadView(notif)
	recipient := notif.Recipient()

	messageID, err := c.publisher.Publish(ctx, sns.Message{
		NotificationID: notif.ID.String(),
		Type:           string(notif.Type),
		RecipientKind:  string(recipient.Kind),
		RecipientID:    recipient.ID,
		Title:          v.headline(notif),
		Body:           v.body(notif),
		Link:           v.Link,
		Data:           notif.Data,
		CreatedAt:      notif.CreatedAt,
	})
	if err != nil {
		return Fail(NameTopic, err)
	}

	c.logger.Debug("notification published to topic",
		zap.String("notification_id", notif.ID.String()),
		zap.String("message_id", messageID),
	)
	return Ok(NameTopic)
}
