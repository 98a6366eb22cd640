package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type mockPublishAPI struct {
	input *sns.PublishInput
	err   error
}

func (m *mockPublishAPI) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestPublisher_Publish(t *testing.T) {
	api := &mockPublishAPI{}
	p := &Publisher{client: api, topicARN: "arn:aws:sns:us-east-1:123456789012:taskbell"}

	msg := Message{
		NotificationID: "n-1",
		Type:           "system_alert",
		RecipientKind:  "user",
		RecipientID:    "42",
		Title:          "System alert",
		Body:           "disk almost full",
		Data:           json.RawMessage(`{"severity":"warning"}`),
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	id, err := p.Publish(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("expected msg-1, got %s", id)
	}

	if aws.ToString(api.input.TopicArn) != p.topicARN {
		t.Errorf("wrong topic: %s", aws.ToString(api.input.TopicArn))
	}
	if got := aws.ToString(api.input.MessageAttributes["type"].StringValue); got != "system_alert" {
		t.Errorf("type attribute = %s", got)
	}
	if got := aws.ToString(api.input.MessageAttributes["recipient_kind"].StringValue); got != "user" {
		t.Errorf("recipient_kind attribute = %s", got)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(aws.ToString(api.input.Message)), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["notification_id"] != "n-1" {
		t.Errorf("notification_id = %v", body["notification_id"])
	}
	if _, ok := body["link"]; ok {
		t.Error("link should be omitted when empty")
	}
}

func TestPublisher_PublishError(t *testing.T) {
	api := &mockPublishAPI{err: errors.New("throttled")}
	p := &Publisher{client: api, topicARN: "arn"}

	if _, err := p.Publish(context.Background(), Message{NotificationID: "n-1"}); err == nil {
		t.Fatal("expected error")
	}
}
