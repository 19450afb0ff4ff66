package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is what the dispute core asks the notification service to deliver
type Notification struct {
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	RelatedType string    `json:"related_type"`
	RelatedID   uuid.UUID `json:"related_id"`
}

// Channel delivers one notification, reporting failure to the caller
type Channel interface {
	Deliver(ctx context.Context, n Notification) error
}

// Sender accepts notifications without waiting for delivery
type Sender interface {
	Send(ctx context.Context, n Notification)
}

// SNSAPI is the subset of the SNS client used here
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel publishes notifications to a topic consumed by the notification service
type SNSChannel struct {
	client   SNSAPI
	topicARN string
}

func NewSNSChannel(client SNSAPI, topicARN string) *SNSChannel {
	return &SNSChannel{client: client, topicARN: topicARN}
}

func (c *SNSChannel) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	_, err = c.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Subject:  aws.String(truncate(n.Title, 100)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"related_type": {DataType: aws.String("String"), StringValue: aws.String(n.RelatedType)},
			"user_id":      {DataType: aws.String("String"), StringValue: aws.String(n.UserID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// LogChannel writes notifications to the log when no topic is configured
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Deliver(_ context.Context, n Notification) error {
	c.logger.Info("Notification",
		zap.String("user_id", n.UserID.String()),
		zap.String("title", n.Title),
		zap.String("related_type", n.RelatedType),
		zap.String("related_id", n.RelatedID.String()),
	)
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
