package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	sqs      SQSAPI
	queueURL string
}

// NewPublisher returns a Publisher bound to a queue URL. An empty URL yields a
// publisher whose Enabled reports false.
func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{sqs: client, queueURL: queueURL}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.sqs != nil && p.queueURL != ""
}

// PublishJSON marshals payload and sends it with string message attributes.
func (p *Publisher) PublishJSON(ctx context.Context, payload any, attributes map[string]string) (string, error) {
	if !p.Enabled() {
		return "", fmt.Errorf("publisher not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    awsString(p.queueURL),
		MessageBody: awsString(string(body)),
	}
	if len(attributes) > 0 {
		msgAttrs := make(map[string]sqstypes.MessageAttributeValue, len(attributes))
		for k, v := range attributes {
			if v == "" {
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	out, err := p.sqs.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

func awsString(s string) *string { return &s }
