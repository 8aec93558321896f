// Package sns publishes delivery events to an AWS SNS topic.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// Client is the subset of the SNS API the publisher uses.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config selects the topic.
type Config struct {
	TopicARN string
	Region   string
}

// Publisher sends JSON payloads to one topic.
type Publisher struct {
	topicARN string
	client   Client
}

// New wraps an existing client.
func New(client Client, topicARN string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	if strings.TrimSpace(topicARN) == "" {
		return nil, fmt.Errorf("sns topic arn is required")
	}
	return &Publisher{topicARN: topicARN, client: client}, nil
}

// NewFromConfig loads the default AWS credential chain for cfg.Region.
func NewFromConfig(ctx context.Context, cfg Config) (*Publisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(sns.NewFromConfig(awsCfg), cfg.TopicARN)
}

// Publish marshals payload and publishes it with event attributes.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes(event, payload),
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func attributes(event string, payload any) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{}
	set := func(k, v string) {
		if v == "" {
			return
		}
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	set("event", event)
	if evt, ok := payload.(domain.DeliveryEvent); ok {
		set("source", evt.Source)
		set("root_source", evt.Root)
		set("channel", evt.Channel)
	}
	return attrs
}
