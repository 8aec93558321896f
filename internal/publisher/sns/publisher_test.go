package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

type fakeClient struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeClient) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
}

func TestPublish(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	pub, err := New(client, "arn:aws:sns:eu-west-1:123:editions")
	require.NoError(t, err)

	id, err := pub.Publish(context.Background(), "edition.delivered", domain.DeliveryEvent{Source: "El Temps", Root: "Grupo"})
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)

	require.NotNil(t, client.input)
	assert.Equal(t, "arn:aws:sns:eu-west-1:123:editions", aws.ToString(client.input.TopicArn))
	assert.Contains(t, aws.ToString(client.input.Message), `"source":"El Temps"`)
	attr, ok := client.input.MessageAttributes["source"]
	require.True(t, ok)
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "El Temps", aws.ToString(attr.StringValue))
	assert.NotContains(t, client.input.MessageAttributes, "channel")
}

func TestPublishError(t *testing.T) {
	t.Parallel()

	pub, err := New(&fakeClient{err: errors.New("boom")}, "arn")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "x", map[string]string{})
	require.Error(t, err)

	_, err = New(nil, "arn")
	require.Error(t, err)
	_, err = New(&fakeClient{}, " ")
	require.Error(t, err)
}
