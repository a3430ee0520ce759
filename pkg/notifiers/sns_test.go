package notifiers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type fakeSNSClient struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNSClient) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
}

func TestSNSNotifierPublishSuccess(t *testing.T) {
	client := &fakeSNSClient{}
	n := &snsNotifier{
		id:       "topic",
		topicARN: "arn:aws:sns:::topic",
		client:   client,
		log:      noopLogger{},
	}

	if err := n.Notify(context.Background(), Event{TaskID: "task-1", Status: "completed"}); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if client.input == nil {
		t.Fatalf("client was not called")
	}
	if got := aws.ToString(client.input.TopicArn); got != "arn:aws:sns:::topic" {
		t.Fatalf("TopicArn = %s", got)
	}
	attr, ok := client.input.MessageAttributes["task_id"]
	if !ok || aws.ToString(attr.StringValue) != "task-1" {
		t.Fatalf("task_id attribute missing or wrong: %#v", attr)
	}
	if !strings.Contains(aws.ToString(client.input.Message), `"status":"completed"`) {
		t.Fatalf("Message missing status: %s", aws.ToString(client.input.Message))
	}
}

func TestSNSNotifierPublishError(t *testing.T) {
	n := &snsNotifier{
		id:       "topic",
		topicARN: "arn:aws:sns:::topic",
		client:   &fakeSNSClient{err: errors.New("boom")},
		log:      noopLogger{},
	}

	if err := n.Notify(context.Background(), Event{TaskID: "task-1"}); err == nil {
		t.Fatalf("expected error from Notify")
	}
}
