package databus

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue sends session events to one queue. The event topic and key travel as message attributes.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	maxTry   int
	timeout  time.Duration
}

func NewSQSQueue(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	if region == "" || queueURL == "" {
		return nil, errors.New("sqs region or queue url not present")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	log.Infof("SQS queue %v initialized...", queueURL)
	return newSQSQueue(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, maxTry: 3, timeout: 10 * time.Second}
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

// Publish tries maxTry times before giving up.
func (q *SQSQueue) Publish(e Event) error {
	body := e.Serialize()
	if len(body) == 0 {
		return nil
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"topic": stringAttribute(e.Topic()),
		},
	}
	if key := e.Key(); key != "" {
		in.MessageAttributes["key"] = stringAttribute(key)
	}
	for i := 0; i < q.maxTry; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		_, err := q.client.SendMessage(ctx, in)
		cancel()
		if err != nil {
			log.Warnf("send sqs message to %s:%v", q.queueURL, err)
			continue
		}
		return nil
	}
	return errors.ErrorfAndReport("send sqs message to %s max try exceeded", q.queueURL)
}
