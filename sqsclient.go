package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	maxReceiveMessages = 10
	maxWaitTimeSeconds = 20
	maxBatchEntries    = 10
)

type SQSClientInterface interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// the transport used by the poll loop, errors wrapping ErrQueueNotFound are
// permanent and every other error is transient
type QueueClient interface {
	Receive(ctx context.Context, sub Subscription, waitSeconds int) ([]Message, error)
	DeleteBatch(ctx context.Context, sub Subscription, messages []Message) error
}

type QueueStats struct {
	Available string
	InFlight  string
	Delayed   string
}

type SQSClientFactory func(region, endpoint string, creds aws.CredentialsProvider) SQSClientInterface

// talks to SQS on behalf of subscriptions, a client is built per region and
// credentials reference and reused afterwards
type SQSQueueClient struct {
	credentials CredentialsResolver
	newClient   SQSClientFactory

	mu      sync.Mutex
	clients map[string]SQSClientInterface
}

func NewSQSQueueClient(awsConfig aws.Config, resolver CredentialsResolver, proxyURL string) (*SQSQueueClient, error) {
	var httpClient *awshttp.BuildableClient
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		log.Debug().Str("proxy", proxy.Redacted()).Msg("Use HTTP proxy for SQS")
		httpClient = awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
			tr.Proxy = http.ProxyURL(proxy)
		})
	}

	factory := func(region, endpoint string, creds aws.CredentialsProvider) SQSClientInterface {
		return sqs.NewFromConfig(awsConfig, func(o *sqs.Options) {
			if region != "" {
				o.Region = region
			}
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
			if creds != nil {
				o.Credentials = creds
			}
			if httpClient != nil {
				o.HTTPClient = httpClient
			}
		})
	}

	return newSQSQueueClient(resolver, factory), nil
}

func newSQSQueueClient(resolver CredentialsResolver, factory SQSClientFactory) *SQSQueueClient {
	return &SQSQueueClient{
		credentials: resolver,
		newClient:   factory,
		clients:     make(map[string]SQSClientInterface),
	}
}

func (c *SQSQueueClient) client(ctx context.Context, sub Subscription) (SQSClientInterface, error) {
	region, endpoint, err := queueEndpoint(sub.QueueURL)
	if err != nil {
		return nil, err
	}
	key := region + "|" + endpoint + "|" + sub.CredentialsID

	c.mu.Lock()
	cl, ok := c.clients[key]
	c.mu.Unlock()
	if ok {
		return cl, nil
	}

	// resolving can load shared config from disk, other queues must not wait on it
	var creds aws.CredentialsProvider
	if c.credentials != nil {
		creds, err = c.credentials.Resolve(ctx, sub.CredentialsID)
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[key]; ok {
		return cl, nil
	}

	log.Trace().Str("queue_url", sub.QueueURL).Str("region", region).Str("endpoint", endpoint).Msg("Create SQS client")
	cl = c.newClient(region, endpoint, creds)
	c.clients[key] = cl
	return cl, nil
}

func (c *SQSQueueClient) Receive(ctx context.Context, sub Subscription, waitSeconds int) ([]Message, error) {
	cl, err := c.client(ctx, sub)
	if err != nil {
		return nil, err
	}

	if waitSeconds < 0 {
		waitSeconds = 0
	}
	if waitSeconds > maxWaitTimeSeconds {
		waitSeconds = maxWaitTimeSeconds
	}

	log.Debug().Str("queue_url", sub.QueueURL).Int("wait_seconds", waitSeconds).Msg("Receive SQS messages")
	result, err := cl.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(sub.QueueURL),
		MaxNumberOfMessages:   maxReceiveMessages,
		WaitTimeSeconds:       int32(waitSeconds),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, classifySQSError(err)
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msg := Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if len(m.MessageAttributes) > 0 {
			msg.Attributes = make(map[string]string, len(m.MessageAttributes))
			for name, attr := range m.MessageAttributes {
				msg.Attributes[name] = aws.ToString(attr.StringValue)
			}
		}
		messages = append(messages, msg)
	}

	log.Debug().Str("queue_url", sub.QueueURL).Int("count", len(messages)).Msg("Received SQS messages")
	return messages, nil
}

// deletes the messages in batches of ten, failed entries are reported as an error
func (c *SQSQueueClient) DeleteBatch(ctx context.Context, sub Subscription, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	cl, err := c.client(ctx, sub)
	if err != nil {
		return err
	}

	log.Debug().Str("queue_url", sub.QueueURL).Int("count", len(messages)).Msg("Delete SQS messages")
	for start := 0; start < len(messages); start += maxBatchEntries {
		end := min(start+maxBatchEntries, len(messages))

		entries := make([]types.DeleteMessageBatchRequestEntry, 0, end-start)
		for _, m := range messages[start:end] {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(uuid.NewString()),
				ReceiptHandle: aws.String(m.ReceiptHandle),
			})
		}

		result, err := cl.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(sub.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			return classifySQSError(err)
		}
		if len(result.Failed) > 0 {
			first := result.Failed[0]
			return fmt.Errorf("failed to delete %d of %d message(s): %s: %s",
				len(result.Failed), len(entries), aws.ToString(first.Code), aws.ToString(first.Message))
		}
	}

	log.Debug().Str("queue_url", sub.QueueURL).Msg("Messages deleted from SQS")
	return nil
}

// receives without waiting and without deleting, to check url and credentials
func (c *SQSQueueClient) TestConnection(ctx context.Context, sub Subscription) error {
	_, err := c.Receive(ctx, sub, 0)
	return err
}

func (c *SQSQueueClient) Stats(ctx context.Context, sub Subscription) (QueueStats, error) {
	cl, err := c.client(ctx, sub)
	if err != nil {
		return QueueStats{}, err
	}

	result, err := cl.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(sub.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return QueueStats{}, classifySQSError(err)
	}

	return QueueStats{
		Available: result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)],
		InFlight:  result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)],
		Delayed:   result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)],
	}, nil
}

// infers the region from the queue host, hosts that are not AWS are returned as
// a custom endpoint and use the configured region
func queueEndpoint(queueURL string) (region, endpoint string, err error) {
	u, err := url.Parse(queueURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid queue url %q: %w", queueURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid queue url %q: missing scheme or host", queueURL)
	}

	host := u.Hostname()
	if strings.HasSuffix(host, ".amazonaws.com") || strings.HasSuffix(host, ".amazonaws.com.cn") {
		labels := strings.Split(host, ".")
		switch {
		case labels[0] == "sqs" && len(labels) > 3:
			return labels[1], "", nil
		case len(labels) > 3 && labels[1] == "queue":
			return labels[0], "", nil
		}
	}

	return "", u.Scheme + "://" + u.Host, nil
}

func classifySQSError(err error) error {
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", ErrQueueNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
			return fmt.Errorf("%w: %w", ErrQueueNotFound, err)
		}
	}
	return err
}
