package main

import (
	"context"

	"github.com/rs/xid"
)

// a message received from SQS, the receipt handle is what deletes it
type Message struct {
	ID            string            `json:"id"`
	Body          string            `json:"body"`
	ReceiptHandle string            `json:"-"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// receives a batch of messages polled from one queue
type Consumer interface {
	Consume(ctx context.Context, messages []Message) error
}

type ConsumerFunc func(ctx context.Context, messages []Message) error

func (f ConsumerFunc) Consume(ctx context.Context, messages []Message) error {
	return f(ctx, messages)
}

// binds one queue to the consumer that is triggered by its messages
type Subscription struct {
	ID            string
	QueueURL      string
	CredentialsID string
	JobName       string
	Consumer      Consumer
}

func NewSubscription(queueURL, credentialsID, jobName string, consumer Consumer) Subscription {
	return Subscription{
		ID:            xid.New().String(),
		QueueURL:      queueURL,
		CredentialsID: credentialsID,
		JobName:       jobName,
		Consumer:      consumer,
	}
}

// the declared form of a subscription as kept by a SubscriptionStore, every Put
// stamps a new revision so re-adding an unchanged subscription is still noticed
type SubscriptionConfig struct {
	QueueURL      string `json:"queue_url" mapstructure:"queue_url"`
	CredentialsID string `json:"credentials_id,omitempty" mapstructure:"credentials_id"`
	JobName       string `json:"job_name" mapstructure:"job_name"`
	JobURL        string `json:"job_url" mapstructure:"job_url"`
	Revision      string `json:"revision,omitempty" mapstructure:"revision"`
}

func newRevision() string {
	return xid.New().String()
}
