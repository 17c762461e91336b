package main

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

// runs before all tests and configures the test environment
func TestMain(m *testing.M) {
	// we do not need logging during the tests
	zerolog.SetGlobalLevel(zerolog.Disabled)

	code := m.Run()

	os.Exit(code)
}

type MockSQSClient struct {
	mock.Mock
}

func (m *MockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockSQSClient) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageBatchOutput), args.Error(1)
}

func (m *MockSQSClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueAttributesOutput), args.Error(1)
}

type MockQueueClient struct {
	mock.Mock
}

func (m *MockQueueClient) Receive(ctx context.Context, sub Subscription, waitSeconds int) ([]Message, error) {
	args := m.Called(ctx, sub, waitSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockQueueClient) DeleteBatch(ctx context.Context, sub Subscription, messages []Message) error {
	args := m.Called(ctx, sub, messages)
	return args.Error(0)
}

type MockConsumer struct {
	mock.Mock
}

func (m *MockConsumer) Consume(ctx context.Context, messages []Message) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Add(sub Subscription) {
	m.Called(sub)
}

func (m *MockRegistry) Remove(sub Subscription) {
	m.Called(sub)
}

func (m *MockRegistry) List() []Subscription {
	args := m.Called()
	return args.Get(0).([]Subscription)
}

type MockDatabase struct {
	mock.Mock
}

func (m *MockDatabase) CreateTriggerLog(ctx context.Context, params CreateTriggerLogParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockSubscriptionStore struct {
	mock.Mock
}

func (m *MockSubscriptionStore) List(ctx context.Context) ([]SubscriptionConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]SubscriptionConfig), args.Error(1)
}

func (m *MockSubscriptionStore) Put(ctx context.Context, cfg SubscriptionConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockSubscriptionStore) Delete(ctx context.Context, queueURL string) error {
	args := m.Called(ctx, queueURL)
	return args.Error(0)
}

func (m *MockSubscriptionStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
