package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func bindNoop(cfg SubscriptionConfig) Consumer {
	return noopConsumer()
}

func TestStoreSyncRegistersDeclaredSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySubscriptionStore()
	assert.NoError(t, store.Put(ctx, SubscriptionConfig{QueueURL: testQueueURL, JobName: "build", CredentialsID: "ci"}))
	registry := NewRegistry()

	assert.NoError(t, NewStoreSync(store, registry, bindNoop).Sync(ctx))

	sub, ok := registry.Get(testQueueURL)
	assert.True(t, ok)
	assert.Equal(t, "build", sub.JobName)
	assert.Equal(t, "ci", sub.CredentialsID)
	assert.NotNil(t, sub.Consumer)
}

func TestStoreSyncKeepsRemovedSubscriptionUntilPutAgain(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySubscriptionStore()
	cfg := SubscriptionConfig{QueueURL: testQueueURL, JobName: "build"}
	assert.NoError(t, store.Put(ctx, cfg))
	registry := NewRegistry()
	syncer := NewStoreSync(store, registry, bindNoop)

	assert.NoError(t, syncer.Sync(ctx))
	first, _ := registry.Get(testQueueURL)

	// removed by the poller
	registry.Remove(first)
	assert.NoError(t, syncer.Sync(ctx))
	assert.Equal(t, 0, registry.Len())

	assert.NoError(t, store.Put(ctx, cfg))
	assert.NoError(t, syncer.Sync(ctx))

	again, ok := registry.Get(testQueueURL)
	assert.True(t, ok)
	assert.NotEqual(t, first.ID, again.ID)
}

func TestStoreSyncLeavesUnchangedSubscriptionRegistered(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySubscriptionStore()
	assert.NoError(t, store.Put(ctx, SubscriptionConfig{QueueURL: testQueueURL, JobName: "build"}))
	registry := NewRegistry()
	syncer := NewStoreSync(store, registry, bindNoop)

	assert.NoError(t, syncer.Sync(ctx))
	first, _ := registry.Get(testQueueURL)
	assert.NoError(t, syncer.Sync(ctx))
	second, _ := registry.Get(testQueueURL)

	assert.Equal(t, first.ID, second.ID)
}

func TestStoreSyncRemovesDeletedSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySubscriptionStore()
	assert.NoError(t, store.Put(ctx, SubscriptionConfig{QueueURL: testQueueURL, JobName: "build"}))
	assert.NoError(t, store.Put(ctx, SubscriptionConfig{QueueURL: healthyQueueURL, JobName: "deploy"}))
	registry := NewRegistry()
	syncer := NewStoreSync(store, registry, bindNoop)
	assert.NoError(t, syncer.Sync(ctx))

	assert.NoError(t, store.Delete(ctx, testQueueURL))
	assert.NoError(t, syncer.Sync(ctx))

	_, ok := registry.Get(testQueueURL)
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Len())
}

func TestStoreSyncListError(t *testing.T) {
	registry := NewRegistry()
	registry.Add(NewSubscription(testQueueURL, "", "build", noopConsumer()))
	store := new(MockSubscriptionStore)
	store.On("List", mock.Anything).Return(nil, assert.AnError)

	err := NewStoreSync(store, registry, bindNoop).Sync(context.Background())

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, registry.Len())
}

func TestPollTaskPicksUpSubscriptionPutAfterDeregistration(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewInMemorySubscriptionStore()
	cfg := SubscriptionConfig{QueueURL: testQueueURL, JobName: "build"}
	assert.NoError(t, store.Put(ctx, cfg))
	registry := NewRegistry()

	mockClient := new(MockQueueClient)
	mockClient.On("Receive", mock.Anything, subscriptionFor(testQueueURL), 12).
		Return(nil, ErrQueueNotFound).Once()
	mockClient.On("Receive", mock.Anything, subscriptionFor(testQueueURL), 12).
		Return([]Message{}, nil).
		Run(func(args mock.Arguments) { clock.Advance(time.Minute) }).Once()

	poller := newTestPoller(mockClient, registry, NewSleepingErrorCounter(2, 0), clock)
	task := NewPollTask(NewRoundCoordinator(registry, poller), 12*time.Second).
		WithSync(NewStoreSync(store, registry, bindNoop))
	task.now = clock.Now

	report := task.Run(ctx)
	assert.Equal(t, StateDeregistered, report.States[testQueueURL])
	assert.Equal(t, 0, registry.Len())

	// re-added from the command line while the poller keeps running
	assert.NoError(t, store.Put(ctx, cfg))

	report = task.Run(ctx)
	assert.Equal(t, StateStopped, report.States[testQueueURL])
	assert.Equal(t, 1, registry.Len())
	mockClient.AssertExpectations(t)
}
