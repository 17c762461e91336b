package main

import (
	"context"
	"sort"
	"sync"
)

type InMemorySubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string]SubscriptionConfig
}

func NewInMemorySubscriptionStore(configs ...SubscriptionConfig) *InMemorySubscriptionStore {
	m := &InMemorySubscriptionStore{
		subscriptions: make(map[string]SubscriptionConfig, len(configs)),
	}
	for _, cfg := range configs {
		m.subscriptions[cfg.QueueURL] = cfg
	}
	return m
}

func (m *InMemorySubscriptionStore) List(ctx context.Context) ([]SubscriptionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]SubscriptionConfig, 0, len(m.subscriptions))
	for _, cfg := range m.subscriptions {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].QueueURL < configs[j].QueueURL })
	return configs, nil
}

func (m *InMemorySubscriptionStore) Put(ctx context.Context, cfg SubscriptionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg.Revision = newRevision()
	m.subscriptions[cfg.QueueURL] = cfg
	return nil
}

func (m *InMemorySubscriptionStore) Delete(ctx context.Context, queueURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subscriptions, queueURL)
	return nil
}

func (m *InMemorySubscriptionStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.subscriptions)
	return nil
}
