package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// brings the registry in line with the subscription store before a round
type Syncer interface {
	Sync(ctx context.Context) error
}

// binds a declared subscription to the consumer that handles its messages
type ConsumerBinder func(cfg SubscriptionConfig) Consumer

// registers subscriptions that are new in the store or were put again since the
// last sync, and removes the ones deleted from the store. A subscription the
// poller removed stays removed until its store entry is put again.
type StoreSync struct {
	store    SubscriptionStore
	registry SubscriptionRegistry
	bind     ConsumerBinder

	mu     sync.Mutex
	synced map[string]SubscriptionConfig
}

func NewStoreSync(store SubscriptionStore, registry SubscriptionRegistry, bind ConsumerBinder) *StoreSync {
	return &StoreSync{
		store:    store,
		registry: registry,
		bind:     bind,
		synced:   make(map[string]SubscriptionConfig),
	}
}

func (s *StoreSync) Sync(ctx context.Context) error {
	configs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	registered := make(map[string]Subscription)
	for _, sub := range s.registry.List() {
		registered[sub.QueueURL] = sub
	}

	added, removed := 0, 0
	declared := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		declared[cfg.QueueURL] = true
		if prev, ok := s.synced[cfg.QueueURL]; ok && prev == cfg {
			continue
		}
		s.registry.Add(NewSubscription(cfg.QueueURL, cfg.CredentialsID, cfg.JobName, s.bind(cfg)))
		s.synced[cfg.QueueURL] = cfg
		added++
	}

	for queueURL := range s.synced {
		if declared[queueURL] {
			continue
		}
		if sub, ok := registered[queueURL]; ok {
			s.registry.Remove(sub)
		}
		delete(s.synced, queueURL)
		removed++
	}

	if added > 0 || removed > 0 {
		log.Info().Int("added", added).Int("removed", removed).Msg("Synced SQS subscriptions")
	}
	return nil
}
