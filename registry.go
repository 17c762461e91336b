package main

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// the set of subscriptions polled each round
type SubscriptionRegistry interface {
	Add(sub Subscription)
	Remove(sub Subscription)
	List() []Subscription
}

// keeps at most one subscription per queue url, adding one for a url that is
// already registered replaces it
type Registry struct {
	mu            sync.RWMutex
	subscriptions map[string]Subscription
}

func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[string]Subscription),
	}
}

func (r *Registry) Add(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log.Debug().Str("queue_url", sub.QueueURL).Str("job", sub.JobName).Msg("Add SQS subscription")
	r.subscriptions[sub.QueueURL] = sub
}

// removes sub unless it has since been replaced by a newer registration for the
// same queue, so a loop deregistering its own copy cannot drop a re-added one
func (r *Registry) Remove(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.subscriptions[sub.QueueURL]
	if !ok {
		return
	}
	if sub.ID != "" && current.ID != sub.ID {
		log.Debug().Str("queue_url", sub.QueueURL).Msg("Subscription was replaced, not removing")
		return
	}

	log.Debug().Str("queue_url", sub.QueueURL).Str("job", sub.JobName).Msg("Remove SQS subscription")
	delete(r.subscriptions, sub.QueueURL)
}

// returns a snapshot ordered by queue url
func (r *Registry) List() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].QueueURL < subs[j].QueueURL })
	return subs
}

func (r *Registry) Get(queueURL string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subscriptions[queueURL]
	return sub, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscriptions)
}
