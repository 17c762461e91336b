package main

import "context"

// where subscriptions are declared, they are loaded into the registry at startup
type SubscriptionStore interface {
	// returns every declared subscription
	List(ctx context.Context) ([]SubscriptionConfig, error)

	// adds a subscription or replaces the one for the same queue url
	Put(ctx context.Context, cfg SubscriptionConfig) error

	// removes the subscription for queueURL, removing an unknown one is not an error
	Delete(ctx context.Context, queueURL string) error

	// releases any resources, could be a noop if not required
	Close() error
}
