package main

import (
	"context"
	"database/sql"
)

type PostgresSubscriptionStore struct {
	queries *Queries
}

func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{queries: New(db)}
}

func (p *PostgresSubscriptionStore) List(ctx context.Context) ([]SubscriptionConfig, error) {
	return p.queries.ListSubscriptions(ctx)
}

func (p *PostgresSubscriptionStore) Put(ctx context.Context, cfg SubscriptionConfig) error {
	cfg.Revision = newRevision()
	return p.queries.UpsertSubscription(ctx, cfg)
}

func (p *PostgresSubscriptionStore) Delete(ctx context.Context, queueURL string) error {
	return p.queries.DeleteSubscription(ctx, queueURL)
}

func (p *PostgresSubscriptionStore) Close() error {
	// DB connection is managed elsewhere, nothing to close here
	return nil
}
