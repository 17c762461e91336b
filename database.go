package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type DatabaseInterface interface {
	CreateTriggerLog(ctx context.Context, params CreateTriggerLogParams) error
	Close() error
}

type Database struct {
	db      *sql.DB
	queries *Queries
}

func NewDatabase(databaseURL string) (*Database, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Database{
		db:      db,
		queries: New(db),
	}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) CreateTriggerLog(ctx context.Context, params CreateTriggerLogParams) error {
	return d.queries.CreateTriggerLog(ctx, params)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type CreateTriggerLogParams struct {
	JobName    string
	QueueURL   string
	MessageIDs []string
	Status     int
	CreatedAt  time.Time
}

type TriggerLog struct {
	ID         int64     `json:"id"`
	JobName    string    `json:"job_name"`
	QueueURL   string    `json:"queue_url"`
	MessageIDs []string  `json:"message_ids"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

const createTriggerLog = `-- name: CreateTriggerLog :exec
INSERT INTO trigger_logs (job_name, queue_url, message_ids, status, created_at)
VALUES ($1, $2, $3, $4, $5)
`

func (q *Queries) CreateTriggerLog(ctx context.Context, arg CreateTriggerLogParams) error {
	_, err := q.db.ExecContext(ctx, createTriggerLog,
		arg.JobName,
		arg.QueueURL,
		pq.Array(arg.MessageIDs),
		arg.Status,
		arg.CreatedAt,
	)
	return err
}

const listSubscriptions = `-- name: ListSubscriptions :many
SELECT queue_url, credentials_id, job_name, job_url, revision
FROM subscriptions
ORDER BY queue_url
`

func (q *Queries) ListSubscriptions(ctx context.Context) ([]SubscriptionConfig, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SubscriptionConfig
	for rows.Next() {
		var i SubscriptionConfig
		if err := rows.Scan(&i.QueueURL, &i.CredentialsID, &i.JobName, &i.JobURL, &i.Revision); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertSubscription = `-- name: UpsertSubscription :exec
INSERT INTO subscriptions (queue_url, credentials_id, job_name, job_url, revision, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (queue_url) DO UPDATE
SET credentials_id = EXCLUDED.credentials_id,
    job_name = EXCLUDED.job_name,
    job_url = EXCLUDED.job_url,
    revision = EXCLUDED.revision,
    updated_at = EXCLUDED.updated_at
`

func (q *Queries) UpsertSubscription(ctx context.Context, arg SubscriptionConfig) error {
	_, err := q.db.ExecContext(ctx, upsertSubscription,
		arg.QueueURL,
		arg.CredentialsID,
		arg.JobName,
		arg.JobURL,
		arg.Revision,
		time.Now(),
	)
	return err
}

const deleteSubscription = `-- name: DeleteSubscription :exec
DELETE FROM subscriptions WHERE queue_url = $1
`

func (q *Queries) DeleteSubscription(ctx context.Context, queueURL string) error {
	_, err := q.db.ExecContext(ctx, deleteSubscription, queueURL)
	return err
}
