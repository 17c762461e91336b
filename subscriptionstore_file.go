package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

// the layout of the subscriptions file
type SubscriptionsFile struct {
	Subscriptions []SubscriptionConfig `mapstructure:"subscriptions"`
	Credentials   []StaticCredentials  `mapstructure:"credentials"`
}

// keeps subscriptions in the yaml file, every call reads the file again so
// changes made by another process are seen
type FileSubscriptionStore struct {
	mu   sync.Mutex
	path string
}

func NewFileSubscriptionStore(path string) (*FileSubscriptionStore, SubscriptionsFile, error) {
	f := &FileSubscriptionStore{path: path}
	_, file, err := f.read()
	if err != nil {
		return nil, file, err
	}
	return f, file, nil
}

// a missing file reads as empty
func (f *FileSubscriptionStore) read() (*viper.Viper, SubscriptionsFile, error) {
	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("yaml")

	var file SubscriptionsFile
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, file, fmt.Errorf("read subscriptions file failed: %w", err)
		}
	} else if err := v.Unmarshal(&file); err != nil {
		return nil, file, fmt.Errorf("parse subscriptions file failed: %w", err)
	}

	for i, cfg := range file.Subscriptions {
		if cfg.QueueURL == "" {
			return nil, file, fmt.Errorf("subscription %d: queue_url is required", i)
		}
	}
	return v, file, nil
}

func (f *FileSubscriptionStore) List(ctx context.Context) ([]SubscriptionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, file, err := f.read()
	if err != nil {
		return nil, err
	}
	return NewInMemorySubscriptionStore(file.Subscriptions...).List(ctx)
}

func (f *FileSubscriptionStore) Put(ctx context.Context, cfg SubscriptionConfig) error {
	return f.update(ctx, func(m *InMemorySubscriptionStore) error {
		return m.Put(ctx, cfg)
	})
}

func (f *FileSubscriptionStore) Delete(ctx context.Context, queueURL string) error {
	return f.update(ctx, func(m *InMemorySubscriptionStore) error {
		return m.Delete(ctx, queueURL)
	})
}

func (f *FileSubscriptionStore) Close() error {
	return nil
}

// applies fn to the current file contents and writes the subscriptions back,
// other keys such as credentials are kept
func (f *FileSubscriptionStore) update(ctx context.Context, fn func(m *InMemorySubscriptionStore) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, file, err := f.read()
	if err != nil {
		return err
	}

	m := NewInMemorySubscriptionStore(file.Subscriptions...)
	if err := fn(m); err != nil {
		return err
	}
	configs, err := m.List(ctx)
	if err != nil {
		return err
	}

	entries := make([]map[string]any, 0, len(configs))
	for _, cfg := range configs {
		entry := map[string]any{
			"queue_url": cfg.QueueURL,
			"job_name":  cfg.JobName,
			"job_url":   cfg.JobURL,
		}
		if cfg.CredentialsID != "" {
			entry["credentials_id"] = cfg.CredentialsID
		}
		if cfg.Revision != "" {
			entry["revision"] = cfg.Revision
		}
		entries = append(entries, entry)
	}

	v.Set("subscriptions", entries)
	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("write subscriptions file failed: %w", err)
	}
	return nil
}
