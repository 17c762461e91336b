package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog/log"
)

// static keys declared in the subscriptions file
type StaticCredentials struct {
	ID              string `mapstructure:"id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// resolves a credentials reference, a nil provider means the default chain
type CredentialsResolver interface {
	Resolve(ctx context.Context, credentialsID string) (aws.CredentialsProvider, error)
}

// looks the reference up in the static entries first and otherwise treats it as
// the name of a shared config profile
type ProfileCredentialsResolver struct {
	mu        sync.Mutex
	static    map[string]StaticCredentials
	providers map[string]aws.CredentialsProvider
}

func NewProfileCredentialsResolver(static []StaticCredentials) *ProfileCredentialsResolver {
	r := &ProfileCredentialsResolver{
		static:    make(map[string]StaticCredentials, len(static)),
		providers: make(map[string]aws.CredentialsProvider),
	}
	for _, c := range static {
		r.static[c.ID] = c
	}
	return r
}

func (r *ProfileCredentialsResolver) Resolve(ctx context.Context, credentialsID string) (aws.CredentialsProvider, error) {
	if credentialsID == "" {
		log.Trace().Msg("Use default credentials chain")
		return nil, nil
	}

	r.mu.Lock()
	if p, ok := r.providers[credentialsID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	c, static := r.static[credentialsID]
	r.mu.Unlock()

	var provider aws.CredentialsProvider
	if static {
		log.Trace().Str("credentials_id", credentialsID).Str("access_key_id", c.AccessKeyID).Msg("Use static AWS credentials")
		provider = credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	} else {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(credentialsID))
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials profile %q: %w", credentialsID, err)
		}
		log.Trace().Str("credentials_id", credentialsID).Msg("Use shared config profile")
		provider = cfg.Credentials
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[credentialsID]; ok {
		return p, nil
	}
	r.providers[credentialsID] = provider
	return provider, nil
}
