package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDefaultChain(t *testing.T) {
	resolver := NewProfileCredentialsResolver(nil)

	provider, err := resolver.Resolve(context.Background(), "")

	assert.NoError(t, err)
	assert.Nil(t, provider)
}

func TestResolveStaticCredentials(t *testing.T) {
	resolver := NewProfileCredentialsResolver([]StaticCredentials{
		{ID: "ci", AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret"},
	})

	provider, err := resolver.Resolve(context.Background(), "ci")
	assert.NoError(t, err)

	creds, err := provider.Retrieve(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)

	again, err := resolver.Resolve(context.Background(), "ci")
	assert.NoError(t, err)
	assert.Equal(t, provider, again)
}
