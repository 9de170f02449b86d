package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/videopress/backend/config"
	"github.com/videopress/backend/pkg/redis"
)

func TestSetupArchiveDisabledReturnsCloser(t *testing.T) {
	cfg := &config.Config{}
	arch, q, closeArchive := setupArchive(context.Background(), cfg, nil, zap.NewNop())
	assert.Nil(t, arch)
	assert.Nil(t, q)
	require.NotNil(t, closeArchive)
	closeArchive()
}

func TestSetupArchiveUnreachableDatabase(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{URL: "postgres://u:p@127.0.0.1:1/videopress?sslmode=disable&connect_timeout=1"},
		AWS:      config.AWSConfig{OutputsBucket: "outputs"},
	}
	arch, q, closeArchive := setupArchive(context.Background(), cfg, &redis.Client{}, zap.NewNop())
	assert.Nil(t, arch)
	assert.Nil(t, q)
	require.NotNil(t, closeArchive)
	closeArchive()
}
