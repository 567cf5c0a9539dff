package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	redisclient "github.com/zatekoja/scribesync/internal/infrastructure/clients/redis"
	"github.com/zatekoja/scribesync/pkg/config"
)

func exerciseStorage(t *testing.T, s interface {
	providers.LocalStorage
	Clear(ctx context.Context) error
}) {
	ctx := context.Background()

	_, err := s.Get(ctx, "consultations")
	assert.ErrorIs(t, err, providers.ErrStorageKeyNotFound)

	require.NoError(t, s.Set(ctx, "consultations", `[{"id":"c-1"}]`))
	got, err := s.Get(ctx, "consultations")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"c-1"}]`, got)

	require.NoError(t, s.Remove(ctx, "consultations"))
	require.NoError(t, s.Remove(ctx, "consultations"))
	_, err = s.Get(ctx, "consultations")
	assert.ErrorIs(t, err, providers.ErrStorageKeyNotFound)

	require.NoError(t, s.Set(ctx, "patients", "[]"))
	require.NoError(t, s.Set(ctx, "templates", "[]"))
	require.NoError(t, s.Clear(ctx))
	_, err = s.Get(ctx, "patients")
	assert.ErrorIs(t, err, providers.ErrStorageKeyNotFound)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func newTestRedisClient(t *testing.T) *redisclient.Client {
	t.Helper()
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set, skipping Redis integration test")
	}
	client, err := redisclient.NewClient(&config.RedisConfig{Host: host, Port: 6379})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStorage(t *testing.T) {
	client := newTestRedisClient(t)
	exerciseStorage(t, NewRedisStorage(client, "test-owner"))
}

func TestRedisStorage_NamespacesByOwner(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	a := NewRedisStorage(client, "owner-a")
	b := NewRedisStorage(client, "owner-b")
	t.Cleanup(func() {
		_ = a.Clear(ctx)
		_ = b.Clear(ctx)
	})

	require.NoError(t, a.Set(ctx, "activeConsultationId", "c-1"))
	_, err := b.Get(ctx, "activeConsultationId")
	assert.ErrorIs(t, err, providers.ErrStorageKeyNotFound)
}
