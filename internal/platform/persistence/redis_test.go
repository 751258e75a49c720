package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/settlement-reconciler/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("connects", func(t *testing.T) {
		s := miniredis.RunT(t)

		client, err := NewRedisClient(context.Background(), logger, &config.RedisConfig{Addr: s.Addr()})
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
		got, err := s.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("unreachable", func(t *testing.T) {
		s := miniredis.RunT(t)
		addr := s.Addr()
		s.Close()

		client, err := NewRedisClient(context.Background(), logger, &config.RedisConfig{Addr: addr})
		assert.Nil(t, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping Redis")
	})
}
