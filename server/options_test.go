package server

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"appboot/config"
)

func TestRecycleThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	t.Run("zero max disables recycling", func(t *testing.T) {
		assert.Equal(t, 0, RecycleThreshold(0, 50, rng))
		assert.Equal(t, 0, RecycleThreshold(-1, 50, rng))
	})

	t.Run("zero jitter is exact", func(t *testing.T) {
		assert.Equal(t, 1000, RecycleThreshold(1000, 0, rng))
	})

	t.Run("jitter stays within the window", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			got := RecycleThreshold(1000, 50, rng)
			assert.GreaterOrEqual(t, got, 1000)
			assert.Less(t, got, 1050)
		}
	})

	t.Run("jitter varies across draws", func(t *testing.T) {
		seen := make(map[int]bool)
		for i := 0; i < 200; i++ {
			seen[RecycleThreshold(1000, 50, rng)] = true
		}
		assert.Greater(t, len(seen), 1)
	})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Bind = "0.0.0.0:8000"
	cfg.Server.Workers = 4
	cfg.Server.WorkerModel = "sync"
	cfg.Server.WorkerConnections = 1000
	cfg.Server.Timeout = 60
	cfg.Server.KeepAlive = 5
	cfg.Server.MaxRequests = 1000
	cfg.Server.MaxRequestsJitter = 50
	cfg.Server.GracefulTimeout = 30
	cfg.Static.Root = "/srv/static"

	opts := OptionsFromConfig(cfg)

	assert.Equal(t, "0.0.0.0:8000", opts.Bind)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, "sync", opts.WorkerModel)
	assert.Equal(t, 1000, opts.WorkerConnections)
	assert.Equal(t, 60*time.Second, opts.RequestTimeout)
	assert.Equal(t, 5*time.Second, opts.KeepAlive)
	assert.Equal(t, 1000, opts.MaxRequests)
	assert.Equal(t, 50, opts.MaxRequestsJitter)
	assert.Equal(t, 30*time.Second, opts.GracefulTimeout)
	assert.Equal(t, "/srv/static", opts.StaticRoot)
}
