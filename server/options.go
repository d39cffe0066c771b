// Package server implements the request-serving process the bootstrap
// sequence execs into: a prefork master that owns the listening socket and
// a set of synchronous worker processes that serve from it, recycled after
// a jittered request threshold. Development mode runs the same router in a
// single process instead.
package server

import (
	"math/rand"
	"time"

	"appboot/config"
)

// Options carries the serving parameters out of the configuration.
type Options struct {
	Bind              string
	Workers           int
	WorkerModel       string
	WorkerConnections int
	RequestTimeout    time.Duration
	KeepAlive         time.Duration
	MaxRequests       int
	MaxRequestsJitter int
	GracefulTimeout   time.Duration
	StaticRoot        string
}

// OptionsFromConfig extracts serving options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Bind:              cfg.Server.Bind,
		Workers:           cfg.Server.Workers,
		WorkerModel:       cfg.Server.WorkerModel,
		WorkerConnections: cfg.Server.WorkerConnections,
		RequestTimeout:    cfg.RequestTimeout(),
		KeepAlive:         cfg.KeepAliveTimeout(),
		MaxRequests:       cfg.Server.MaxRequests,
		MaxRequestsJitter: cfg.Server.MaxRequestsJitter,
		GracefulTimeout:   cfg.GracefulTimeout(),
		StaticRoot:        cfg.Static.Root,
	}
}

// RecycleThreshold computes the per-worker request threshold. Jitter
// desynchronizes recycling across workers: the result falls in
// [maxRequests, maxRequests+jitter). Zero maxRequests disables recycling.
func RecycleThreshold(maxRequests, jitter int, rng *rand.Rand) int {
	if maxRequests <= 0 {
		return 0
	}
	if jitter <= 0 {
		return maxRequests
	}
	return maxRequests + rng.Intn(jitter)
}
