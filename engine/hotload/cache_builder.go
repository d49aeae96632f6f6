package hotload

import (
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
	"go.uber.org/zap"
)

// CacheBuilderOption configures a Cache at construction.
type CacheBuilderOption func(*cache)

// Validator checks a linked program version against the contract of the program it serves.
// current is nil at registration and the live version on reload. A non-nil error rejects next.
type Validator func(key string, current, next pipeline.Pipeline) error

// WithLogger sets the logger reload results are written to.
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - CacheBuilderOption: a function that applies the logger option
func WithLogger(logger *zap.Logger) CacheBuilderOption {
	return func(c *cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWorkers sets how many recompile front-ends may run at once.
//
// Parameters:
//   - n: the worker count, values below 1 are ignored
//
// Returns:
//   - CacheBuilderOption: a function that applies the worker option
func WithWorkers(n int) CacheBuilderOption {
	return func(c *cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithReloadObserver sets a callback invoked once per recompile attempt with its result.
//
// Parameters:
//   - fn: the callback, called on the main thread
//
// Returns:
//   - CacheBuilderOption: a function that applies the observer option
func WithReloadObserver(fn func(program string, result ReloadResult)) CacheBuilderOption {
	return func(c *cache) {
		c.observer = fn
	}
}

// WithValidator sets a check every new program version must pass before it becomes current.
//
// Parameters:
//   - v: the validator, called on the main thread
//
// Returns:
//   - CacheBuilderOption: a function that applies the validator option
func WithValidator(v Validator) CacheBuilderOption {
	return func(c *cache) {
		c.validator = v
	}
}
