package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverKV routes reads and writes to a primary KV and falls back to a
// secondary when the primary errors. The primary is probed again after
// recoveryInterval.
type FailoverKV struct {
	primary   KV
	fallback  KV
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverKV(primary, fallback KV, logger *zerolog.Logger) *FailoverKV {
	return &FailoverKV{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverKV) markDown(err error) {
	f.logger.Error().Err(err).Msg("primary store failed, falling back")
	f.isDown.Store(true)
	f.lastCheck.Store(time.Now().UnixNano())
}

func (f *FailoverKV) shouldRetryPrimary() bool {
	return time.Since(time.Unix(0, f.lastCheck.Load())) > recoveryInterval
}

func (f *FailoverKV) Get(ctx context.Context, key string) ([]byte, error) {
	if !f.isDown.Load() {
		val, err := f.primary.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		f.markDown(err)
	} else if f.shouldRetryPrimary() {
		val, err := f.primary.Get(ctx, key)
		if err == nil {
			f.isDown.Store(false)
			return val, nil
		}
		f.lastCheck.Store(time.Now().UnixNano())
	}

	return f.fallback.Get(ctx, key)
}

func (f *FailoverKV) Set(ctx context.Context, key string, value []byte) error {
	if !f.isDown.Load() {
		err := f.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}

	return f.fallback.Set(ctx, key, value)
}

func (f *FailoverKV) Delete(ctx context.Context, key string) error {
	if !f.isDown.Load() {
		err := f.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}

	return f.fallback.Delete(ctx, key)
}

func (f *FailoverKV) Close() error {
	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
