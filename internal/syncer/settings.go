package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldsync/internal/models"
	"fieldsync/internal/scheduler"
	"fieldsync/internal/store"
)

// RetryStrategy returns the active backoff parameters.
func (c *Coordinator) RetryStrategy() models.RetryStrategy {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.retry
}

// backoff derives the scheduler's delay policy from the active strategy.
func (c *Coordinator) backoff() scheduler.RetryPolicy {
	return scheduler.RetryPolicy(c.RetryStrategy())
}

// SetRetryStrategy applies a partial override: zero-valued fields keep their
// current values. The new retry budget applies to future operations only.
func (c *Coordinator) SetRetryStrategy(partial models.RetryStrategy) {
	c.settingsMu.Lock()
	if partial.MaxRetries > 0 {
		c.retry.MaxRetries = partial.MaxRetries
	}
	if partial.BaseDelay > 0 {
		c.retry.BaseDelay = partial.BaseDelay
	}
	if partial.MaxDelay > 0 {
		c.retry.MaxDelay = partial.MaxDelay
	}
	maxRetries := c.retry.MaxRetries
	c.settingsMu.Unlock()

	c.queue.SetDefaultMaxRetries(maxRetries)
}

// MergeSettings returns a copy of the active conflict-resolution settings.
func (c *Coordinator) MergeSettings() models.MergeSettings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.merge.Clone()
}

// SetMergeStrategy changes the default conflict-resolution strategy and
// persists the settings.
func (c *Coordinator) SetMergeStrategy(ctx context.Context, s models.MergeStrategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown merge strategy %q", s)
	}
	c.settingsMu.Lock()
	c.merge.Default = s
	c.settingsMu.Unlock()
	return c.persistMergeSettings(ctx)
}

// SetFieldMergeStrategy sets a per-field strategy override used by
// field-by-field resolution.
func (c *Coordinator) SetFieldMergeStrategy(ctx context.Context, field string, s models.MergeStrategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown merge strategy %q", s)
	}
	c.settingsMu.Lock()
	if c.merge.FieldOverrides == nil {
		c.merge.FieldOverrides = make(map[string]models.MergeStrategy)
	}
	c.merge.FieldOverrides[field] = s
	c.settingsMu.Unlock()
	return c.persistMergeSettings(ctx)
}

// SetManualPreference sets the concrete strategy the manual mode delegates
// to. Manual itself is not a valid delegate.
func (c *Coordinator) SetManualPreference(ctx context.Context, s models.MergeStrategy) error {
	if !s.Valid() || s == models.MergeManual {
		return fmt.Errorf("invalid manual preference %q", s)
	}
	c.settingsMu.Lock()
	c.merge.ManualPreference = s
	c.settingsMu.Unlock()
	return c.persistMergeSettings(ctx)
}

func (c *Coordinator) persistMergeSettings(ctx context.Context) error {
	c.settingsMu.RLock()
	raw, err := json.Marshal(c.merge)
	c.settingsMu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode merge settings: %w", err)
	}
	if err := c.kv.Set(ctx, store.KeyMergeSettings, raw); err != nil {
		c.logger.Error().Err(err).Msg("persist merge settings")
		return err
	}
	return nil
}

// loadMergeSettings restores settings saved by a previous run. Absence or a
// decode failure keeps the constructor-supplied defaults.
func (c *Coordinator) loadMergeSettings() {
	raw, err := c.kv.Get(context.Background(), store.KeyMergeSettings)
	if err != nil {
		c.logger.Warn().Err(err).Msg("load merge settings, keeping defaults")
		return
	}
	if len(raw) == 0 {
		return
	}

	var saved models.MergeSettings
	if err := json.Unmarshal(raw, &saved); err != nil {
		c.logger.Warn().Err(err).Msg("decode merge settings, keeping defaults")
		return
	}
	if !saved.Default.Valid() {
		saved.Default = c.merge.Default
	}
	if !saved.ManualPreference.Valid() || saved.ManualPreference == models.MergeManual {
		saved.ManualPreference = c.merge.ManualPreference
	}

	c.settingsMu.Lock()
	c.merge = saved
	c.settingsMu.Unlock()
}
