package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreditsConfigHolderDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewCreditsConfigHolder()
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 3, cfg.Ledger.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Ledger.Retry.BackoffStep)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
}

func TestNewCreditsConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	content := []byte(`ledger:
  retry:
    maxAttempts: 5
    backoffStep: 250ms
scheduler:
  interval: 10m
  batchSize: 20
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credits.yml"), content, 0o600))

	holder, err := NewCreditsConfigHolder()
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 5, cfg.Ledger.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.Retry.BackoffStep)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 20, cfg.Scheduler.BatchSize)
}

func TestValidateCreditsConfig(t *testing.T) {
	cfg := DefaultCreditsConfig()
	assert.NoError(t, validateCreditsConfig(cfg))

	cfg.Ledger.Retry.MaxAttempts = 0
	assert.Error(t, validateCreditsConfig(cfg))

	cfg = DefaultCreditsConfig()
	cfg.Scheduler.BatchSize = 0
	assert.Error(t, validateCreditsConfig(cfg))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, splitList(" a@example.com, ,b@example.com "))
	assert.Empty(t, splitList(""))
}
