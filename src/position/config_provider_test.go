package position

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinpulse/src/repository"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
total_budget: 200000
per_position_budget: 50000
max_positions: 4
min_order_amount: 5000
take_profit_pct: 0.04
stop_loss_pct: 0.02
emergency_stop_pct: 0.05
max_holding_hours: 48
force_close_on_period: true
enabled: true
`), 0o600))

	cfg, err := LoadDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, 200000.0, cfg.TotalBudget)
	assert.Equal(t, 4, cfg.MaxPositions)
	assert.True(t, cfg.ForceCloseOnPeriod)

	none, err := LoadDefaults("")
	require.NoError(t, err)
	assert.Nil(t, none)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("total_budget: -1\n"), 0o600))
	_, err = LoadDefaults(bad)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDBConfigProvider(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := (&repository.TradingConfigRepository{}).WithDB(db)

	stored := testConfig(1)
	require.NoError(t, repo.Upsert(ctx, &stored))

	invalid := testConfig(2)
	invalid.MaxPositions = 0
	require.NoError(t, repo.Upsert(ctx, &invalid))

	defaults := testConfig(0)
	defaults.TotalBudget = 7777

	p := NewDBConfigProvider(repo, &defaults, time.Minute)

	cfg, err := p.TradingConfig(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, cfg.TotalBudget)

	_, err = p.TradingConfig(ctx, 2)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err = p.TradingConfig(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 7777.0, cfg.TotalBudget)
	assert.Equal(t, uint(3), cfg.UserID)

	// cached until invalidated
	stored.TotalBudget = 1234
	require.NoError(t, repo.Upsert(ctx, &stored))
	cfg, err = p.TradingConfig(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, cfg.TotalBudget)

	p.Invalidate()
	cfg, err = p.TradingConfig(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, cfg.TotalBudget)

	noDefaults := NewDBConfigProvider(repo, nil, time.Minute)
	_, err = noDefaults.TradingConfig(ctx, 3)
	require.ErrorIs(t, err, ErrNoTradingConfig)
}
