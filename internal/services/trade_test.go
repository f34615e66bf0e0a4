package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

func TestTradeIntents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apply := func(t *testing.T, signal, price string) *TradeResult {
		t.Helper()
		result, err := f.trades.Apply(ctx, f.ingest(t, signal, price))
		require.NoError(t, err)
		require.Len(t, result.Actions, 1)
		return result
	}

	t.Run("exit without open trade is skipped", func(t *testing.T) {
		r := apply(t, "SL_HIT", "100")
		assert.Equal(t, models.TradeActionClose, r.Actions[0].Action)
		assert.Equal(t, models.TradeOutcomeSkipped, r.Actions[0].Outcome)
		assert.Nil(t, r.Closed)
	})

	t.Run("entry opens a trade", func(t *testing.T) {
		r := apply(t, "BUY", "100")
		assert.Equal(t, models.TradeActionOpen, r.Actions[0].Action)
		assert.Equal(t, models.TradeOutcomeApplied, r.Actions[0].Outcome)
		require.NotNil(t, r.Actions[0].TradeID)

		open, err := f.trades.GetOpenTrades(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, models.TradeLong, open[0].Direction)
		assert.Equal(t, 100.0, open[0].EntryPrice)
	})

	t.Run("same direction is skipped", func(t *testing.T) {
		r := apply(t, "BUY", "101")
		assert.Equal(t, models.TradeActionOpen, r.Actions[0].Action)
		assert.Equal(t, models.TradeOutcomeSkipped, r.Actions[0].Outcome)

		open, err := f.trades.GetOpenTrades(ctx)
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("opposite direction replaces", func(t *testing.T) {
		r := apply(t, "SELL", "110")
		assert.Equal(t, models.TradeActionReplace, r.Actions[0].Action)
		assert.Equal(t, models.TradeOutcomeApplied, r.Actions[0].Outcome)
		require.NotNil(t, r.Closed)
		assert.Equal(t, models.TradeClosed, r.Closed.Status)
		require.NotNil(t, r.Closed.PnLPercent)
		assert.InDelta(t, 10.0, *r.Closed.PnLPercent, 1e-9)

		open, err := f.trades.GetOpenTrades(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, models.TradeShort, open[0].Direction)
	})

	t.Run("exit closes the short", func(t *testing.T) {
		r := apply(t, "TP_HIT", "99")
		assert.Equal(t, models.TradeActionClose, r.Actions[0].Action)
		assert.Equal(t, models.TradeOutcomeApplied, r.Actions[0].Outcome)
		require.NotNil(t, r.Closed)
		assert.Equal(t, models.SignalTakeProfitHit, r.Closed.ExitReason)
		assert.InDelta(t, 10.0, *r.Closed.PnLPercent, 1e-9)

		open, err := f.trades.GetOpenTrades(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)
	})
}

func TestTradeApplyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.ingest(t, "BUY", "100")
	_, err := f.trades.Apply(ctx, entry)
	require.NoError(t, err)

	exit := f.ingest(t, "SL_HIT", "95")
	first, err := f.trades.Apply(ctx, exit)
	require.NoError(t, err)
	second, err := f.trades.Apply(ctx, exit)
	require.NoError(t, err)

	require.Len(t, second.Actions, 1)
	assert.Equal(t, first.Actions[0].ID, second.Actions[0].ID)
	require.NotNil(t, second.Closed)
	assert.Equal(t, first.Closed.ID, second.Closed.ID)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.InDelta(t, -5.0, *second.Closed.PnLPercent, 1e-9)

	var actions int64
	require.NoError(t, f.db.Model(&models.AlertTradeAction{}).Where("alert_id = ?", exit.ID).Count(&actions).Error)
	assert.Equal(t, int64(1), actions)
}

func TestPnLPercent(t *testing.T) {
	assert.InDelta(t, 5.0, PnLPercent(models.TradeLong, 100, 105), 1e-9)
	assert.InDelta(t, -5.0, PnLPercent(models.TradeShort, 100, 105), 1e-9)
	assert.InDelta(t, 20.0, PnLPercent(models.TradeShort, 50, 40), 1e-9)
	assert.Equal(t, 0.0, PnLPercent(models.TradeLong, 0, 10))
}
