package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

func TestParsePayload(t *testing.T) {
	s := NewAlertService(nil)

	t.Run("full payload", func(t *testing.T) {
		parsed, err := s.ParsePayload([]byte(`{
			"symbol": "btcusdt",
			"timeframe": "4h",
			"strategy": "Trend",
			"signal": "buy",
			"price": "64250.5",
			"timestamp": 1740830400000,
			"tp": 66000,
			"stop_loss": "63000",
			"comment": "extra fields are kept only in the raw payload"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", parsed.Symbol)
		assert.Equal(t, "4h", parsed.Timeframe)
		assert.Equal(t, models.SignalBuy, parsed.Signal)
		assert.Equal(t, 64250.5, parsed.Price)
		require.NotNil(t, parsed.TakeProfit)
		assert.Equal(t, 66000.0, *parsed.TakeProfit)
		require.NotNil(t, parsed.StopLoss)
		assert.Equal(t, 63000.0, *parsed.StopLoss)
		assert.Equal(t, time.Unix(1740830400, 0).UTC(), parsed.EventTime)
	})

	t.Run("signal aliases", func(t *testing.T) {
		for in, want := range map[string]models.SignalKind{
			"TP_HIT":        models.SignalTakeProfitHit,
			"sl_hit":        models.SignalStopLossHit,
			"Stop_Loss_Hit": models.SignalStopLossHit,
			"SELL":          models.SignalSell,
		} {
			got, ok := ParseSignalKind(in)
			assert.True(t, ok, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("timestamp formats", func(t *testing.T) {
		parsed, err := s.ParsePayload([]byte(`{"symbol":"ETHUSDT","timeframe":"1h","strategy":"S","signal":"SELL","price":3000,"timestamp":"2025-03-01T12:00:00Z"}`))
		require.NoError(t, err)
		assert.Equal(t, testStart, parsed.EventTime)

		parsed, err = s.ParsePayload([]byte(`{"symbol":"ETHUSDT","timeframe":"1h","strategy":"S","signal":"SELL","price":3000,"timestamp":"1740830400"}`))
		require.NoError(t, err)
		assert.Equal(t, testStart, parsed.EventTime)
	})

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `symbol=BTC`, "payload"},
		{"empty body", ``, "payload"},
		{"missing symbol", `{"timeframe":"1h","strategy":"S","signal":"BUY","price":1,"timestamp":1}`, "symbol"},
		{"missing timeframe", `{"symbol":"BTC","strategy":"S","signal":"BUY","price":1,"timestamp":1}`, "timeframe"},
		{"missing price", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"BUY","timestamp":1}`, "price"},
		{"missing timestamp", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"BUY","price":1}`, "timestamp"},
		{"unknown signal", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"HOLD","price":1,"timestamp":1}`, "signal"},
		{"negative price", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"BUY","price":-5,"timestamp":1}`, "price"},
		{"price not a number", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"BUY","price":"abc","timestamp":1}`, "price"},
		{"bad timestamp", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"BUY","price":1,"timestamp":"yesterday"}`, "timestamp"},
		{"bad take profit", `{"symbol":"BTC","timeframe":"1h","strategy":"S","signal":"BUY","price":1,"timestamp":1,"take_profit":"x"}`, "take_profit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ParsePayload([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("persists verbatim payload", func(t *testing.T) {
		body := `{"symbol":"BTCUSDT","timeframe":"1h","strategy":"Trend","signal":"BUY","price":64000,"timestamp":1740830400,"note":"kept"}`
		alert, err := f.alerts.Ingest(ctx, []byte(body), "tradingview")
		require.NoError(t, err)
		assert.NotZero(t, alert.ID)

		stored, err := f.alerts.GetAlert(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, body, string(stored.RawPayload))
		assert.Equal(t, models.AlertStatusReceived, stored.Status)
		assert.Equal(t, "tradingview", stored.Source)
		assert.Equal(t, testStart, stored.ReceivedAt.UTC())
		assert.Nil(t, stored.ProcessedAt)
	})

	t.Run("invalid payload is not stored", func(t *testing.T) {
		var before int64
		require.NoError(t, f.db.Model(&models.Alert{}).Count(&before).Error)

		_, err := f.alerts.Ingest(ctx, []byte(`{"symbol":"BTCUSDT"}`), "tradingview")
		assert.True(t, errors.Is(err, ErrValidation))

		var after int64
		require.NoError(t, f.db.Model(&models.Alert{}).Count(&after).Error)
		assert.Equal(t, before, after)
	})
}

func TestAlertTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		alert := f.ingest(t, "BUY", "100")

		require.NoError(t, f.alerts.MarkProcessing(ctx, alert.ID))
		f.clock.Advance(time.Second)
		require.NoError(t, f.alerts.MarkProcessed(ctx, alert.ID))

		stored, err := f.alerts.GetAlert(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusProcessed, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
		require.NotNil(t, stored.ProcessedAt)
		assert.Equal(t, testStart.Add(time.Second), stored.ProcessedAt.UTC())
	})

	t.Run("processed requires processing", func(t *testing.T) {
		alert := f.ingest(t, "BUY", "100")

		err := f.alerts.MarkProcessed(ctx, alert.ID)
		assert.True(t, errors.Is(err, ErrInvalidState))

		var serr *InvalidStateError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, string(models.AlertStatusReceived), serr.Current)
	})

	t.Run("processing is claimed once", func(t *testing.T) {
		alert := f.ingest(t, "BUY", "100")

		require.NoError(t, f.alerts.MarkProcessing(ctx, alert.ID))
		assert.True(t, errors.Is(f.alerts.MarkProcessing(ctx, alert.ID), ErrInvalidState))
	})

	t.Run("failed records error and can be retried", func(t *testing.T) {
		alert := f.ingest(t, "BUY", "100")
		require.NoError(t, f.alerts.MarkProcessing(ctx, alert.ID))
		require.NoError(t, f.alerts.MarkFailed(ctx, alert.ID, "match", errors.New("db gone")))

		detail, err := f.alerts.GetAlertDetail(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusFailed, detail.Alert.Status)
		require.Len(t, detail.Errors, 1)
		assert.Equal(t, "match", detail.Errors[0].Stage)
		assert.Equal(t, "db gone", detail.Errors[0].Message)

		assert.True(t, errors.Is(f.alerts.MarkProcessing(ctx, alert.ID), ErrInvalidState))
		require.NoError(t, f.alerts.MarkReprocessing(ctx, alert.ID))

		stored, err := f.alerts.GetAlert(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AlertStatusProcessing, stored.Status)
		assert.Equal(t, 2, stored.Attempts)
	})

	t.Run("processed is terminal", func(t *testing.T) {
		alert := f.ingest(t, "BUY", "100")
		require.NoError(t, f.alerts.MarkProcessing(ctx, alert.ID))
		require.NoError(t, f.alerts.MarkProcessed(ctx, alert.ID))

		assert.True(t, errors.Is(f.alerts.MarkFailed(ctx, alert.ID, "deliver", nil), ErrInvalidState))
		assert.True(t, errors.Is(f.alerts.MarkReprocessing(ctx, alert.ID), ErrInvalidState))
	})

	t.Run("unknown alert", func(t *testing.T) {
		assert.True(t, errors.Is(f.alerts.MarkProcessing(ctx, 9999), ErrNotFound))
	})
}

func TestGetAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.ingest(t, "BUY", "100")
	}
	failed := f.ingest(t, "SELL", "100")
	require.NoError(t, f.alerts.MarkFailed(ctx, failed.ID, "parse", errors.New("bad")))

	alerts, total, err := f.alerts.GetAlerts(ctx, 1, 2, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, alerts, 2)
	assert.Equal(t, failed.ID, alerts[0].ID)

	alerts, total, err = f.alerts.GetAlerts(ctx, 1, 20, string(models.AlertStatusFailed))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, alerts, 1)

	ids, err := f.alerts.ListIDsByStatus(ctx, models.AlertStatusReceived)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}
