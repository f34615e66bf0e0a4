package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

func TestMatchFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.subscriber(t, "alice@example.com", "1001", testStart.Add(30*24*time.Hour))
	bob := f.subscriber(t, "bob@example.com", "1002", testStart.Add(24*time.Hour))
	carol := f.subscriber(t, "carol@example.com", "1003", testStart.Add(-24*time.Hour))

	alert := f.ingest(t, "BUY", "64000")
	recipients, err := f.matching.Match(ctx, alert)
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	got := map[uint]models.AlertRecipient{}
	for _, r := range recipients {
		got[r.UserID] = r
		assert.False(t, r.Delivered)
		assert.Equal(t, models.RecipientPending, r.Status)
		assert.NotZero(t, r.SubscriptionID)
	}
	assert.Equal(t, "1001", got[alice.ID].ChatID)
	assert.Equal(t, "1002", got[bob.ID].ChatID)
	assert.NotContains(t, got, carol.ID)

	_, err = f.subs.ActiveSubscription(ctx, carol.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchPredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := testStart.Add(24 * time.Hour)

	buyer := f.subscriber(t, "buyer@example.com", "1", end, models.SignalBuy)
	f.subscriber(t, "seller@example.com", "2", end, models.SignalSell)

	other, err := f.users.GetOrCreateUser(ctx, "eth@example.com", "")
	require.NoError(t, err)
	_, err = f.users.LinkChannel(ctx, other.ID, "3", "")
	require.NoError(t, err)
	_, err = f.users.AddAlertConfig(ctx, other.ID, "ETHUSDT", "Trend", models.SignalBuy)
	require.NoError(t, err)
	_, err = f.users.AddAlertConfig(ctx, other.ID, "BTCUSDT", "trend", models.SignalBuy)
	require.NoError(t, err)
	_, err = f.subs.Activate(ctx, &models.Payment{UserID: other.ID, PlanID: f.plan.ID, TransactionID: "TXN300001"})
	require.NoError(t, err)

	alert := f.ingest(t, "BUY", "64000")
	recipients, err := f.matching.Match(ctx, alert)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, buyer.ID, recipients[0].UserID)
}

func TestMatchDeduplicatesUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.subscriber(t, "dup@example.com", "1", testStart.Add(24*time.Hour), models.SignalBuy)
	require.NoError(t, f.db.Create(&models.AlertConfig{
		UserID: user.ID, Symbol: "BTCUSDT", Strategy: "Trend", Signal: models.SignalBuy, IsActive: true,
	}).Error)

	alert := f.ingest(t, "BUY", "64000")
	recipients, err := f.matching.Match(ctx, alert)
	require.NoError(t, err)
	assert.Len(t, recipients, 1)
}

func TestMatchSkipsUnreachableUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := testStart.Add(24 * time.Hour)

	blocked := f.subscriber(t, "blocked@example.com", "1", end)
	require.NoError(t, f.users.MarkChannelBlocked(ctx, blocked.ID, "forbidden"))

	inactive := f.subscriber(t, "inactive@example.com", "2", end)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)

	reachable := f.subscriber(t, "ok@example.com", "3", end)

	alert := f.ingest(t, "BUY", "64000")
	recipients, err := f.matching.Match(ctx, alert)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, reachable.ID, recipients[0].UserID)

	_, err = f.users.LinkChannel(ctx, blocked.ID, "1", "")
	require.NoError(t, err)
	recipients, err = f.matching.Match(ctx, alert)
	require.NoError(t, err)
	assert.Len(t, recipients, 2)
}

func TestMatchIsReentrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.subscriber(t, "a@example.com", "1", testStart.Add(24*time.Hour))
	alert := f.ingest(t, "BUY", "64000")

	first, err := f.matching.Match(ctx, alert)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, f.db.Model(&models.AlertRecipient{}).Where("id = ?", first[0].ID).
		Updates(map[string]interface{}{"status": models.RecipientDelivered, "delivered": true}).Error)

	second, err := f.matching.Match(ctx, alert)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, second[0].Delivered)
	assert.Equal(t, user.ID, second[0].UserID)
}

func TestMatchNoSubscribers(t *testing.T) {
	f := newFixture(t)

	alert := f.ingest(t, "SELL", "64000")
	recipients, err := f.matching.Match(context.Background(), alert)
	require.NoError(t, err)
	assert.Empty(t, recipients)
}
