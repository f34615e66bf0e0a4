package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/channel"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/database"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/upi"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Name() string {
	return "mock"
}

func (m *mockAdapter) SendMessage(ctx context.Context, destination string, text string, opts *channel.SendOptions) (string, error) {
	args := m.Called(ctx, destination, text, opts)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) EditMessage(ctx context.Context, destination string, messageID string, text string, opts *channel.SendOptions) error {
	args := m.Called(ctx, destination, messageID, text, opts)
	return args.Error(0)
}

type fixture struct {
	db       *gorm.DB
	clock    *testClock
	alerts   *AlertService
	users    *UserService
	subs     *SubscriptionService
	matching *MatchingService
	trades   *TradeService
	payments *PaymentService
	plan     *models.SubscriptionPlan
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), "silent")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	clock := &testClock{now: testStart}

	f := &fixture{
		db:     db,
		clock:  clock,
		alerts: NewAlertService(db),
		users:  NewUserService(db),
		subs:   NewSubscriptionService(db),
		trades: NewTradeService(db),
	}
	f.alerts.SetClock(clock.Now)
	f.users.SetClock(clock.Now)
	f.subs.SetClock(clock.Now)
	f.trades.SetClock(clock.Now)
	f.matching = NewMatchingService(db, f.users, f.subs)

	ids, err := upi.NewIDGenerator(1)
	require.NoError(t, err)
	f.payments = NewPaymentService(db, f.subs, ids, config.PaymentConfig{
		TTL:           24 * time.Hour,
		PayeeVPA:      "alerts@okaxis",
		PayeeName:     "Signal Desk",
		MerchantCode:  "5411",
		Currency:      "INR",
		UploadDir:     t.TempDir(),
		QRDir:         t.TempDir(),
		MaxProofBytes: 1 << 20,
	})
	f.payments.SetClock(clock.Now)

	ctx := context.Background()
	require.NoError(t, f.subs.SyncPlans(ctx, []config.PlanConfig{
		{Code: "P1", Name: "Monthly", Price: "499", Currency: "INR", DurationMonths: 1},
	}))
	f.plan, err = f.subs.GetPlanByCode(ctx, "P1")
	require.NoError(t, err)

	return f
}

func (f *fixture) newDelivery(adapter channel.Adapter, attempts int) *DeliveryService {
	d := NewDeliveryService(f.db, adapter, f.alerts, f.users, config.DeliveryConfig{
		Workers:        4,
		Timeout:        time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	d.SetClock(f.clock.Now)
	return d
}

// subscriber creates a user with a chat link, a BTCUSDT/Trend alert config for the
// given signals and a subscription ending at end.
func (f *fixture) subscriber(t *testing.T, email, chatID string, end time.Time, signals ...models.SignalKind) *models.User {
	t.Helper()
	ctx := context.Background()

	user, err := f.users.GetOrCreateUser(ctx, email, "")
	require.NoError(t, err)
	_, err = f.users.LinkChannel(ctx, user.ID, chatID, "")
	require.NoError(t, err)

	if len(signals) == 0 {
		signals = []models.SignalKind{models.SignalBuy}
	}
	for _, sig := range signals {
		_, err = f.users.AddAlertConfig(ctx, user.ID, "BTCUSDT", "Trend", sig)
		require.NoError(t, err)
	}

	require.NoError(t, f.db.Create(&models.Subscription{
		UserID:        user.ID,
		PlanID:        f.plan.ID,
		TransactionID: fmt.Sprintf("TXN%d%06d", user.ID, end.Unix()%1000000),
		StartDate:     end.AddDate(0, -1, 0),
		EndDate:       end,
		Status:        models.SubscriptionActive,
	}).Error)

	return user
}

func (f *fixture) ingest(t *testing.T, signal, price string) *models.Alert {
	t.Helper()
	body := fmt.Sprintf(`{"symbol":"BTCUSDT","timeframe":"1h","strategy":"Trend","signal":%q,"price":%s,"timestamp":1740830400}`, signal, price)
	alert, err := f.alerts.Ingest(context.Background(), []byte(body), "tradingview")
	require.NoError(t, err)
	return alert
}

func (f *fixture) recipients(t *testing.T, alertID uint) []models.AlertRecipient {
	t.Helper()
	var rs []models.AlertRecipient
	require.NoError(t, f.db.Where("alert_id = ?", alertID).Order("user_id").Find(&rs).Error)
	return rs
}
