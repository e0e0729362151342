package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// backends returns every Store implementation reachable from the test environment.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	b := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("ALERTS_TEST_PG_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), dsn, 4)
			if err != nil {
				t.Skipf("Skipping test - Postgres not available: %v", err)
			}
			_, err = s.pool.Exec(context.Background(),
				`TRUNCATE price_alerts, global_alerts, alert_logs, notifications, notification_settings RESTART IDENTITY`)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func newAlert(user, symbol string, limit int) *models.PriceAlert {
	return &models.PriceAlert{
		UserID:       user,
		Symbol:       symbol,
		Segment:      models.SegmentStock,
		Condition:    models.ConditionAbove,
		TargetPrice:  150,
		TriggerLimit: limit,
	}
}

func codePtr(s string) *string { return &s }

func TestStore_ListActiveJoinsSettings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveSettings(ctx, models.NotificationSettings{
			UserID:          "u1",
			TelegramChatID:  "555",
			TelegramEnabled: true,
			EmailEnabled:    true,
			EmailTo:         "u1@example.com",
			SMTP:            models.SMTPSettings{Host: "smtp.example.com", Port: 587},
		}))

		a1 := newAlert("u1", "AAPL", 2)
		require.NoError(t, s.CreatePriceAlert(ctx, a1))
		a2 := newAlert("u2", "MSFT", 1)
		require.NoError(t, s.CreatePriceAlert(ctx, a2))
		a3 := newAlert("u2", "TSLA", 1)
		require.NoError(t, s.CreatePriceAlert(ctx, a3))
		require.NoError(t, s.SetPriceAlertStatus(ctx, a3.ID, models.AlertDisabled))

		rows, err := s.ListActivePriceAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, "AAPL", rows[0].Alert.Symbol)
		assert.Equal(t, "555", rows[0].Settings.TelegramChatID)
		assert.True(t, rows[0].Settings.TelegramEnabled)
		assert.False(t, rows[0].Settings.InAppEnabled)
		assert.Equal(t, 587, rows[0].Settings.SMTP.Port)

		// no settings row: defaults apply
		assert.Equal(t, "u2", rows[1].Settings.UserID)
		assert.True(t, rows[1].Settings.InAppEnabled)
		assert.False(t, rows[1].Settings.TelegramEnabled)
	})
}

func TestStore_ApplyPriceTrigger(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := newAlert("u1", "AAPL", 2)
		require.NoError(t, s.CreatePriceAlert(ctx, a))

		now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
		next := *a
		next.CurrentTriggers = 1
		next.LastTriggeredAt = &now
		require.NoError(t, s.ApplyPriceTrigger(ctx, *a, next))

		// stale version loses
		err := s.ApplyPriceTrigger(ctx, *a, next)
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		got, err := s.GetPriceAlert(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CurrentTriggers)
		assert.Equal(t, models.AlertActive, got.Status)
		require.NotNil(t, got.LastTriggeredAt)
		assert.True(t, now.Equal(*got.LastTriggeredAt))

		final := got
		final.CurrentTriggers = 2
		final.Status = models.AlertCompleted
		require.NoError(t, s.ApplyPriceTrigger(ctx, got, final))

		rows, err := s.ListActivePriceAlerts(ctx)
		require.NoError(t, err)
		assert.Empty(t, rows)

		// a completed rule never takes another write
		completed, err := s.GetPriceAlert(ctx, a.ID)
		require.NoError(t, err)
		again := completed
		again.Status = models.AlertCompleted
		assert.ErrorIs(t, s.ApplyPriceTrigger(ctx, completed, again), apperrors.ErrConflict)
		assert.ErrorIs(t, s.SetPriceAlertStatus(ctx, a.ID, models.AlertActive), apperrors.ErrConflict)
	})
}

func TestStore_ApplyPriceTriggerRejectsOverLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := newAlert("u1", "AAPL", 1)
		require.NoError(t, s.CreatePriceAlert(ctx, a))

		next := *a
		next.CurrentTriggers = 2
		assert.ErrorIs(t, s.ApplyPriceTrigger(ctx, *a, next), apperrors.ErrConflict)
	})
}

func TestStore_GlobalAlerts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		g := &models.GlobalMarketAlert{
			UserID:           "u1",
			Symbol:           "SPY",
			Direction:        models.DirectionDrop,
			ThresholdPercent: 2,
			CooldownMinutes:  60,
			Active:           true,
		}
		require.NoError(t, s.CreateGlobalAlert(ctx, g))

		rows, err := s.ListActiveGlobalAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Nil(t, rows[0].Alert.LastTriggeredAt)

		now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
		next := rows[0].Alert
		next.LastTriggeredAt = &now
		require.NoError(t, s.ApplyGlobalTrigger(ctx, rows[0].Alert, next))
		assert.ErrorIs(t, s.ApplyGlobalTrigger(ctx, rows[0].Alert, next), apperrors.ErrConflict)

		require.NoError(t, s.SetGlobalAlertActive(ctx, g.ID, false))
		rows, err = s.ListActiveGlobalAlerts(ctx)
		require.NoError(t, err)
		assert.Empty(t, rows)

		assert.ErrorIs(t, s.SetGlobalAlertActive(ctx, 9999, true), apperrors.ErrNotFound)
	})
}

func TestStore_ConsumeVerificationCode(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveSettings(ctx, models.NotificationSettings{
			UserID:           "u1",
			VerificationCode: codePtr("ABC123"),
			InAppEnabled:     true,
		}))

		st, err := s.ConsumeVerificationCode(ctx, "ABC123", "777")
		require.NoError(t, err)
		assert.Equal(t, "u1", st.UserID)
		assert.Equal(t, "777", st.TelegramChatID)
		assert.True(t, st.TelegramEnabled)
		assert.Nil(t, st.VerificationCode)

		// single use
		_, err = s.ConsumeVerificationCode(ctx, "ABC123", "888")
		assert.ErrorIs(t, err, apperrors.ErrCodeNotFound)

		got, err := s.GetSettings(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "777", got.TelegramChatID)

		_, err = s.ConsumeVerificationCode(ctx, "", "888")
		assert.ErrorIs(t, err, apperrors.ErrCodeNotFound)
	})
}

func TestStore_GetSettingsDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		st, err := s.GetSettings(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, models.DefaultSettings("nobody"), st)
	})
}

func TestStore_LogsAndNotifications(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

		for i, id := range []string{"l1", "l2", "l3"} {
			require.NoError(t, s.AppendAlertLog(ctx, models.AlertLog{
				ID:          id,
				RuleKind:    models.RuleKindPrice,
				AlertID:     int64(i + 1),
				UserID:      "u1",
				Message:     "AAPL crossed",
				TriggeredAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		logs, err := s.ListAlertLogs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "l3", logs[0].ID)

		require.NoError(t, s.CreateInAppNotification(ctx, models.InAppNotification{
			ID: "n1", UserID: "u1", Title: "Price alert", Message: "AAPL", Link: "/alerts/1", CreatedAt: base,
		}))
		require.NoError(t, s.CreateInAppNotification(ctx, models.InAppNotification{
			ID: "n2", UserID: "u2", Title: "Price alert", Message: "MSFT", CreatedAt: base,
		}))
		ns, err := s.ListInAppNotifications(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, ns, 1)
		assert.Equal(t, "/alerts/1", ns[0].Link)
		assert.False(t, ns[0].Read)
	})
}

func TestStore_CreateValidates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		bad := newAlert("u1", "AAPL", 1)
		bad.TargetPrice = -1
		err := s.CreatePriceAlert(context.Background(), bad)
		assert.ErrorIs(t, err, apperrors.ErrInputValidation)
	})
}

func TestMemoryStore_InjectError(t *testing.T) {
	s := NewMemoryStore()
	s.InjectError("ListActivePriceAlerts", apperrors.ErrStoreUnavailable)

	_, err := s.ListActivePriceAlerts(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStore, apperrors.KindOf(err))

	s.InjectError("ListActivePriceAlerts", nil)
	_, err = s.ListActivePriceAlerts(context.Background())
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), DriverMemory, "", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), DriverPostgres, "", "", 0)
	assert.Error(t, err)

	_, err = Open(context.Background(), "mongo", "", "", 0)
	assert.Error(t, err)
}
