// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"

	"market-alerts/internal/models"
)

// RuleStore is the part of the store the alert pass reads and writes.
type RuleStore interface {
	// ListActivePriceAlerts returns ACTIVE price alerts joined with their owner's settings.
	ListActivePriceAlerts(ctx context.Context) ([]models.PriceAlertWithOwner, error)
	// ListActiveGlobalAlerts returns active global alerts joined with their owner's settings.
	ListActiveGlobalAlerts(ctx context.Context) ([]models.GlobalAlertWithOwner, error)

	// ApplyPriceTrigger writes next only if the stored row still matches prev
	// (same version, still ACTIVE). Returns ErrConflict otherwise.
	ApplyPriceTrigger(ctx context.Context, prev, next models.PriceAlert) error
	// ApplyGlobalTrigger writes next.LastTriggeredAt only if the stored row still matches prev.
	ApplyGlobalTrigger(ctx context.Context, prev, next models.GlobalMarketAlert) error

	AppendAlertLog(ctx context.Context, entry models.AlertLog) error
	CreateInAppNotification(ctx context.Context, n models.InAppNotification) error
}

// SettingsStore reads and updates per-user notification settings.
type SettingsStore interface {
	// GetSettings returns the user's settings, or defaults when no row exists.
	GetSettings(ctx context.Context, userID string) (models.NotificationSettings, error)
	SaveSettings(ctx context.Context, s models.NotificationSettings) error
	// ConsumeVerificationCode links chatID to the settings row holding code, enables the
	// chat channel and clears the code in one write. Returns ErrCodeNotFound if no row holds it.
	ConsumeVerificationCode(ctx context.Context, code, chatID string) (models.NotificationSettings, error)
}

// AdminStore holds the management operations used by the CLI.
type AdminStore interface {
	CreatePriceAlert(ctx context.Context, a *models.PriceAlert) error
	CreateGlobalAlert(ctx context.Context, a *models.GlobalMarketAlert) error
	GetPriceAlert(ctx context.Context, id int64) (models.PriceAlert, error)
	GetGlobalAlert(ctx context.Context, id int64) (models.GlobalMarketAlert, error)
	ListPriceAlerts(ctx context.Context, userID string) ([]models.PriceAlert, error)
	ListGlobalAlerts(ctx context.Context, userID string) ([]models.GlobalMarketAlert, error)
	// SetPriceAlertStatus toggles ACTIVE/DISABLED. COMPLETED alerts cannot be changed.
	SetPriceAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error
	SetGlobalAlertActive(ctx context.Context, id int64, active bool) error
	ListAlertLogs(ctx context.Context, limit int) ([]models.AlertLog, error)
	ListInAppNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error)
}

// Store is the full rule store.
type Store interface {
	RuleStore
	SettingsStore
	AdminStore

	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open constructs the Store selected by driver.
func Open(ctx context.Context, driver, path, dsn string, maxConns int) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		return NewPostgresStore(ctx, dsn, maxConns)
	case DriverMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
