package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based rule store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Per-user delivery preferences
	CREATE TABLE IF NOT EXISTS notification_settings (
		user_id TEXT PRIMARY KEY,
		telegram_chat_id TEXT NOT NULL DEFAULT '',
		telegram_enabled INTEGER NOT NULL DEFAULT 0,
		verification_code TEXT UNIQUE,
		email_enabled INTEGER NOT NULL DEFAULT 0,
		email_to TEXT NOT NULL DEFAULT '',
		smtp_host TEXT NOT NULL DEFAULT '',
		smtp_port INTEGER NOT NULL DEFAULT 0,
		smtp_username TEXT NOT NULL DEFAULT '',
		smtp_password TEXT NOT NULL DEFAULT '',
		smtp_from TEXT NOT NULL DEFAULT '',
		in_app_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- User price-level alerts
	CREATE TABLE IF NOT EXISTS price_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		segment TEXT NOT NULL,
		condition TEXT NOT NULL,
		target_price REAL NOT NULL CHECK (target_price > 0),
		cooldown_seconds INTEGER NOT NULL DEFAULT 0 CHECK (cooldown_seconds >= 0),
		trigger_limit INTEGER NOT NULL DEFAULT 1 CHECK (trigger_limit >= 1),
		current_triggers INTEGER NOT NULL DEFAULT 0 CHECK (current_triggers <= trigger_limit),
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		last_triggered_at DATETIME,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Market-wide percent move subscriptions
	CREATE TABLE IF NOT EXISTS global_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		threshold_percent REAL NOT NULL CHECK (threshold_percent > 0),
		cooldown_minutes INTEGER NOT NULL DEFAULT 60 CHECK (cooldown_minutes >= 0),
		last_triggered_at DATETIME,
		active INTEGER NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Append-only trigger audit trail
	CREATE TABLE IF NOT EXISTS alert_logs (
		id TEXT PRIMARY KEY,
		rule_kind TEXT NOT NULL,
		alert_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		triggered_at DATETIME NOT NULL
	);

	-- In-app notification records
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_alerts_status ON price_alerts(status);
	CREATE INDEX IF NOT EXISTS idx_price_alerts_user ON price_alerts(user_id);
	CREATE INDEX IF NOT EXISTS idx_global_alerts_active ON global_alerts(active);
	CREATE INDEX IF NOT EXISTS idx_alert_logs_triggered ON alert_logs(triggered_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStoreError("ping", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
	}
	return nil
}

const settingsColumns = `
	COALESCE(s.telegram_chat_id, ''), COALESCE(s.telegram_enabled, 0), s.verification_code,
	COALESCE(s.email_enabled, 0), COALESCE(s.email_to, ''),
	COALESCE(s.smtp_host, ''), COALESCE(s.smtp_port, 0), COALESCE(s.smtp_username, ''),
	COALESCE(s.smtp_password, ''), COALESCE(s.smtp_from, ''),
	COALESCE(s.in_app_enabled, 1)`

func settingsDest(st *models.NotificationSettings, code *sql.NullString) []interface{} {
	return []interface{}{
		&st.TelegramChatID, &st.TelegramEnabled, code,
		&st.EmailEnabled, &st.EmailTo,
		&st.SMTP.Host, &st.SMTP.Port, &st.SMTP.Username,
		&st.SMTP.Password, &st.SMTP.From,
		&st.InAppEnabled,
	}
}

func nullableCode(code sql.NullString) *string {
	if !code.Valid {
		return nil
	}
	v := code.String
	return &v
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// ListActivePriceAlerts retrieves ACTIVE price alerts with their owners' settings.
func (s *SQLiteStore) ListActivePriceAlerts(ctx context.Context) ([]models.PriceAlertWithOwner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, a.symbol, a.segment, a.condition, a.target_price,
			a.cooldown_seconds, a.trigger_limit, a.current_triggers, a.status,
			a.last_triggered_at, a.version, a.created_at,`+settingsColumns+`
		FROM price_alerts a
		LEFT JOIN notification_settings s ON s.user_id = a.user_id
		WHERE a.status = 'ACTIVE' AND a.current_triggers < a.trigger_limit
		ORDER BY a.id ASC
	`)
	if err != nil {
		return nil, apperrors.NewStoreError("list_price_alerts", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
	}
	defer rows.Close()

	var result []models.PriceAlertWithOwner
	for rows.Next() {
		var (
			r       models.PriceAlertWithOwner
			last    sql.NullTime
			created sql.NullTime
			code    sql.NullString
		)
		dest := []interface{}{
			&r.Alert.ID, &r.Alert.UserID, &r.Alert.Symbol, &r.Alert.Segment, &r.Alert.Condition, &r.Alert.TargetPrice,
			&r.Alert.CooldownSeconds, &r.Alert.TriggerLimit, &r.Alert.CurrentTriggers, &r.Alert.Status,
			&last, &r.Alert.Version, &created,
		}
		dest = append(dest, settingsDest(&r.Settings, &code)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.NewStoreError("list_price_alerts", fmt.Errorf("failed to scan price alert: %w", err))
		}
		r.Alert.LastTriggeredAt = nullableTime(last)
		r.Alert.CreatedAt = created.Time
		r.Settings.UserID = r.Alert.UserID
		r.Settings.VerificationCode = nullableCode(code)
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list_price_alerts", err)
	}
	return result, nil
}

// ListActiveGlobalAlerts retrieves active global alerts with their owners' settings.
func (s *SQLiteStore) ListActiveGlobalAlerts(ctx context.Context) ([]models.GlobalAlertWithOwner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, a.symbol, a.direction, a.threshold_percent, a.cooldown_minutes,
			a.last_triggered_at, a.active, a.version, a.created_at,`+settingsColumns+`
		FROM global_alerts a
		LEFT JOIN notification_settings s ON s.user_id = a.user_id
		WHERE a.active = 1
		ORDER BY a.id ASC
	`)
	if err != nil {
		return nil, apperrors.NewStoreError("list_global_alerts", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
	}
	defer rows.Close()

	var result []models.GlobalAlertWithOwner
	for rows.Next() {
		var (
			r       models.GlobalAlertWithOwner
			last    sql.NullTime
			created sql.NullTime
			code    sql.NullString
		)
		dest := []interface{}{
			&r.Alert.ID, &r.Alert.UserID, &r.Alert.Symbol, &r.Alert.Direction, &r.Alert.ThresholdPercent,
			&r.Alert.CooldownMinutes, &last, &r.Alert.Active, &r.Alert.Version, &created,
		}
		dest = append(dest, settingsDest(&r.Settings, &code)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.NewStoreError("list_global_alerts", fmt.Errorf("failed to scan global alert: %w", err))
		}
		r.Alert.LastTriggeredAt = nullableTime(last)
		r.Alert.CreatedAt = created.Time
		r.Settings.UserID = r.Alert.UserID
		r.Settings.VerificationCode = nullableCode(code)
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list_global_alerts", err)
	}
	return result, nil
}

// ApplyPriceTrigger persists a trigger transition with an optimistic version check.
func (s *SQLiteStore) ApplyPriceTrigger(ctx context.Context, prev, next models.PriceAlert) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE price_alerts
		SET current_triggers = ?, status = ?, last_triggered_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = 'ACTIVE' AND ? <= trigger_limit
	`, next.CurrentTriggers, next.Status, timeArg(next.LastTriggeredAt), prev.ID, prev.Version, next.CurrentTriggers)
	if err != nil {
		return apperrors.NewStoreError("apply_price_trigger", err)
	}
	return expectOneRow(result, "price alert", prev.ID)
}

// ApplyGlobalTrigger persists a global alert trigger with an optimistic version check.
func (s *SQLiteStore) ApplyGlobalTrigger(ctx context.Context, prev, next models.GlobalMarketAlert) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE global_alerts
		SET last_triggered_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND active = 1
	`, timeArg(next.LastTriggeredAt), prev.ID, prev.Version)
	if err != nil {
		return apperrors.NewStoreError("apply_global_trigger", err)
	}
	return expectOneRow(result, "global alert", prev.ID)
}

func expectOneRow(result sql.Result, what string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", what, id, apperrors.ErrConflict)
	}
	return nil
}

// AppendAlertLog writes an audit row.
func (s *SQLiteStore) AppendAlertLog(ctx context.Context, entry models.AlertLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_logs (id, rule_kind, alert_id, user_id, message, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.RuleKind, entry.AlertID, entry.UserID, entry.Message, entry.TriggeredAt.UTC())
	if err != nil {
		return apperrors.NewStoreError("append_alert_log", err)
	}
	return nil
}

// CreateInAppNotification writes an in-app notification record.
func (s *SQLiteStore) CreateInAppNotification(ctx context.Context, n models.InAppNotification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, link, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Title, n.Message, n.Link, n.Read, n.CreatedAt.UTC())
	if err != nil {
		return apperrors.NewStoreError("create_notification", err)
	}
	return nil
}

// GetSettings returns the user's settings or defaults.
func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (models.NotificationSettings, error) {
	st := models.DefaultSettings(userID)
	var (
		code    sql.NullString
		updated sql.NullTime
	)
	dest := append(settingsDest(&st, &code), &updated)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+settingsColumns+`, s.updated_at
		FROM notification_settings s WHERE s.user_id = ?
	`, userID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return models.NotificationSettings{}, apperrors.NewStoreError("get_settings", err)
	}
	st.VerificationCode = nullableCode(code)
	st.UpdatedAt = updated.Time
	return st, nil
}

// SaveSettings upserts a user's settings.
func (s *SQLiteStore) SaveSettings(ctx context.Context, st models.NotificationSettings) error {
	var code interface{}
	if st.VerificationCode != nil {
		code = *st.VerificationCode
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (
			user_id, telegram_chat_id, telegram_enabled, verification_code,
			email_enabled, email_to, smtp_host, smtp_port, smtp_username, smtp_password, smtp_from,
			in_app_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			telegram_chat_id = excluded.telegram_chat_id,
			telegram_enabled = excluded.telegram_enabled,
			verification_code = excluded.verification_code,
			email_enabled = excluded.email_enabled,
			email_to = excluded.email_to,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			smtp_username = excluded.smtp_username,
			smtp_password = excluded.smtp_password,
			smtp_from = excluded.smtp_from,
			in_app_enabled = excluded.in_app_enabled,
			updated_at = excluded.updated_at
	`, st.UserID, st.TelegramChatID, st.TelegramEnabled, code,
		st.EmailEnabled, st.EmailTo, st.SMTP.Host, st.SMTP.Port, st.SMTP.Username, st.SMTP.Password, st.SMTP.From,
		st.InAppEnabled, time.Now().UTC())
	if err != nil {
		return apperrors.NewStoreError("save_settings", err)
	}
	return nil
}

// ConsumeVerificationCode links a chat to the row holding code and clears the code.
func (s *SQLiteStore) ConsumeVerificationCode(ctx context.Context, code, chatID string) (models.NotificationSettings, error) {
	if code == "" {
		return models.NotificationSettings{}, apperrors.ErrCodeNotFound
	}

	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE notification_settings
		SET telegram_chat_id = ?, telegram_enabled = 1, verification_code = NULL, updated_at = ?
		WHERE verification_code = ?
		RETURNING user_id
	`, chatID, time.Now().UTC(), code).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotificationSettings{}, apperrors.ErrCodeNotFound
	}
	if err != nil {
		return models.NotificationSettings{}, apperrors.NewStoreError("consume_verification_code", err)
	}

	return s.GetSettings(ctx, userID)
}

// CreatePriceAlert inserts a new price alert and fills in its id.
func (s *SQLiteStore) CreatePriceAlert(ctx context.Context, a *models.PriceAlert) error {
	if a.TriggerLimit == 0 {
		a.TriggerLimit = models.DefaultTriggerLimit
	}
	if a.Status == "" {
		a.Status = models.AlertActive
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO price_alerts (user_id, symbol, segment, condition, target_price, cooldown_seconds,
			trigger_limit, current_triggers, status, last_triggered_at, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, a.UserID, a.Symbol, a.Segment, a.Condition, a.TargetPrice, a.CooldownSeconds,
		a.TriggerLimit, a.CurrentTriggers, a.Status, timeArg(a.LastTriggeredAt), a.CreatedAt.UTC())
	if err != nil {
		return apperrors.NewStoreError("create_price_alert", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return apperrors.NewStoreError("create_price_alert", err)
	}
	a.ID = id
	a.Version = 0
	return nil
}

// CreateGlobalAlert inserts a new global alert and fills in its id.
func (s *SQLiteStore) CreateGlobalAlert(ctx context.Context, a *models.GlobalMarketAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO global_alerts (user_id, symbol, direction, threshold_percent, cooldown_minutes,
			last_triggered_at, active, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, a.UserID, a.Symbol, a.Direction, a.ThresholdPercent, a.CooldownMinutes,
		timeArg(a.LastTriggeredAt), a.Active, a.CreatedAt.UTC())
	if err != nil {
		return apperrors.NewStoreError("create_global_alert", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return apperrors.NewStoreError("create_global_alert", err)
	}
	a.ID = id
	a.Version = 0
	return nil
}

const priceAlertColumns = `id, user_id, symbol, segment, condition, target_price, cooldown_seconds,
	trigger_limit, current_triggers, status, last_triggered_at, version, created_at`

func scanPriceAlert(scan func(dest ...interface{}) error) (models.PriceAlert, error) {
	var (
		a       models.PriceAlert
		last    sql.NullTime
		created sql.NullTime
	)
	err := scan(&a.ID, &a.UserID, &a.Symbol, &a.Segment, &a.Condition, &a.TargetPrice, &a.CooldownSeconds,
		&a.TriggerLimit, &a.CurrentTriggers, &a.Status, &last, &a.Version, &created)
	a.LastTriggeredAt = nullableTime(last)
	a.CreatedAt = created.Time
	return a, err
}

const globalAlertColumns = `id, user_id, symbol, direction, threshold_percent, cooldown_minutes,
	last_triggered_at, active, version, created_at`

func scanGlobalAlert(scan func(dest ...interface{}) error) (models.GlobalMarketAlert, error) {
	var (
		a       models.GlobalMarketAlert
		last    sql.NullTime
		created sql.NullTime
	)
	err := scan(&a.ID, &a.UserID, &a.Symbol, &a.Direction, &a.ThresholdPercent, &a.CooldownMinutes,
		&last, &a.Active, &a.Version, &created)
	a.LastTriggeredAt = nullableTime(last)
	a.CreatedAt = created.Time
	return a, err
}

// GetPriceAlert retrieves one price alert by id.
func (s *SQLiteStore) GetPriceAlert(ctx context.Context, id int64) (models.PriceAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+priceAlertColumns+` FROM price_alerts WHERE id = ?`, id)
	a, err := scanPriceAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PriceAlert{}, fmt.Errorf("price alert %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.PriceAlert{}, apperrors.NewStoreError("get_price_alert", err)
	}
	return a, nil
}

// GetGlobalAlert retrieves one global alert by id.
func (s *SQLiteStore) GetGlobalAlert(ctx context.Context, id int64) (models.GlobalMarketAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+globalAlertColumns+` FROM global_alerts WHERE id = ?`, id)
	a, err := scanGlobalAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GlobalMarketAlert{}, fmt.Errorf("global alert %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.GlobalMarketAlert{}, apperrors.NewStoreError("get_global_alert", err)
	}
	return a, nil
}

// ListPriceAlerts lists price alerts in every status, optionally for one user.
func (s *SQLiteStore) ListPriceAlerts(ctx context.Context, userID string) ([]models.PriceAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+priceAlertColumns+` FROM price_alerts
		WHERE (? = '' OR user_id = ?) ORDER BY id ASC
	`, userID, userID)
	if err != nil {
		return nil, apperrors.NewStoreError("list_price_alerts", err)
	}
	defer rows.Close()

	var alerts []models.PriceAlert
	for rows.Next() {
		a, err := scanPriceAlert(rows.Scan)
		if err != nil {
			return nil, apperrors.NewStoreError("list_price_alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListGlobalAlerts lists global alerts, optionally for one user.
func (s *SQLiteStore) ListGlobalAlerts(ctx context.Context, userID string) ([]models.GlobalMarketAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+globalAlertColumns+` FROM global_alerts
		WHERE (? = '' OR user_id = ?) ORDER BY id ASC
	`, userID, userID)
	if err != nil {
		return nil, apperrors.NewStoreError("list_global_alerts", err)
	}
	defer rows.Close()

	var alerts []models.GlobalMarketAlert
	for rows.Next() {
		a, err := scanGlobalAlert(rows.Scan)
		if err != nil {
			return nil, apperrors.NewStoreError("list_global_alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// SetPriceAlertStatus toggles a price alert between ACTIVE and DISABLED.
func (s *SQLiteStore) SetPriceAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	if status != models.AlertActive && status != models.AlertDisabled {
		return apperrors.NewValidationError("status", status, "must be ACTIVE or DISABLED")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE price_alerts SET status = ?, version = version + 1
		WHERE id = ? AND status != 'COMPLETED'
	`, status, id)
	if err != nil {
		return apperrors.NewStoreError("set_price_alert_status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := s.GetPriceAlert(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("price alert %d is completed: %w", id, apperrors.ErrConflict)
	}
	return nil
}

// SetGlobalAlertActive toggles a global alert.
func (s *SQLiteStore) SetGlobalAlertActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE global_alerts SET active = ?, version = version + 1 WHERE id = ?
	`, active, id)
	if err != nil {
		return apperrors.NewStoreError("set_global_alert_active", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("global alert %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// ListAlertLogs returns the most recent audit rows, newest first.
func (s *SQLiteStore) ListAlertLogs(ctx context.Context, limit int) ([]models.AlertLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_kind, alert_id, user_id, message, triggered_at
		FROM alert_logs ORDER BY triggered_at DESC, id DESC LIMIT ?
	`, listLimit(limit))
	if err != nil {
		return nil, apperrors.NewStoreError("list_alert_logs", err)
	}
	defer rows.Close()

	var logs []models.AlertLog
	for rows.Next() {
		var l models.AlertLog
		if err := rows.Scan(&l.ID, &l.RuleKind, &l.AlertID, &l.UserID, &l.Message, &l.TriggeredAt); err != nil {
			return nil, apperrors.NewStoreError("list_alert_logs", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListInAppNotifications returns a user's most recent in-app notifications, newest first.
func (s *SQLiteStore) ListInAppNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, link, read, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, userID, listLimit(limit))
	if err != nil {
		return nil, apperrors.NewStoreError("list_notifications", err)
	}
	defer rows.Close()

	var out []models.InAppNotification
	for rows.Next() {
		var n models.InAppNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, apperrors.NewStoreError("list_notifications", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
