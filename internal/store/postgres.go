package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns) // #nosec G115 - validated in config
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS notification_settings (
		user_id TEXT PRIMARY KEY,
		telegram_chat_id TEXT NOT NULL DEFAULT '',
		telegram_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		verification_code TEXT UNIQUE,
		email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		email_to TEXT NOT NULL DEFAULT '',
		smtp_host TEXT NOT NULL DEFAULT '',
		smtp_port INTEGER NOT NULL DEFAULT 0,
		smtp_username TEXT NOT NULL DEFAULT '',
		smtp_password TEXT NOT NULL DEFAULT '',
		smtp_from TEXT NOT NULL DEFAULT '',
		in_app_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS price_alerts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		segment TEXT NOT NULL,
		condition TEXT NOT NULL,
		target_price DOUBLE PRECISION NOT NULL CHECK (target_price > 0),
		cooldown_seconds INTEGER NOT NULL DEFAULT 0 CHECK (cooldown_seconds >= 0),
		trigger_limit INTEGER NOT NULL DEFAULT 1 CHECK (trigger_limit >= 1),
		current_triggers INTEGER NOT NULL DEFAULT 0 CHECK (current_triggers <= trigger_limit),
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		last_triggered_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS global_alerts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		threshold_percent DOUBLE PRECISION NOT NULL CHECK (threshold_percent > 0),
		cooldown_minutes INTEGER NOT NULL DEFAULT 60 CHECK (cooldown_minutes >= 0),
		last_triggered_at TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS alert_logs (
		id TEXT PRIMARY KEY,
		rule_kind TEXT NOT NULL,
		alert_id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_alerts_status ON price_alerts(status);
	CREATE INDEX IF NOT EXISTS idx_global_alerts_active ON global_alerts(active);
	CREATE INDEX IF NOT EXISTS idx_alert_logs_triggered ON alert_logs(triggered_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	`)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperrors.NewStoreError("ping", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
	}
	return nil
}

const pgSettingsColumns = `
	COALESCE(s.telegram_chat_id, ''), COALESCE(s.telegram_enabled, FALSE), s.verification_code,
	COALESCE(s.email_enabled, FALSE), COALESCE(s.email_to, ''),
	COALESCE(s.smtp_host, ''), COALESCE(s.smtp_port, 0), COALESCE(s.smtp_username, ''),
	COALESCE(s.smtp_password, ''), COALESCE(s.smtp_from, ''),
	COALESCE(s.in_app_enabled, TRUE)`

func pgSettingsDest(st *models.NotificationSettings) []interface{} {
	return []interface{}{
		&st.TelegramChatID, &st.TelegramEnabled, &st.VerificationCode,
		&st.EmailEnabled, &st.EmailTo,
		&st.SMTP.Host, &st.SMTP.Port, &st.SMTP.Username,
		&st.SMTP.Password, &st.SMTP.From,
		&st.InAppEnabled,
	}
}

func (s *PostgresStore) ListActivePriceAlerts(ctx context.Context) ([]models.PriceAlertWithOwner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.symbol, a.segment, a.condition, a.target_price,
			a.cooldown_seconds, a.trigger_limit, a.current_triggers, a.status,
			a.last_triggered_at, a.version, a.created_at,`+pgSettingsColumns+`
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
		var r models.PriceAlertWithOwner
		dest := []interface{}{
			&r.Alert.ID, &r.Alert.UserID, &r.Alert.Symbol, &r.Alert.Segment, &r.Alert.Condition, &r.Alert.TargetPrice,
			&r.Alert.CooldownSeconds, &r.Alert.TriggerLimit, &r.Alert.CurrentTriggers, &r.Alert.Status,
			&r.Alert.LastTriggeredAt, &r.Alert.Version, &r.Alert.CreatedAt,
		}
		dest = append(dest, pgSettingsDest(&r.Settings)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.NewStoreError("list_price_alerts", fmt.Errorf("failed to scan price alert: %w", err))
		}
		r.Settings.UserID = r.Alert.UserID
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list_price_alerts", err)
	}
	return result, nil
}

func (s *PostgresStore) ListActiveGlobalAlerts(ctx context.Context) ([]models.GlobalAlertWithOwner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.symbol, a.direction, a.threshold_percent, a.cooldown_minutes,
			a.last_triggered_at, a.active, a.version, a.created_at,`+pgSettingsColumns+`
		FROM global_alerts a
		LEFT JOIN notification_settings s ON s.user_id = a.user_id
		WHERE a.active
		ORDER BY a.id ASC
	`)
	if err != nil {
		return nil, apperrors.NewStoreError("list_global_alerts", fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err))
	}
	defer rows.Close()

	var result []models.GlobalAlertWithOwner
	for rows.Next() {
		var r models.GlobalAlertWithOwner
		dest := []interface{}{
			&r.Alert.ID, &r.Alert.UserID, &r.Alert.Symbol, &r.Alert.Direction, &r.Alert.ThresholdPercent,
			&r.Alert.CooldownMinutes, &r.Alert.LastTriggeredAt, &r.Alert.Active, &r.Alert.Version, &r.Alert.CreatedAt,
		}
		dest = append(dest, pgSettingsDest(&r.Settings)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.NewStoreError("list_global_alerts", fmt.Errorf("failed to scan global alert: %w", err))
		}
		r.Settings.UserID = r.Alert.UserID
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list_global_alerts", err)
	}
	return result, nil
}

func (s *PostgresStore) ApplyPriceTrigger(ctx context.Context, prev, next models.PriceAlert) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE price_alerts
		SET current_triggers = $1, status = $2, last_triggered_at = $3, version = version + 1
		WHERE id = $4 AND version = $5 AND status = 'ACTIVE' AND $1 <= trigger_limit
	`, next.CurrentTriggers, next.Status, next.LastTriggeredAt, prev.ID, prev.Version)
	if err != nil {
		return apperrors.NewStoreError("apply_price_trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("price alert %d: %w", prev.ID, apperrors.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) ApplyGlobalTrigger(ctx context.Context, prev, next models.GlobalMarketAlert) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE global_alerts SET last_triggered_at = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND active
	`, next.LastTriggeredAt, prev.ID, prev.Version)
	if err != nil {
		return apperrors.NewStoreError("apply_global_trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("global alert %d: %w", prev.ID, apperrors.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) AppendAlertLog(ctx context.Context, entry models.AlertLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_logs (id, rule_kind, alert_id, user_id, message, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.RuleKind, entry.AlertID, entry.UserID, entry.Message, entry.TriggeredAt)
	if err != nil {
		return apperrors.NewStoreError("append_alert_log", err)
	}
	return nil
}

func (s *PostgresStore) CreateInAppNotification(ctx context.Context, n models.InAppNotification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Title, n.Message, n.Link, n.Read, n.CreatedAt)
	if err != nil {
		return apperrors.NewStoreError("create_notification", err)
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (models.NotificationSettings, error) {
	st := models.DefaultSettings(userID)
	dest := append(pgSettingsDest(&st), &st.UpdatedAt)
	err := s.pool.QueryRow(ctx, `
		SELECT `+pgSettingsColumns+`, s.updated_at
		FROM notification_settings s WHERE s.user_id = $1
	`, userID).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return models.NotificationSettings{}, apperrors.NewStoreError("get_settings", err)
	}
	return st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st models.NotificationSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_settings (
			user_id, telegram_chat_id, telegram_enabled, verification_code,
			email_enabled, email_to, smtp_host, smtp_port, smtp_username, smtp_password, smtp_from,
			in_app_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			telegram_enabled = EXCLUDED.telegram_enabled,
			verification_code = EXCLUDED.verification_code,
			email_enabled = EXCLUDED.email_enabled,
			email_to = EXCLUDED.email_to,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			smtp_username = EXCLUDED.smtp_username,
			smtp_password = EXCLUDED.smtp_password,
			smtp_from = EXCLUDED.smtp_from,
			in_app_enabled = EXCLUDED.in_app_enabled,
			updated_at = EXCLUDED.updated_at
	`, st.UserID, st.TelegramChatID, st.TelegramEnabled, st.VerificationCode,
		st.EmailEnabled, st.EmailTo, st.SMTP.Host, st.SMTP.Port, st.SMTP.Username, st.SMTP.Password, st.SMTP.From,
		st.InAppEnabled)
	if err != nil {
		return apperrors.NewStoreError("save_settings", err)
	}
	return nil
}

func (s *PostgresStore) ConsumeVerificationCode(ctx context.Context, code, chatID string) (models.NotificationSettings, error) {
	if code == "" {
		return models.NotificationSettings{}, apperrors.ErrCodeNotFound
	}

	var userID string
	err := s.pool.QueryRow(ctx, `
		UPDATE notification_settings
		SET telegram_chat_id = $1, telegram_enabled = TRUE, verification_code = NULL, updated_at = NOW()
		WHERE verification_code = $2
		RETURNING user_id
	`, chatID, code).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NotificationSettings{}, apperrors.ErrCodeNotFound
	}
	if err != nil {
		return models.NotificationSettings{}, apperrors.NewStoreError("consume_verification_code", err)
	}
	return s.GetSettings(ctx, userID)
}

func (s *PostgresStore) CreatePriceAlert(ctx context.Context, a *models.PriceAlert) error {
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

	err := s.pool.QueryRow(ctx, `
		INSERT INTO price_alerts (user_id, symbol, segment, condition, target_price, cooldown_seconds,
			trigger_limit, current_triggers, status, last_triggered_at, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)
		RETURNING id
	`, a.UserID, a.Symbol, a.Segment, a.Condition, a.TargetPrice, a.CooldownSeconds,
		a.TriggerLimit, a.CurrentTriggers, a.Status, a.LastTriggeredAt, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return apperrors.NewStoreError("create_price_alert", err)
	}
	a.Version = 0
	return nil
}

func (s *PostgresStore) CreateGlobalAlert(ctx context.Context, a *models.GlobalMarketAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO global_alerts (user_id, symbol, direction, threshold_percent, cooldown_minutes,
			last_triggered_at, active, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		RETURNING id
	`, a.UserID, a.Symbol, a.Direction, a.ThresholdPercent, a.CooldownMinutes,
		a.LastTriggeredAt, a.Active, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return apperrors.NewStoreError("create_global_alert", err)
	}
	a.Version = 0
	return nil
}

func (s *PostgresStore) GetPriceAlert(ctx context.Context, id int64) (models.PriceAlert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+priceAlertColumns+` FROM price_alerts WHERE id = $1`, id)
	a, err := scanPGPriceAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PriceAlert{}, fmt.Errorf("price alert %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.PriceAlert{}, apperrors.NewStoreError("get_price_alert", err)
	}
	return a, nil
}

func (s *PostgresStore) GetGlobalAlert(ctx context.Context, id int64) (models.GlobalMarketAlert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+globalAlertColumns+` FROM global_alerts WHERE id = $1`, id)
	a, err := scanPGGlobalAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GlobalMarketAlert{}, fmt.Errorf("global alert %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.GlobalMarketAlert{}, apperrors.NewStoreError("get_global_alert", err)
	}
	return a, nil
}

func scanPGPriceAlert(row pgx.Row) (models.PriceAlert, error) {
	var a models.PriceAlert
	err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Segment, &a.Condition, &a.TargetPrice, &a.CooldownSeconds,
		&a.TriggerLimit, &a.CurrentTriggers, &a.Status, &a.LastTriggeredAt, &a.Version, &a.CreatedAt)
	return a, err
}

func scanPGGlobalAlert(row pgx.Row) (models.GlobalMarketAlert, error) {
	var a models.GlobalMarketAlert
	err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Direction, &a.ThresholdPercent, &a.CooldownMinutes,
		&a.LastTriggeredAt, &a.Active, &a.Version, &a.CreatedAt)
	return a, err
}

func (s *PostgresStore) ListPriceAlerts(ctx context.Context, userID string) ([]models.PriceAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+priceAlertColumns+` FROM price_alerts
		WHERE ($1 = '' OR user_id = $1) ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, apperrors.NewStoreError("list_price_alerts", err)
	}
	defer rows.Close()

	var alerts []models.PriceAlert
	for rows.Next() {
		a, err := scanPGPriceAlert(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("list_price_alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) ListGlobalAlerts(ctx context.Context, userID string) ([]models.GlobalMarketAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+globalAlertColumns+` FROM global_alerts
		WHERE ($1 = '' OR user_id = $1) ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, apperrors.NewStoreError("list_global_alerts", err)
	}
	defer rows.Close()

	var alerts []models.GlobalMarketAlert
	for rows.Next() {
		a, err := scanPGGlobalAlert(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("list_global_alerts", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) SetPriceAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	if status != models.AlertActive && status != models.AlertDisabled {
		return apperrors.NewValidationError("status", status, "must be ACTIVE or DISABLED")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE price_alerts SET status = $1, version = version + 1
		WHERE id = $2 AND status <> 'COMPLETED'
	`, status, id)
	if err != nil {
		return apperrors.NewStoreError("set_price_alert_status", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPriceAlert(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("price alert %d is completed: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) SetGlobalAlertActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE global_alerts SET active = $1, version = version + 1 WHERE id = $2
	`, active, id)
	if err != nil {
		return apperrors.NewStoreError("set_global_alert_active", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("global alert %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListAlertLogs(ctx context.Context, limit int) ([]models.AlertLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_kind, alert_id, user_id, message, triggered_at
		FROM alert_logs ORDER BY triggered_at DESC, id DESC LIMIT $1
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

func (s *PostgresStore) ListInAppNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, message, link, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
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
