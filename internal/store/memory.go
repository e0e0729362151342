package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// MemoryStore is an in-process Store backed by maps.
type MemoryStore struct {
	mu sync.Mutex

	nextID        int64
	priceAlerts   map[int64]models.PriceAlert
	globalAlerts  map[int64]models.GlobalMarketAlert
	settings      map[string]models.NotificationSettings
	logs          []models.AlertLog
	notifications []models.InAppNotification

	faults map[string]error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		priceAlerts:  make(map[int64]models.PriceAlert),
		globalAlerts: make(map[int64]models.GlobalMarketAlert),
		settings:     make(map[string]models.NotificationSettings),
		faults:       make(map[string]error),
	}
}

// InjectError makes every later call of the named method fail with err.
// Pass a nil err to clear it.
func (m *MemoryStore) InjectError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

func (m *MemoryStore) fault(method string) error {
	if err, ok := m.faults[method]; ok {
		return apperrors.NewStoreError(method, err)
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fault("Ping")
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) settingsFor(userID string) models.NotificationSettings {
	if s, ok := m.settings[userID]; ok {
		return s
	}
	return models.DefaultSettings(userID)
}

func (m *MemoryStore) ListActivePriceAlerts(ctx context.Context) ([]models.PriceAlertWithOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListActivePriceAlerts"); err != nil {
		return nil, err
	}

	var out []models.PriceAlertWithOwner
	for _, a := range m.priceAlerts {
		if a.Status != models.AlertActive || a.CurrentTriggers >= a.TriggerLimit {
			continue
		}
		out = append(out, models.PriceAlertWithOwner{Alert: a, Settings: m.settingsFor(a.UserID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alert.ID < out[j].Alert.ID })
	return out, nil
}

func (m *MemoryStore) ListActiveGlobalAlerts(ctx context.Context) ([]models.GlobalAlertWithOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListActiveGlobalAlerts"); err != nil {
		return nil, err
	}

	var out []models.GlobalAlertWithOwner
	for _, a := range m.globalAlerts {
		if !a.Active {
			continue
		}
		out = append(out, models.GlobalAlertWithOwner{Alert: a, Settings: m.settingsFor(a.UserID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alert.ID < out[j].Alert.ID })
	return out, nil
}

func (m *MemoryStore) ApplyPriceTrigger(ctx context.Context, prev, next models.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ApplyPriceTrigger"); err != nil {
		return err
	}

	cur, ok := m.priceAlerts[prev.ID]
	if !ok || cur.Version != prev.Version || cur.Status != models.AlertActive || next.CurrentTriggers > cur.TriggerLimit {
		return fmt.Errorf("price alert %d: %w", prev.ID, apperrors.ErrConflict)
	}
	cur.CurrentTriggers = next.CurrentTriggers
	cur.Status = next.Status
	cur.LastTriggeredAt = copyTime(next.LastTriggeredAt)
	cur.Version++
	m.priceAlerts[cur.ID] = cur
	return nil
}

func (m *MemoryStore) ApplyGlobalTrigger(ctx context.Context, prev, next models.GlobalMarketAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ApplyGlobalTrigger"); err != nil {
		return err
	}

	cur, ok := m.globalAlerts[prev.ID]
	if !ok || cur.Version != prev.Version || !cur.Active {
		return fmt.Errorf("global alert %d: %w", prev.ID, apperrors.ErrConflict)
	}
	cur.LastTriggeredAt = copyTime(next.LastTriggeredAt)
	cur.Version++
	m.globalAlerts[cur.ID] = cur
	return nil
}

func (m *MemoryStore) AppendAlertLog(ctx context.Context, entry models.AlertLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AppendAlertLog"); err != nil {
		return err
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) CreateInAppNotification(ctx context.Context, n models.InAppNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CreateInAppNotification"); err != nil {
		return err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MemoryStore) GetSettings(ctx context.Context, userID string) (models.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetSettings"); err != nil {
		return models.NotificationSettings{}, err
	}
	return m.settingsFor(userID), nil
}

func (m *MemoryStore) SaveSettings(ctx context.Context, s models.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SaveSettings"); err != nil {
		return err
	}
	if s.VerificationCode != nil {
		for uid, other := range m.settings {
			if uid != s.UserID && other.VerificationCode != nil && *other.VerificationCode == *s.VerificationCode {
				return apperrors.NewStoreError("SaveSettings", fmt.Errorf("verification code already in use"))
			}
		}
	}
	s.UpdatedAt = time.Now().UTC()
	m.settings[s.UserID] = s
	return nil
}

func (m *MemoryStore) ConsumeVerificationCode(ctx context.Context, code, chatID string) (models.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ConsumeVerificationCode"); err != nil {
		return models.NotificationSettings{}, err
	}
	if code == "" {
		return models.NotificationSettings{}, apperrors.ErrCodeNotFound
	}

	for uid, s := range m.settings {
		if s.VerificationCode == nil || *s.VerificationCode != code {
			continue
		}
		s.TelegramChatID = chatID
		s.TelegramEnabled = true
		s.VerificationCode = nil
		s.UpdatedAt = time.Now().UTC()
		m.settings[uid] = s
		return s, nil
	}
	return models.NotificationSettings{}, apperrors.ErrCodeNotFound
}

func (m *MemoryStore) CreatePriceAlert(ctx context.Context, a *models.PriceAlert) error {
	if a.TriggerLimit == 0 {
		a.TriggerLimit = models.DefaultTriggerLimit
	}
	if a.Status == "" {
		a.Status = models.AlertActive
	}
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CreatePriceAlert"); err != nil {
		return err
	}
	m.nextID++
	a.ID = m.nextID
	a.Version = 0
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	stored := *a
	stored.LastTriggeredAt = copyTime(a.LastTriggeredAt)
	m.priceAlerts[a.ID] = stored
	return nil
}

func (m *MemoryStore) CreateGlobalAlert(ctx context.Context, a *models.GlobalMarketAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CreateGlobalAlert"); err != nil {
		return err
	}
	m.nextID++
	a.ID = m.nextID
	a.Version = 0
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	stored := *a
	stored.LastTriggeredAt = copyTime(a.LastTriggeredAt)
	m.globalAlerts[a.ID] = stored
	return nil
}

func (m *MemoryStore) GetPriceAlert(ctx context.Context, id int64) (models.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.priceAlerts[id]
	if !ok {
		return models.PriceAlert{}, fmt.Errorf("price alert %d: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryStore) GetGlobalAlert(ctx context.Context, id int64) (models.GlobalMarketAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.globalAlerts[id]
	if !ok {
		return models.GlobalMarketAlert{}, fmt.Errorf("global alert %d: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryStore) ListPriceAlerts(ctx context.Context, userID string) ([]models.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PriceAlert
	for _, a := range m.priceAlerts {
		if userID == "" || a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListGlobalAlerts(ctx context.Context, userID string) ([]models.GlobalMarketAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GlobalMarketAlert
	for _, a := range m.globalAlerts {
		if userID == "" || a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetPriceAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	if status != models.AlertActive && status != models.AlertDisabled {
		return apperrors.NewValidationError("status", status, "must be ACTIVE or DISABLED")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.priceAlerts[id]
	if !ok {
		return fmt.Errorf("price alert %d: %w", id, apperrors.ErrNotFound)
	}
	if a.Status == models.AlertCompleted {
		return fmt.Errorf("price alert %d is completed: %w", id, apperrors.ErrConflict)
	}
	a.Status = status
	a.Version++
	m.priceAlerts[id] = a
	return nil
}

func (m *MemoryStore) SetGlobalAlertActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.globalAlerts[id]
	if !ok {
		return fmt.Errorf("global alert %d: %w", id, apperrors.ErrNotFound)
	}
	a.Active = active
	a.Version++
	m.globalAlerts[id] = a
	return nil
}

func (m *MemoryStore) ListAlertLogs(ctx context.Context, limit int) ([]models.AlertLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AlertLog, len(m.logs))
	copy(out, m.logs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) ListInAppNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InAppNotification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
