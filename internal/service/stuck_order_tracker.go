package service

import (
	"sort"
	"sync"
	"time"

	"tradeops/internal/models"
)

type trackerKey struct {
	tenantID string
	orderID  string
}

// AttemptOutcome - результат учета попытки разрешения
type AttemptOutcome struct {
	Record    models.StuckOrderRecord
	Tracked   bool // false - записи не было, попытка не учтена
	Escalated bool // true - эта попытка впервые выставила RequiresManualIntervention
}

// StuckOrderTracker - память процесса о зависших ордерах
//
// Ключ (tenantID, orderID). Первая запись побеждает: StuckSince
// выставляется один раз и не меняется при повторных наблюдениях.
// Наружу отдаются только копии записей.
type StuckOrderTracker struct {
	mu      sync.Mutex
	records map[trackerKey]*models.StuckOrderRecord

	cfgMu    sync.RWMutex
	cfg      models.StuckOrderConfig
	defaults models.StuckOrderConfig
}

// NewStuckOrderTracker создает трекер с конфигурацией по умолчанию defaults
func NewStuckOrderTracker(defaults models.StuckOrderConfig) *StuckOrderTracker {
	return &StuckOrderTracker{
		records:  make(map[trackerKey]*models.StuckOrderRecord),
		cfg:      defaults,
		defaults: defaults,
	}
}

// ============ Конфигурация ============

// Config возвращает текущую конфигурацию
func (t *StuckOrderTracker) Config() models.StuckOrderConfig {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.cfg
}

// SetConfig применяет частичные изменения и возвращает новую конфигурацию
func (t *StuckOrderTracker) SetConfig(patch models.StuckOrderConfigPatch) models.StuckOrderConfig {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.cfg = t.cfg.Merge(patch)
	return t.cfg
}

// ResetConfig восстанавливает конфигурацию по умолчанию
func (t *StuckOrderTracker) ResetConfig() models.StuckOrderConfig {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.cfg = t.defaults
	return t.cfg
}

// ============ Записи ============

// Observe регистрирует зависший ордер
// Существующая запись сохраняет StuckSince и счетчик попыток,
// обновляется только наблюдаемый статус.
func (t *StuckOrderTracker) Observe(order *models.Order, now time.Time) models.StuckOrderRecord {
	key := trackerKey{tenantID: order.TenantID, orderID: order.OrderID}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		rec = &models.StuckOrderRecord{
			OrderID:    order.OrderID,
			TenantID:   order.TenantID,
			ExchangeID: order.ExchangeID,
			StuckSince: now,
		}
		t.records[key] = rec
	}
	rec.Status = order.Status

	return *rec
}

// RecordAttempt учитывает завершенную попытку разрешения (успешную или нет)
// Без записи - тихий no-op: попытки считаются только после обнаружения.
func (t *StuckOrderTracker) RecordAttempt(tenantID, orderID string, action models.ResolutionAction, resolvedBy string, attemptErr error, now time.Time) AttemptOutcome {
	maxAttempts := t.Config().MaxResolutionAttempts

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[trackerKey{tenantID: tenantID, orderID: orderID}]
	if !ok {
		return AttemptOutcome{}
	}

	rec.ResolutionAttempts++
	attemptAt := now
	rec.LastAttemptAt = &attemptAt
	rec.LastAction = action
	rec.LastResolvedBy = resolvedBy
	rec.LastError = ""
	if attemptErr != nil {
		rec.LastError = attemptErr.Error()
	}

	escalated := false
	if !rec.RequiresManualIntervention && rec.ResolutionAttempts >= maxAttempts {
		rec.RequiresManualIntervention = true
		escalated = true
	}

	return AttemptOutcome{Record: *rec, Tracked: true, Escalated: escalated}
}

// Get возвращает копию записи
func (t *StuckOrderTracker) Get(tenantID, orderID string) (models.StuckOrderRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[trackerKey{tenantID: tenantID, orderID: orderID}]
	if !ok {
		return models.StuckOrderRecord{}, false
	}
	return *rec, true
}

// List возвращает записи тенанта, упорядоченные по StuckSince
func (t *StuckOrderTracker) List(tenantID string) []models.StuckOrderRecord {
	t.mu.Lock()
	result := make([]models.StuckOrderRecord, 0)
	for key, rec := range t.records {
		if key.tenantID == tenantID {
			result = append(result, *rec)
		}
	}
	t.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].StuckSince.Equal(result[j].StuckSince) {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].StuckSince.Before(result[j].StuckSince)
	})
	return result
}

// Forget удаляет запись
func (t *StuckOrderTracker) Forget(tenantID, orderID string) {
	t.mu.Lock()
	delete(t.records, trackerKey{tenantID: tenantID, orderID: orderID})
	t.mu.Unlock()
}

// Retain оставляет у тенанта только записи из keep, возвращает число удаленных
func (t *StuckOrderTracker) Retain(tenantID string, keep map[string]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.records {
		if key.tenantID != tenantID {
			continue
		}
		if _, ok := keep[key.orderID]; !ok {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}

// Clear очищает трекер полностью, возвращает число удаленных записей
func (t *StuckOrderTracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.records)
	t.records = make(map[trackerKey]*models.StuckOrderRecord)
	return n
}

// Len возвращает число отслеживаемых ордеров
func (t *StuckOrderTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
