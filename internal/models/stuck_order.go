package models

import (
	"time"
)

// ResolutionAction - действие оператора над зависшим ордером
type ResolutionAction string

// Действия разрешения
const (
	ResolutionCancel       ResolutionAction = "CANCEL"
	ResolutionMarkFilled   ResolutionAction = "MARK_FILLED"
	ResolutionMarkRejected ResolutionAction = "MARK_REJECTED"
	ResolutionReconcile    ResolutionAction = "RECONCILE"
)

// IsValid проверяет, что действие известно
func (a ResolutionAction) IsValid() bool {
	switch a {
	case ResolutionCancel, ResolutionMarkFilled, ResolutionMarkRejected, ResolutionReconcile:
		return true
	}
	return false
}

// Resolution - решение оператора по зависшему ордеру
type Resolution struct {
	Action     ResolutionAction `json:"action"`
	Reason     string           `json:"reason"`
	ResolvedBy string           `json:"resolved_by"`
}

// StuckOrderRecord - учетная запись о зависшем ордере
//
// Живет только в памяти процесса. StuckSince фиксируется при первом
// обнаружении и не меняется при повторных сканированиях.
// RequiresManualIntervention - односторонний флаг.
type StuckOrderRecord struct {
	OrderID                    string      `json:"order_id"`
	TenantID                   string      `json:"tenant_id"`
	Status                     OrderStatus `json:"status"`
	ExchangeID                 string      `json:"exchange_id"`
	StuckSince                 time.Time   `json:"stuck_since"`
	ResolutionAttempts         int         `json:"resolution_attempts"`
	RequiresManualIntervention bool        `json:"requires_manual_intervention"`

	// Последняя попытка разрешения (для аудита)
	LastAttemptAt  *time.Time       `json:"last_attempt_at,omitempty"`
	LastAction     ResolutionAction `json:"last_action,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	LastResolvedBy string           `json:"last_resolved_by,omitempty"`
}

// StuckOrderConfig - пороги классификации и лимит попыток
type StuckOrderConfig struct {
	PendingThreshold      time.Duration `json:"pending_threshold" yaml:"pending_threshold"`
	OpenNoUpdateThreshold time.Duration `json:"open_no_update_threshold" yaml:"open_no_update_threshold"`
	MaxResolutionAttempts int           `json:"max_resolution_attempts" yaml:"max_resolution_attempts"`
}

// Значения по умолчанию
const (
	DefaultPendingThreshold      = 5 * time.Minute
	DefaultOpenNoUpdateThreshold = 15 * time.Minute
	DefaultMaxResolutionAttempts = 3
)

// DefaultStuckOrderConfig возвращает конфигурацию по умолчанию
func DefaultStuckOrderConfig() StuckOrderConfig {
	return StuckOrderConfig{
		PendingThreshold:      DefaultPendingThreshold,
		OpenNoUpdateThreshold: DefaultOpenNoUpdateThreshold,
		MaxResolutionAttempts: DefaultMaxResolutionAttempts,
	}
}

// StuckOrderConfigPatch - частичное изменение конфигурации (nil = не менять)
type StuckOrderConfigPatch struct {
	PendingThreshold      *time.Duration
	OpenNoUpdateThreshold *time.Duration
	MaxResolutionAttempts *int
}

// Merge возвращает конфигурацию с примененными изменениями
func (c StuckOrderConfig) Merge(patch StuckOrderConfigPatch) StuckOrderConfig {
	if patch.PendingThreshold != nil {
		c.PendingThreshold = *patch.PendingThreshold
	}
	if patch.OpenNoUpdateThreshold != nil {
		c.OpenNoUpdateThreshold = *patch.OpenNoUpdateThreshold
	}
	if patch.MaxResolutionAttempts != nil {
		c.MaxResolutionAttempts = *patch.MaxResolutionAttempts
	}
	return c
}

// CancelAck - подтверждение отмены от Order Manager
type CancelAck struct {
	OrderID         string      `json:"order_id"`
	ExchangeOrderID string      `json:"exchange_order_id"`
	Status          OrderStatus `json:"status"`
	CancelledAt     time.Time   `json:"cancelled_at"`
}

// InterventionEvent - событие эскалации на ручное вмешательство
type InterventionEvent struct {
	ID                 string           `json:"id"`
	TenantID           string           `json:"tenant_id"`
	OrderID            string           `json:"order_id"`
	ExchangeID         string           `json:"exchange_id"`
	Status             OrderStatus      `json:"status"`
	ResolutionAttempts int              `json:"resolution_attempts"`
	LastAction         ResolutionAction `json:"last_action,omitempty"`
	LastError          string           `json:"last_error,omitempty"`
	StuckSince         time.Time        `json:"stuck_since"`
	OccurredAt         time.Time        `json:"occurred_at"`
}
