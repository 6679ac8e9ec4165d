package websocket

import (
	"time"

	"tradeops/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeIntervention - ордер требует ручного вмешательства
	// Отправляется один раз на эскалацию, только клиентам того же тенанта
	MessageTypeIntervention MessageType = "manualIntervention"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// InterventionMessage - сообщение об эскалации зависшего ордера
type InterventionMessage struct {
	BaseMessage
	Data *InterventionData `json:"data"`
}

// InterventionData - данные эскалации
type InterventionData struct {
	EventID    string                  `json:"event_id"`
	OrderID    string                  `json:"order_id"`
	ExchangeID string                  `json:"exchange_id"`
	Status     models.OrderStatus      `json:"status"`
	Attempts   int                     `json:"resolution_attempts"`
	LastAction models.ResolutionAction `json:"last_action,omitempty"`
	LastError  string                  `json:"last_error,omitempty"`
	StuckSince time.Time               `json:"stuck_since"`
}

// NewInterventionMessage создает сообщение эскалации
func NewInterventionMessage(event *models.InterventionEvent) *InterventionMessage {
	return &InterventionMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeIntervention,
			Timestamp: event.OccurredAt,
		},
		Data: &InterventionData{
			EventID:    event.ID,
			OrderID:    event.OrderID,
			ExchangeID: event.ExchangeID,
			Status:     event.Status,
			Attempts:   event.ResolutionAttempts,
			LastAction: event.LastAction,
			LastError:  event.LastError,
			StuckSince: event.StuckSince,
		},
	}
}
