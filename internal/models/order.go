package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus - статус ордера в системе
type OrderStatus string

// Статусы ордера
const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// UncertainStatuses - нетерминальные статусы, итог которых еще не подтвержден
var UncertainStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusOpen,
	OrderStatusPartiallyFilled,
}

// IsTerminal возвращает true для статусов, из которых ордер больше не переходит
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsValid проверяет, что статус входит в известный набор
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Order представляет ордер тенанта на бирже
//
// Ключ: (TenantID, OrderID). Количества неотрицательные,
// FilledQuantity + RemainingQuantity == Quantity для согласованной записи.
type Order struct {
	TenantID          string          `json:"tenant_id" db:"tenant_id"`
	OrderID           string          `json:"order_id" db:"order_id"`
	ExchangeID        string          `json:"exchange_id" db:"exchange_id"`                       // bybit, okx, ...
	ExchangeOrderID   string          `json:"exchange_order_id,omitempty" db:"exchange_order_id"` // id на стороне биржи (может отсутствовать для PENDING)
	Symbol            string          `json:"symbol" db:"symbol"`
	Side              string          `json:"side" db:"side"` // buy, sell
	Status            OrderStatus     `json:"status" db:"status"`
	Quantity          decimal.Decimal `json:"quantity" db:"quantity"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity" db:"remaining_quantity"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// IsConsistent проверяет баланс количеств ордера
func (o *Order) IsConsistent() bool {
	if o.Quantity.IsNegative() || o.FilledQuantity.IsNegative() || o.RemainingQuantity.IsNegative() {
		return false
	}
	return o.FilledQuantity.Add(o.RemainingQuantity).Equal(o.Quantity)
}

// Age возвращает время с последнего обновления ордера
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.UpdatedAt)
}

// OrderUpdate - частичное обновление ордера
// nil поле означает "не менять". UpdatedAt выставляется хранилищем всегда.
type OrderUpdate struct {
	Status            *OrderStatus
	ExchangeOrderID   *string
	FilledQuantity    *decimal.Decimal
	RemainingQuantity *decimal.Decimal
	CompletedAt       *time.Time
}

// IsEmpty возвращает true если обновление ничего не меняет
func (u OrderUpdate) IsEmpty() bool {
	return u.Status == nil && u.ExchangeOrderID == nil && u.FilledQuantity == nil &&
		u.RemainingQuantity == nil && u.CompletedAt == nil
}

// Apply применяет обновление к копии ордера
func (u OrderUpdate) Apply(order Order, now time.Time) Order {
	if u.Status != nil {
		order.Status = *u.Status
	}
	if u.ExchangeOrderID != nil {
		order.ExchangeOrderID = *u.ExchangeOrderID
	}
	if u.FilledQuantity != nil {
		order.FilledQuantity = *u.FilledQuantity
	}
	if u.RemainingQuantity != nil {
		order.RemainingQuantity = *u.RemainingQuantity
	}
	if u.CompletedAt != nil {
		completed := *u.CompletedAt
		order.CompletedAt = &completed
	}
	order.UpdatedAt = now
	return order
}
