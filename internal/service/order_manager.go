package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeops/internal/exchange"
	"tradeops/internal/models"
	"tradeops/pkg/utils"
)

// ErrOrderNotCancellable - ордер уже в терминальном статусе, отличном от CANCELLED
var ErrOrderNotCancellable = errors.New("order is in a terminal status and cannot be cancelled")

// OrderManager - операции над ордерами, требующие биржи
// Адаптер выбирается по Order.ExchangeID в момент вызова.
type OrderManager struct {
	store    OrderStoreInterface
	registry *exchange.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderManager создает менеджер ордеров
func NewOrderManager(store OrderStoreInterface, registry *exchange.Registry, logger *zap.Logger) *OrderManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderManager{
		store:    store,
		registry: registry,
		logger:   logger.With(utils.Component("order-manager")),
		now:      time.Now,
	}
}

// GetAdapter возвращает адаптер биржи
func (m *OrderManager) GetAdapter(exchangeID string) (exchange.Adapter, bool) {
	return m.registry.Get(exchangeID)
}

func (m *OrderManager) adapterFor(order *models.Order) (exchange.Adapter, error) {
	adapter, ok := m.GetAdapter(order.ExchangeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", exchange.ErrAdapterNotFound, order.ExchangeID)
	}
	return adapter, nil
}

// CancelOrder отменяет ордер на бирже и переводит его в CANCELLED
//
// Повторная отмена уже отмененного ордера возвращает подтверждение
// без обращения к бирже. Ошибки адаптера возвращаются как есть.
func (m *OrderManager) CancelOrder(ctx context.Context, tenantID, orderID string) (*models.CancelAck, error) {
	order, err := m.store.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == models.OrderStatusCancelled {
		cancelledAt := order.UpdatedAt
		if order.CompletedAt != nil {
			cancelledAt = *order.CompletedAt
		}
		return &models.CancelAck{
			OrderID:         order.OrderID,
			ExchangeOrderID: order.ExchangeOrderID,
			Status:          models.OrderStatusCancelled,
			CancelledAt:     cancelledAt,
		}, nil
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotCancellable, orderID, order.Status)
	}

	adapter, err := m.adapterFor(order)
	if err != nil {
		return nil, err
	}

	res, err := adapter.CancelOrder(ctx, &exchange.CancelRequest{
		Symbol:          order.Symbol,
		ExchangeOrderID: order.ExchangeOrderID,
		ClientOrderID:   order.OrderID,
	})
	if err != nil {
		m.logger.Warn("exchange cancel failed",
			utils.TenantID(tenantID), utils.OrderID(orderID), utils.Exchange(order.ExchangeID), zap.Error(err))
		return nil, err
	}

	cancelledAt := res.CancelledAt
	if cancelledAt.IsZero() {
		cancelledAt = m.now()
	}
	status := models.OrderStatusCancelled
	upd := models.OrderUpdate{Status: &status, CompletedAt: &cancelledAt}
	if order.ExchangeOrderID == "" && res.ExchangeOrderID != "" {
		upd.ExchangeOrderID = &res.ExchangeOrderID
	}

	updated, err := m.store.UpdateOrder(ctx, tenantID, orderID, upd)
	if err != nil {
		// биржа отменила, а запись не обновилась - нужна сверка
		m.logger.Error("order cancelled on exchange but store update failed",
			utils.TenantID(tenantID), utils.OrderID(orderID), zap.Error(err))
		return nil, err
	}

	m.logger.Info("order cancelled",
		utils.TenantID(tenantID), utils.OrderID(orderID),
		utils.Exchange(order.ExchangeID), utils.ExchangeOrderID(updated.ExchangeOrderID))

	return &models.CancelAck{
		OrderID:         updated.OrderID,
		ExchangeOrderID: updated.ExchangeOrderID,
		Status:          models.OrderStatusCancelled,
		CancelledAt:     cancelledAt,
	}, nil
}

// ReconcileOrder запрашивает фактическое состояние на бирже и записывает его в хранилище
// Без адаптера для биржи ордера возвращает exchange.ErrAdapterNotFound.
func (m *OrderManager) ReconcileOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	order, err := m.store.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	adapter, err := m.adapterFor(order)
	if err != nil {
		return nil, err
	}

	remote, err := adapter.GetOrder(ctx, &exchange.OrderQuery{
		Symbol:          order.Symbol,
		ExchangeOrderID: order.ExchangeOrderID,
		ClientOrderID:   order.OrderID,
	})
	if err != nil {
		return nil, err
	}

	upd := reconcileUpdate(order, remote)
	updated, err := m.store.UpdateOrder(ctx, tenantID, orderID, upd)
	if err != nil {
		return nil, err
	}

	m.logger.Info("order reconciled",
		utils.TenantID(tenantID), utils.OrderID(orderID),
		utils.Status(string(updated.Status)), zap.String("previous_status", string(order.Status)))

	return updated, nil
}

// reconcileUpdate строит обновление из состояния биржи
func reconcileUpdate(order *models.Order, remote *exchange.RemoteOrder) models.OrderUpdate {
	status := remote.Status
	upd := models.OrderUpdate{Status: &status}

	if remote.ExchangeOrderID != "" && remote.ExchangeOrderID != order.ExchangeOrderID {
		id := remote.ExchangeOrderID
		upd.ExchangeOrderID = &id
	}

	filled := remote.FilledQuantity
	upd.FilledQuantity = &filled

	// остаток считаем от количества ордера, чтобы запись осталась согласованной
	remaining := order.Quantity.Sub(filled)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	upd.RemainingQuantity = &remaining

	if status.IsTerminal() && order.CompletedAt == nil {
		completed := remote.UpdatedAt
		upd.CompletedAt = &completed
	}
	return upd
}
