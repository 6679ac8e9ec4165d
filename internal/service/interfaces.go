package service

import (
	"context"

	"tradeops/internal/exchange"
	"tradeops/internal/models"
	"tradeops/internal/repository"
)

// OrderStoreInterface определяет интерфейс хранилища ордеров
type OrderStoreInterface interface {
	GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error)
	GetOrdersByStatus(ctx context.Context, tenantID string, statuses []models.OrderStatus) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, tenantID, orderID string, upd models.OrderUpdate) (*models.Order, error)
}

// Проверяем, что реальные хранилища реализуют интерфейс
var _ OrderStoreInterface = (*repository.OrderRepository)(nil)
var _ OrderStoreInterface = (*repository.DynamoOrderRepository)(nil)

// OrderManagerInterface определяет интерфейс менеджера ордеров (доступ к биржам)
type OrderManagerInterface interface {
	GetAdapter(exchangeID string) (exchange.Adapter, bool)
	CancelOrder(ctx context.Context, tenantID, orderID string) (*models.CancelAck, error)
	ReconcileOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error)
}

var _ OrderManagerInterface = (*OrderManager)(nil)

// InterventionNotifier получает события эскалации на ручное вмешательство
type InterventionNotifier interface {
	NotifyManualIntervention(ctx context.Context, event *models.InterventionEvent) error
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// StuckOrderServiceInterface определяет интерфейс сервиса зависших ордеров
type StuckOrderServiceInterface interface {
	GetStuckOrders(ctx context.Context, tenantID string) ([]models.StuckOrderRecord, error)
	GetStuckOrder(ctx context.Context, tenantID, orderID string) (*models.StuckOrderRecord, error)
	ResolveStuckOrder(ctx context.Context, tenantID, orderID string, res models.Resolution) error
	ForceCancel(ctx context.Context, tenantID, orderID, resolvedBy string) (*models.CancelAck, error)
	Config() models.StuckOrderConfig
	SetConfig(patch models.StuckOrderConfigPatch) models.StuckOrderConfig
	ResetConfig() models.StuckOrderConfig
	ClearAllStuckOrderTracking() int
}

var _ StuckOrderServiceInterface = (*StuckOrderService)(nil)
