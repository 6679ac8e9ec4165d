package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradeops/internal/models"
	"tradeops/internal/service"
)

// ErrMockStore - ошибка хранилища для тестов
var ErrMockStore = errors.New("mock store error")

// ============ Mock StuckOrder Service ============

// MockStuckOrderService мок для StuckOrderServiceInterface
type MockStuckOrderService struct {
	mu sync.Mutex

	records map[string]models.StuckOrderRecord // orderID -> запись
	cfg     models.StuckOrderConfig

	listErr    error
	getErr     error
	resolveErr error
	cancelErr  error

	lastTenant     string
	lastResolution *models.Resolution
	lastResolvedBy string
	cleared        int
}

var _ service.StuckOrderServiceInterface = (*MockStuckOrderService)(nil)

// NewMockStuckOrderService создает мок с конфигурацией по умолчанию
func NewMockStuckOrderService() *MockStuckOrderService {
	return &MockStuckOrderService{
		records: make(map[string]models.StuckOrderRecord),
		cfg:     models.DefaultStuckOrderConfig(),
	}
}

func (m *MockStuckOrderService) AddRecord(rec models.StuckOrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.OrderID] = rec
}

func (m *MockStuckOrderService) GetStuckOrders(ctx context.Context, tenantID string) ([]models.StuckOrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTenant = tenantID
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]models.StuckOrderRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.TenantID == tenantID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (m *MockStuckOrderService) GetStuckOrder(ctx context.Context, tenantID, orderID string) (*models.StuckOrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTenant = tenantID
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[orderID]
	if !ok || rec.TenantID != tenantID {
		return nil, service.ErrStuckOrderNotTracked
	}
	return &rec, nil
}

func (m *MockStuckOrderService) ResolveStuckOrder(ctx context.Context, tenantID, orderID string, res models.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTenant = tenantID
	m.lastResolution = &res
	return m.resolveErr
}

func (m *MockStuckOrderService) ForceCancel(ctx context.Context, tenantID, orderID, resolvedBy string) (*models.CancelAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTenant = tenantID
	m.lastResolvedBy = resolvedBy
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &models.CancelAck{
		OrderID:         orderID,
		ExchangeOrderID: "ex-" + orderID,
		Status:          models.OrderStatusCancelled,
		CancelledAt:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (m *MockStuckOrderService) Config() models.StuckOrderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *MockStuckOrderService) SetConfig(patch models.StuckOrderConfigPatch) models.StuckOrderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = m.cfg.Merge(patch)
	return m.cfg
}

func (m *MockStuckOrderService) ResetConfig() models.StuckOrderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = models.DefaultStuckOrderConfig()
	return m.cfg
}

func (m *MockStuckOrderService) ClearAllStuckOrderTracking() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.records)
	m.records = make(map[string]models.StuckOrderRecord)
	m.cleared++
	return n
}
