package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeops/internal/exchange"
	"tradeops/internal/models"
	"tradeops/internal/repository"
)

// ============ Mock OrderStore ============

type orderKey struct{ tenantID, orderID string }

type MockOrderStore struct {
	mu        sync.Mutex
	orders    map[orderKey]*models.Order
	now       func() time.Time
	getErr    error
	listErr   error
	updateErr error
	updates   int
}

func NewMockOrderStore(now func() time.Time) *MockOrderStore {
	return &MockOrderStore{
		orders: make(map[orderKey]*models.Order),
		now:    now,
	}
}

func (m *MockOrderStore) Put(order *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[orderKey{order.TenantID, order.OrderID}] = &o
}

func (m *MockOrderStore) GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[orderKey{tenantID, orderID}]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderStore) GetOrdersByStatus(ctx context.Context, tenantID string, statuses []models.OrderStatus) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	allowed := make(map[models.OrderStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}
	result := make([]*models.Order, 0)
	for key, o := range m.orders {
		if key.tenantID == tenantID && allowed[o.Status] {
			cp := *o
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockOrderStore) UpdateOrder(ctx context.Context, tenantID, orderID string, upd models.OrderUpdate) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	o, ok := m.orders[orderKey{tenantID, orderID}]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	updated := upd.Apply(*o, m.now())
	m.orders[orderKey{tenantID, orderID}] = &updated
	m.updates++
	cp := updated
	return &cp, nil
}

func (m *MockOrderStore) Snapshot(tenantID, orderID string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[orderKey{tenantID, orderID}]
}

// ============ Mock exchange adapter ============

type MockAdapter struct {
	mu          sync.Mutex
	name        string
	cancelErr   error
	getErr      error
	remote      *exchange.RemoteOrder
	cancelCalls []*exchange.CancelRequest
	getCalls    int
}

func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{name: name}
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) CancelOrder(ctx context.Context, req *exchange.CancelRequest) (*exchange.CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls = append(m.cancelCalls, req)
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	exID := req.ExchangeOrderID
	if exID == "" {
		exID = "ex-" + req.ClientOrderID
	}
	return &exchange.CancelResult{
		ExchangeOrderID: exID,
		ClientOrderID:   req.ClientOrderID,
		CancelledAt:     time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC),
	}, nil
}

func (m *MockAdapter) GetOrder(ctx context.Context, q *exchange.OrderQuery) (*exchange.RemoteOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.remote == nil {
		return nil, &exchange.ExchangeError{Exchange: m.name, Message: "order not found", Original: exchange.ErrRemoteOrderNotFound}
	}
	r := *m.remote
	return &r, nil
}

func (m *MockAdapter) Close() error { return nil }

// ============ Mock notifier ============

type MockNotifier struct {
	mu     sync.Mutex
	events []*models.InterventionEvent
	err    error
}

func (m *MockNotifier) NotifyManualIntervention(ctx context.Context, event *models.InterventionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *MockNotifier) Events() []*models.InterventionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.InterventionEvent(nil), m.events...)
}

// blockingNotifier держит уведомление до закрытия release
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}

	mu  sync.Mutex
	ctx context.Context
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingNotifier) NotifyManualIntervention(ctx context.Context, event *models.InterventionEvent) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	close(b.started)
	<-b.release
	return nil
}

func (b *blockingNotifier) ctxErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx.Err()
}

// ============ Fixtures ============

var errExchangeDown = errors.New("exchange unavailable")

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestOrder(tenantID, orderID string, status models.OrderStatus, age time.Duration) *models.Order {
	return &models.Order{
		TenantID:          tenantID,
		OrderID:           orderID,
		ExchangeID:        "bybit",
		Symbol:            "BTCUSDT",
		Side:              "buy",
		Status:            status,
		Quantity:          decimal.RequireFromString("0.5"),
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: decimal.RequireFromString("0.5"),
		CreatedAt:         testNow.Add(-age),
		UpdatedAt:         testNow.Add(-age),
	}
}

// testEnv - сервис со всеми зависимостями на моках
type testEnv struct {
	clock    *time.Time
	store    *MockOrderStore
	registry *exchange.Registry
	adapter  *MockAdapter
	manager  *OrderManager
	tracker  *StuckOrderTracker
	service  *StuckOrderService
	notifier *MockNotifier
}

func newTestEnv(withAdapter bool) *testEnv {
	clock := testNow
	nowFn := func() time.Time { return clock }

	env := &testEnv{clock: &clock}
	env.store = NewMockOrderStore(func() time.Time { return *env.clock })
	env.registry = exchange.NewRegistry()
	env.adapter = NewMockAdapter("bybit")
	if withAdapter {
		env.registry.Register(env.adapter)
	}
	env.manager = NewOrderManager(env.store, env.registry, nil)
	env.manager.now = nowFn
	env.tracker = NewStuckOrderTracker(models.DefaultStuckOrderConfig())
	env.service = NewStuckOrderService(env.store, env.manager, env.tracker, nil)
	env.service.now = func() time.Time { return *env.clock }
	env.notifier = &MockNotifier{}
	env.service.AddNotifier(env.notifier)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}
