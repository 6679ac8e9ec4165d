//go:build integration

// Package integration содержит интеграционные тесты монитора зависших ордеров.
//
// Проверяется взаимодействие компонентов:
// - API: полный HTTP цикл с Basic auth и тенантом
// - WebSocket: push эскалаций операторам тенанта
// - Database: схема и репозиторий ордеров на реальном PostgreSQL
//
// Биржа подменяется httptest сервером с ответами в формате Bybit v5.
// Запуск: go test -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"tradeops/internal/api"
	"tradeops/internal/api/middleware"
	"tradeops/internal/exchange"
	"tradeops/internal/models"
	"tradeops/internal/repository"
	"tradeops/internal/service"
	"tradeops/internal/websocket"
	"tradeops/pkg/crypto"
)

const (
	testOperator = "ops"
	testPassword = "s3cret"
	testTenant   = "tenant-it"
)

// TestConfig содержит параметры подключения к тестовой БД
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer объединяет все компоненты, нужные интеграционному тесту
type TestServer struct {
	DB       *sql.DB
	Router   *mux.Router
	Server   *httptest.Server
	Hub      *websocket.Hub
	Orders   *repository.OrderRepository
	Service  *service.StuckOrderService
	Exchange *FakeBybit
	Cleanup  func()
}

// FakeBybit - httptest сервер с ответами Bybit v5
//
// Статус для /v5/order/realtime задается через SetOrderStatus,
// FailAll переводит все ответы в retCode ошибку.
type FakeBybit struct {
	Server *httptest.Server

	mu          sync.Mutex
	orderStatus string
	failAll     bool

	cancelCalls atomic.Int32
	queryCalls  atomic.Int32
}

func newFakeBybit() *FakeBybit {
	f := &FakeBybit{orderStatus: "New"}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// SetOrderStatus задает статус, который вернет запрос ордера
func (f *FakeBybit) SetOrderStatus(status string) {
	f.mu.Lock()
	f.orderStatus = status
	f.mu.Unlock()
}

// FailAll включает ошибку на все запросы
func (f *FakeBybit) FailAll(fail bool) {
	f.mu.Lock()
	f.failAll = fail
	f.mu.Unlock()
}

func (f *FakeBybit) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status, fail := f.orderStatus, f.failAll
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.Write([]byte(`{"retCode":10016,"retMsg":"service unavailable","result":{}}`))
		return
	}

	switch r.URL.Path {
	case "/v5/order/cancel":
		f.cancelCalls.Add(1)
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"ex-1","orderLinkId":""}}`))
	case "/v5/order/realtime":
		f.queryCalls.Add(1)
		fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"ex-1","orderLinkId":"%s","orderStatus":"%s","qty":"1","cumExecQty":"1","leavesQty":"0","updatedTime":"%d"}]}}`,
			r.URL.Query().Get("orderLinkId"), status, time.Now().UnixMilli())
	default:
		http.NotFound(w, r)
	}
}

// getTestConfig возвращает параметры из переменных окружения или значения по умолчанию
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "tradeops_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB подключается к тестовой БД; без БД тест пропускается
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open(config.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTestTables(db); err != nil {
		db.Close()
		t.Fatalf("failed to init tables: %v", err)
	}

	cleanup := func() {
		cleanupTestTables(db)
		if err := db.Close(); err != nil {
			t.Logf("error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer поднимает полный стек: Postgres, фейковая биржа, сервис, hub, роутер
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()

	db, dbCleanup := SetupTestDB(t)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	fake := newFakeBybit()
	registry := exchange.NewRegistry()
	if err := registry.Register(exchange.NewBybit(exchange.BybitConfig{
		APIKey:    "key",
		SecretKey: "secret",
		BaseURL:   fake.Server.URL,
		RateLimit: 1000,
		Burst:     100,
	}, nil)); err != nil {
		t.Fatalf("register bybit: %v", err)
	}

	orders := repository.NewOrderRepository(db)
	manager := service.NewOrderManager(orders, registry, logger)
	tracker := service.NewStuckOrderTracker(models.DefaultStuckOrderConfig())
	svc := service.NewStuckOrderService(orders, manager, tracker, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()
	svc.AddNotifier(hub)

	hash, err := crypto.HashPasswordWithCost(testPassword, 4)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	router := api.SetupRoutes(&api.Dependencies{
		StuckOrderService: svc,
		Hub:               hub,
		Auth:              middleware.AuthConfig{Username: testOperator, PasswordHash: hash},
		Logger:            logger,
	})
	server := httptest.NewServer(router)

	ts := &TestServer{
		DB:       db,
		Router:   router,
		Server:   server,
		Hub:      hub,
		Orders:   orders,
		Service:  svc,
		Exchange: fake,
	}
	ts.Cleanup = func() {
		server.Close()
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = svc.WaitNotifications(waitCtx)
		cancel()
		hub.Stop()
		registry.Close()
		fake.Server.Close()
		dbCleanup()
	}
	return ts
}

// initTestTables применяет миграцию схемы ордеров
func initTestTables(db *sql.DB) error {
	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_create_orders.up.sql"))
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return TruncateTable(db, "orders")
}

func cleanupTestTables(db *sql.DB) {
	TruncateTable(db, "orders")
}

// TruncateTable очищает таблицу
func TruncateTable(db *sql.DB, tableName string) error {
	_, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s", tableName))
	return err
}

// seedOrder создает ордер с заданным статусом и возрастом
func seedOrder(t *testing.T, repo *repository.OrderRepository, tenantID, orderID string, status models.OrderStatus, age time.Duration) *models.Order {
	t.Helper()
	ts := time.Now().Add(-age).UTC().Truncate(time.Microsecond)
	order := &models.Order{
		TenantID:          tenantID,
		OrderID:           orderID,
		ExchangeID:        "bybit",
		ExchangeOrderID:   "ex-1",
		Symbol:            "BTCUSDT",
		Side:              "buy",
		Status:            status,
		Quantity:          decimal.NewFromInt(1),
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: decimal.NewFromInt(1),
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}
	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order %s: %v", orderID, err)
	}
	return order
}
