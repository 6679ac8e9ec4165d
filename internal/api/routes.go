package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradeops/internal/api/handlers"
	"tradeops/internal/api/middleware"
	"tradeops/internal/service"
	"tradeops/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	StuckOrderService service.StuckOrderServiceInterface
	Hub               *websocket.Hub
	Auth              middleware.AuthConfig
	AllowedOrigins    []string
	Logger            *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/stuck-orders
//
//	├── GET / - сканирование и список зависших ордеров тенанта
//	├── GET /config - конфигурация детектора
//	├── PATCH /config - частичное изменение конфигурации
//	├── POST /config/reset - сброс конфигурации
//	├── DELETE /tracking - сброс трекинга
//	├── GET /{orderId} - один ордер
//	├── POST /{orderId}/resolve - ручное разрешение
//	└── POST /{orderId}/force-cancel - принудительная отмена
//
// /ws/stream - WebSocket с событиями эскалации тенанта
// /metrics - prometheus
// /health - liveness
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (/api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger.Named("http")))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	auth := middleware.Auth(deps.Auth, logger.Named("auth"))

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.StuckOrderService != nil {
		h := handlers.NewStuckOrderHandler(deps.StuckOrderService, logger.Named("stuck_orders"))

		// статические пути раньше {orderId}
		api.HandleFunc("/stuck-orders", h.GetStuckOrders).Methods("GET")
		api.HandleFunc("/stuck-orders/config", h.GetConfig).Methods("GET")
		api.HandleFunc("/stuck-orders/config", h.UpdateConfig).Methods("PATCH")
		api.HandleFunc("/stuck-orders/config/reset", h.ResetConfig).Methods("POST")
		api.HandleFunc("/stuck-orders/tracking", h.ClearTracking).Methods("DELETE")
		api.HandleFunc("/stuck-orders/{orderId}", h.GetStuckOrder).Methods("GET")
		api.HandleFunc("/stuck-orders/{orderId}/resolve", h.ResolveStuckOrder).Methods("POST")
		api.HandleFunc("/stuck-orders/{orderId}/force-cancel", h.ForceCancel).Methods("POST")
	}

	// WebSocket route
	if deps.Hub != nil {
		checker := websocket.NewOriginChecker(deps.AllowedOrigins)
		router.Handle("/ws/stream", auth(deps.Hub.Handler(checker, middleware.TenantFromRequest))).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
