package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tradeops/internal/api/middleware"
	"tradeops/internal/exchange"
	"tradeops/internal/models"
	"tradeops/internal/repository"
	"tradeops/internal/service"
	"tradeops/pkg/utils"
)

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20 // 1 MB

// ResolveRequest - тело запроса ручного разрешения
type ResolveRequest struct {
	Action     models.ResolutionAction `json:"action"`
	Reason     string                  `json:"reason"`
	ResolvedBy string                  `json:"resolved_by,omitempty"`
}

// StuckOrderConfigResponse - конфигурация детектора в миллисекундах
type StuckOrderConfigResponse struct {
	PendingThresholdMs      int64 `json:"pending_threshold_ms"`
	OpenNoUpdateThresholdMs int64 `json:"open_no_update_threshold_ms"`
	MaxResolutionAttempts   int   `json:"max_resolution_attempts"`
}

// StuckOrderConfigPatchRequest - частичное изменение конфигурации (отсутствующие поля не меняются)
type StuckOrderConfigPatchRequest struct {
	PendingThresholdMs      *int64 `json:"pending_threshold_ms"`
	OpenNoUpdateThresholdMs *int64 `json:"open_no_update_threshold_ms"`
	MaxResolutionAttempts   *int   `json:"max_resolution_attempts"`
}

// StuckOrdersResponse - список зависших ордеров тенанта
type StuckOrdersResponse struct {
	TenantID string                    `json:"tenant_id"`
	Count    int                       `json:"count"`
	Orders   []models.StuckOrderRecord `json:"orders"`
}

// StuckOrderHandler отвечает за операторские операции над зависшими ордерами
//
// Endpoints:
// - GET    /api/v1/stuck-orders - сканирование и список
// - GET    /api/v1/stuck-orders/{orderId} - один ордер
// - POST   /api/v1/stuck-orders/{orderId}/resolve - ручное разрешение
// - POST   /api/v1/stuck-orders/{orderId}/force-cancel - принудительная отмена
// - GET    /api/v1/stuck-orders/config - текущая конфигурация
// - PATCH  /api/v1/stuck-orders/config - частичное изменение
// - POST   /api/v1/stuck-orders/config/reset - сброс к значениям по умолчанию
// - DELETE /api/v1/stuck-orders/tracking - сброс трекинга
//
// Тенант берётся из context (middleware.Auth), не из тела запроса.
type StuckOrderHandler struct {
	stuckOrderService service.StuckOrderServiceInterface
	logger            *zap.Logger
}

// NewStuckOrderHandler создает новый StuckOrderHandler
func NewStuckOrderHandler(stuckOrderService service.StuckOrderServiceInterface, logger *zap.Logger) *StuckOrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StuckOrderHandler{
		stuckOrderService: stuckOrderService,
		logger:            logger,
	}
}

// GetStuckOrders сканирует хранилище и возвращает зависшие ордера тенанта
// GET /api/v1/stuck-orders
func (h *StuckOrderHandler) GetStuckOrders(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromRequest(r)

	records, err := h.stuckOrderService.GetStuckOrders(r.Context(), tenantID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, StuckOrdersResponse{
		TenantID: tenantID,
		Count:    len(records),
		Orders:   records,
	})
}

// GetStuckOrder возвращает запись одного зависшего ордера
// GET /api/v1/stuck-orders/{orderId}
//
// Ответы:
// - 200 OK: ордер зависший
// - 404 Not Found: ордера нет или он не зависший
func (h *StuckOrderHandler) GetStuckOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDFromPath(w, r)
	if !ok {
		return
	}

	record, err := h.stuckOrderService.GetStuckOrder(r.Context(), middleware.TenantFromRequest(r), orderID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

// ResolveStuckOrder применяет действие разрешения
// POST /api/v1/stuck-orders/{orderId}/resolve
//
// Тело запроса:
//
//	{
//	  "action": "CANCEL | MARK_FILLED | MARK_REJECTED | RECONCILE",
//	  "reason": "venue confirmed fill",
//	  "resolved_by": "optional, defaults to authenticated operator"
//	}
//
// Ответы:
// - 200 OK: действие выполнено
// - 400 Bad Request: некорректное тело или действие
// - 404 Not Found: ордер не найден
// - 409 Conflict: ордер нельзя отменить
// - 502 Bad Gateway: ошибка биржи
// - 503 Service Unavailable: нет адаптера биржи
func (h *StuckOrderHandler) ResolveStuckOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDFromPath(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req.Action = models.ResolutionAction(strings.ToUpper(strings.TrimSpace(string(req.Action))))
	if !req.Action.IsValid() {
		respondWithError(w, http.StatusBadRequest, "Invalid resolution action",
			"Allowed: CANCEL, MARK_FILLED, MARK_REJECTED, RECONCILE")
		return
	}

	resolvedBy := strings.TrimSpace(req.ResolvedBy)
	if resolvedBy == "" {
		resolvedBy = middleware.OperatorFromContext(r.Context())
	}

	tenantID := middleware.TenantFromRequest(r)
	err := h.stuckOrderService.ResolveStuckOrder(r.Context(), tenantID, orderID, models.Resolution{
		Action:     req.Action,
		Reason:     req.Reason,
		ResolvedBy: resolvedBy,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.logger.Info("stuck order resolved",
		utils.TenantID(tenantID),
		utils.OrderID(orderID),
		utils.Action(string(req.Action)),
		utils.Operator(resolvedBy))

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Resolution applied"})
}

// ForceCancel отменяет ордер на бирже в обход классификации
// POST /api/v1/stuck-orders/{orderId}/force-cancel
func (h *StuckOrderHandler) ForceCancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderIDFromPath(w, r)
	if !ok {
		return
	}

	ack, err := h.stuckOrderService.ForceCancel(r.Context(), middleware.TenantFromRequest(r), orderID,
		middleware.OperatorFromContext(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ack)
}

// GetConfig возвращает текущую конфигурацию детектора
// GET /api/v1/stuck-orders/config
func (h *StuckOrderHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, toConfigResponse(h.stuckOrderService.Config()))
}

// UpdateConfig частично изменяет конфигурацию
// PATCH /api/v1/stuck-orders/config
//
// Пороги должны быть > 0, max_resolution_attempts >= 1.
func (h *StuckOrderHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req StuckOrderConfigPatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid configuration", err.Error())
		return
	}

	cfg := h.stuckOrderService.SetConfig(patch)
	h.logger.Info("stuck order config updated",
		utils.Operator(middleware.OperatorFromContext(r.Context())),
		zap.Duration("pending_threshold", cfg.PendingThreshold),
		zap.Duration("open_no_update_threshold", cfg.OpenNoUpdateThreshold),
		zap.Int("max_resolution_attempts", cfg.MaxResolutionAttempts))

	respondWithJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// ResetConfig возвращает конфигурацию к значениям по умолчанию
// POST /api/v1/stuck-orders/config/reset
func (h *StuckOrderHandler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, toConfigResponse(h.stuckOrderService.ResetConfig()))
}

// ClearTracking сбрасывает трекинг всех тенантов
// DELETE /api/v1/stuck-orders/tracking
func (h *StuckOrderHandler) ClearTracking(w http.ResponseWriter, r *http.Request) {
	removed := h.stuckOrderService.ClearAllStuckOrderTracking()
	h.logger.Warn("stuck order tracking cleared",
		utils.Operator(middleware.OperatorFromContext(r.Context())),
		zap.Int("removed", removed))

	respondWithJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *StuckOrderHandler) orderIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := mux.Vars(r)["orderId"]
	if err := utils.ValidateOrderID(orderID); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order id", err.Error())
		return "", false
	}
	return orderID, true
}

// respondWithServiceError переводит ошибки сервиса в HTTP статусы
func (h *StuckOrderHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var exErr *exchange.ExchangeError

	switch {
	case errors.Is(err, service.ErrStuckOrderNotFound),
		errors.Is(err, service.ErrStuckOrderNotTracked),
		errors.Is(err, repository.ErrOrderNotFound):
		respondWithError(w, http.StatusNotFound, "Stuck order not found", err.Error())
	case errors.Is(err, service.ErrInvalidResolutionAction):
		respondWithError(w, http.StatusBadRequest, "Invalid resolution action", err.Error())
	case errors.Is(err, service.ErrOrderNotCancellable):
		respondWithError(w, http.StatusConflict, "Order cannot be cancelled", err.Error())
	case errors.Is(err, exchange.ErrAdapterNotFound):
		respondWithError(w, http.StatusServiceUnavailable, "Exchange adapter unavailable", err.Error())
	case errors.As(err, &exErr):
		respondWithError(w, http.StatusBadGateway, "Exchange request failed", err.Error())
	default:
		h.logger.Error("stuck order request failed",
			utils.RequestID(middleware.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func toConfigResponse(cfg models.StuckOrderConfig) StuckOrderConfigResponse {
	return StuckOrderConfigResponse{
		PendingThresholdMs:      cfg.PendingThreshold.Milliseconds(),
		OpenNoUpdateThresholdMs: cfg.OpenNoUpdateThreshold.Milliseconds(),
		MaxResolutionAttempts:   cfg.MaxResolutionAttempts,
	}
}

func (req StuckOrderConfigPatchRequest) toPatch() (models.StuckOrderConfigPatch, error) {
	var patch models.StuckOrderConfigPatch

	if req.PendingThresholdMs != nil {
		d, err := utils.PositiveDurationFromMillis("pending_threshold_ms", *req.PendingThresholdMs)
		if err != nil {
			return patch, err
		}
		patch.PendingThreshold = &d
	}
	if req.OpenNoUpdateThresholdMs != nil {
		d, err := utils.PositiveDurationFromMillis("open_no_update_threshold_ms", *req.OpenNoUpdateThresholdMs)
		if err != nil {
			return patch, err
		}
		patch.OpenNoUpdateThreshold = &d
	}
	if req.MaxResolutionAttempts != nil {
		if err := utils.ValidateMinInt("max_resolution_attempts", *req.MaxResolutionAttempts, 1); err != nil {
			return patch, err
		}
		patch.MaxResolutionAttempts = req.MaxResolutionAttempts
	}

	return patch, nil
}
