package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradeops/internal/models"
	"tradeops/internal/repository"
	"tradeops/pkg/utils"
)

// Ошибки сервиса зависших ордеров
var (
	ErrStuckOrderNotFound      = errors.New("stuck order not found")
	ErrStuckOrderNotTracked    = errors.New("order is not stuck")
	ErrInvalidResolutionAction = errors.New("invalid resolution action")
)

// StuckOrderService - монитор зависших ордеров
//
// Классификация выполняется по запросу, фоновых сканеров нет.
// Состояние попыток живет в StuckOrderTracker и теряется при рестарте.
type StuckOrderService struct {
	store   OrderStoreInterface
	manager OrderManagerInterface
	tracker *StuckOrderTracker
	logger  *zap.Logger
	now     func() time.Time

	notifiersMu   sync.RWMutex
	notifiers     []InterventionNotifier
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// DefaultNotifyTimeout - время на доставку одного события всем получателям
const DefaultNotifyTimeout = 30 * time.Second

// NewStuckOrderService создает сервис
func NewStuckOrderService(
	store OrderStoreInterface,
	manager OrderManagerInterface,
	tracker *StuckOrderTracker,
	logger *zap.Logger,
) *StuckOrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StuckOrderService{
		store:   store,
		manager: manager,
		tracker: tracker,
		logger:  logger.With(utils.Component("stuck-orders")),
		now:     time.Now,

		notifyTimeout: DefaultNotifyTimeout,
	}
}

// AddNotifier подключает получателя событий эскалации.
//
// Вызывается в main.go после инициализации Hub и SNS:
//
//	stuckService.AddNotifier(wsHub)
//	stuckService.AddNotifier(snsNotifier)
func (s *StuckOrderService) AddNotifier(n InterventionNotifier) {
	s.notifiersMu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.notifiersMu.Unlock()
}

// GetStuckOrders сканирует нетерминальные ордера тенанта и возвращает зависшие
//
// Записи удаляются только для ордеров, которые исчезли из выборки
// нетерминальных статусов. Ордер, переставший быть зависшим (например,
// после повышения порога), не возвращается, но его запись с попытками
// и флагом эскалации сохраняется.
func (s *StuckOrderService) GetStuckOrders(ctx context.Context, tenantID string) ([]models.StuckOrderRecord, error) {
	orders, err := s.store.GetOrdersByStatus(ctx, tenantID, models.UncertainStatuses)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cfg := s.tracker.Config()
	StuckOrderScans.Inc()

	open := make(map[string]struct{}, len(orders))
	stuck := make(map[string]struct{})
	for _, order := range orders {
		// хранилище могло вернуть чужой ордер - изоляция тенантов важнее
		if order.TenantID != tenantID || order.Status.IsTerminal() {
			continue
		}
		open[order.OrderID] = struct{}{}
		if IsStuck(order, now, cfg) {
			s.tracker.Observe(order, now)
			stuck[order.OrderID] = struct{}{}
		}
	}

	if removed := s.tracker.Retain(tenantID, open); removed > 0 {
		s.logger.Debug("records of finished orders dropped", utils.TenantID(tenantID), zap.Int("removed", removed))
	}

	all := s.tracker.List(tenantID)
	records := make([]models.StuckOrderRecord, 0, len(stuck))
	for _, rec := range all {
		if _, ok := stuck[rec.OrderID]; ok {
			records = append(records, rec)
		}
	}
	StuckOrdersDetected.WithLabelValues(tenantID).Set(float64(len(records)))

	return records, nil
}

// GetStuckOrder классифицирует один ордер
// ErrStuckOrderNotFound - ордера нет, ErrStuckOrderNotTracked - ордер не завис.
// Запись удаляется только для терминального ордера.
func (s *StuckOrderService) GetStuckOrder(ctx context.Context, tenantID, orderID string) (*models.StuckOrderRecord, error) {
	order, err := s.getOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status.IsTerminal() {
		s.tracker.Forget(tenantID, orderID)
		return nil, fmt.Errorf("%w: %s", ErrStuckOrderNotTracked, orderID)
	}

	now := s.now()
	if !IsStuck(order, now, s.tracker.Config()) {
		return nil, fmt.Errorf("%w: %s", ErrStuckOrderNotTracked, orderID)
	}

	rec := s.tracker.Observe(order, now)
	return &rec, nil
}

func (s *StuckOrderService) getOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStuckOrderNotFound, orderID)
		}
		return nil, err
	}
	return order, nil
}

// ResolveStuckOrder применяет решение оператора
//
// Каждый завершенный вызов (успешный или нет) учитывается как попытка.
// Ошибки биржи и адаптеров возвращаются без обертки.
func (s *StuckOrderService) ResolveStuckOrder(ctx context.Context, tenantID, orderID string, res models.Resolution) error {
	_, err := s.resolve(ctx, tenantID, orderID, res)
	return err
}

// ForceCancel - отмена с возвратом подтверждения Order Manager
// resolvedBy попадает в аудит попытки как LastResolvedBy.
func (s *StuckOrderService) ForceCancel(ctx context.Context, tenantID, orderID, resolvedBy string) (*models.CancelAck, error) {
	return s.resolve(ctx, tenantID, orderID, models.Resolution{
		Action:     models.ResolutionCancel,
		Reason:     "force cancel",
		ResolvedBy: resolvedBy,
	})
}

func (s *StuckOrderService) resolve(ctx context.Context, tenantID, orderID string, res models.Resolution) (*models.CancelAck, error) {
	if !res.Action.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolutionAction, res.Action)
	}

	order, err := s.getOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		utils.TenantID(tenantID),
		utils.OrderID(orderID),
		utils.Action(string(res.Action)),
		utils.Operator(res.ResolvedBy),
	)
	log.Info("resolving stuck order", zap.String("reason", res.Reason), utils.Status(string(order.Status)))

	start := time.Now()
	result, ack, execErr := s.execute(ctx, order, res)

	outcome := s.tracker.RecordAttempt(tenantID, orderID, res.Action, res.ResolvedBy, execErr, s.now())

	if execErr != nil {
		ResolutionAttempts.WithLabelValues(string(res.Action), resultFailure).Inc()
		log.Warn("stuck order resolution failed",
			utils.Attempts(outcome.Record.ResolutionAttempts), utils.Latency(time.Since(start)), zap.Error(execErr))
	} else {
		ResolutionAttempts.WithLabelValues(string(res.Action), resultSuccess).Inc()
		log.Info("stuck order resolved",
			utils.Status(string(result.Status)), utils.Latency(time.Since(start)))
	}

	if execErr == nil && result.Status.IsTerminal() {
		s.tracker.Forget(tenantID, orderID)
		return ack, nil
	}

	if outcome.Escalated {
		ManualInterventions.Inc()
		log.Warn("stuck order requires manual intervention", utils.Attempts(outcome.Record.ResolutionAttempts))
		s.notify(ctx, outcome.Record)
	}

	return ack, execErr
}

// execute выполняет действие и возвращает итоговое состояние ордера
func (s *StuckOrderService) execute(ctx context.Context, order *models.Order, res models.Resolution) (*models.Order, *models.CancelAck, error) {
	now := s.now()

	switch res.Action {
	case models.ResolutionCancel:
		ack, err := s.manager.CancelOrder(ctx, order.TenantID, order.OrderID)
		if err != nil {
			return nil, nil, err
		}
		result := *order
		result.Status = ack.Status
		return &result, ack, nil

	case models.ResolutionMarkFilled:
		status := models.OrderStatusFilled
		filled := order.Quantity
		remaining := order.Quantity.Sub(filled)
		updated, err := s.store.UpdateOrder(ctx, order.TenantID, order.OrderID, models.OrderUpdate{
			Status:            &status,
			FilledQuantity:    &filled,
			RemainingQuantity: &remaining,
			CompletedAt:       &now,
		})
		return updated, nil, err

	case models.ResolutionMarkRejected:
		status := models.OrderStatusRejected
		updated, err := s.store.UpdateOrder(ctx, order.TenantID, order.OrderID, models.OrderUpdate{
			Status:      &status,
			CompletedAt: &now,
		})
		return updated, nil, err

	case models.ResolutionReconcile:
		updated, err := s.manager.ReconcileOrder(ctx, order.TenantID, order.OrderID)
		return updated, nil, err
	}

	return nil, nil, fmt.Errorf("%w: %q", ErrInvalidResolutionAction, res.Action)
}

// notify рассылает событие эскалации в фоне
//
// Получатели (SNS с ретраями, websocket) не задерживают ответ оператору.
// Контекст отвязан от запроса и ограничен NotifyTimeout; ошибки только логируются.
func (s *StuckOrderService) notify(ctx context.Context, rec models.StuckOrderRecord) {
	event := &models.InterventionEvent{
		ID:                 uuid.NewString(),
		TenantID:           rec.TenantID,
		OrderID:            rec.OrderID,
		ExchangeID:         rec.ExchangeID,
		Status:             rec.Status,
		ResolutionAttempts: rec.ResolutionAttempts,
		LastAction:         rec.LastAction,
		LastError:          rec.LastError,
		StuckSince:         rec.StuckSince,
		OccurredAt:         s.now(),
	}

	s.notifiersMu.RLock()
	notifiers := append([]InterventionNotifier(nil), s.notifiers...)
	s.notifiersMu.RUnlock()
	if len(notifiers) == 0 {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()

		for _, n := range notifiers {
			if err := n.NotifyManualIntervention(notifyCtx, event); err != nil {
				s.logger.Error("intervention notification failed",
					utils.TenantID(rec.TenantID), utils.OrderID(rec.OrderID), zap.String("event_id", event.ID), zap.Error(err))
			}
		}
	}()
}

// WaitNotifications ждет завершения отправленных уведомлений (graceful shutdown)
func (s *StuckOrderService) WaitNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============ Конфигурация и сброс ============

// Config возвращает текущую конфигурацию
func (s *StuckOrderService) Config() models.StuckOrderConfig {
	return s.tracker.Config()
}

// SetConfig применяет частичные изменения; значения не валидируются
func (s *StuckOrderService) SetConfig(patch models.StuckOrderConfigPatch) models.StuckOrderConfig {
	cfg := s.tracker.SetConfig(patch)
	s.logger.Info("stuck order config updated",
		zap.Duration("pending_threshold", cfg.PendingThreshold),
		zap.Duration("open_no_update_threshold", cfg.OpenNoUpdateThreshold),
		zap.Int("max_resolution_attempts", cfg.MaxResolutionAttempts))
	return cfg
}

// ResetConfig восстанавливает значения по умолчанию
func (s *StuckOrderService) ResetConfig() models.StuckOrderConfig {
	cfg := s.tracker.ResetConfig()
	s.logger.Info("stuck order config reset to defaults")
	return cfg
}

// ClearAllStuckOrderTracking очищает трекер, возвращает число удаленных записей
func (s *StuckOrderService) ClearAllStuckOrderTracking() int {
	n := s.tracker.Clear()
	StuckOrdersDetected.Reset()
	s.logger.Info("stuck order tracking cleared", zap.Int("removed", n))
	return n
}
