package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeops/internal/exchange"
	"tradeops/internal/models"
	"tradeops/internal/repository"
)

func TestOrderManager_GetAdapter(t *testing.T) {
	env := newTestEnv(true)

	if _, ok := env.manager.GetAdapter("bybit"); !ok {
		t.Error("bybit adapter should be registered")
	}
	if _, ok := env.manager.GetAdapter("okx"); ok {
		t.Error("okx adapter should be absent")
	}
}

func TestOrderManager_CancelOrder(t *testing.T) {
	tests := []struct {
		name        string
		status      models.OrderStatus
		exchangeID  string
		withAdapter bool
		wantErr     error
		wantCalls   int
	}{
		{"open order", models.OrderStatusOpen, "ex-1", true, nil, 1},
		{"already cancelled is idempotent", models.OrderStatusCancelled, "ex-1", true, nil, 0},
		{"filled cannot be cancelled", models.OrderStatusFilled, "ex-1", true, ErrOrderNotCancellable, 0},
		{"no adapter", models.OrderStatusOpen, "ex-1", false, exchange.ErrAdapterNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(tt.withAdapter)
			order := newTestOrder("t1", "o1", tt.status, time.Hour)
			order.ExchangeOrderID = tt.exchangeID
			env.store.Put(order)

			ack, err := env.manager.CancelOrder(context.Background(), "t1", "o1")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ack.Status != models.OrderStatusCancelled || ack.ExchangeOrderID != tt.exchangeID {
					t.Errorf("unexpected ack: %+v", ack)
				}
				if env.store.Snapshot("t1", "o1").Status != models.OrderStatusCancelled {
					t.Error("store status должен быть CANCELLED")
				}
			}

			if len(env.adapter.cancelCalls) != tt.wantCalls {
				t.Errorf("cancel calls = %d, want %d", len(env.adapter.cancelCalls), tt.wantCalls)
			}
		})
	}
}

func TestOrderManager_CancelOrder_StoreErrors(t *testing.T) {
	env := newTestEnv(true)

	if _, err := env.manager.CancelOrder(context.Background(), "t1", "missing"); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	env.store.Put(newTestOrder("t1", "o1", models.OrderStatusOpen, time.Hour))
	env.store.updateErr = errors.New("write failed")
	if _, err := env.manager.CancelOrder(context.Background(), "t1", "o1"); err == nil {
		t.Error("ошибка записи должна возвращаться")
	}
}

func TestOrderManager_ReconcileOrder(t *testing.T) {
	env := newTestEnv(true)
	env.store.Put(newTestOrder("t1", "o1", models.OrderStatusPending, time.Hour))
	env.adapter.remote = &exchange.RemoteOrder{
		ExchangeOrderID: "ex-9",
		Status:          models.OrderStatusPartiallyFilled,
		FilledQuantity:  decimal.RequireFromString("0.2"),
		UpdatedAt:       testNow,
	}

	updated, err := env.manager.ReconcileOrder(context.Background(), "t1", "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.Status != models.OrderStatusPartiallyFilled {
		t.Errorf("status = %s", updated.Status)
	}
	if updated.ExchangeOrderID != "ex-9" {
		t.Errorf("exchange_order_id = %s", updated.ExchangeOrderID)
	}
	if !updated.RemainingQuantity.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("remaining = %s, want 0.3", updated.RemainingQuantity)
	}
	if updated.CompletedAt != nil {
		t.Error("нетерминальный ордер не должен получать completed_at")
	}
	if !updated.IsConsistent() {
		t.Error("ордер должен быть согласован после сверки")
	}
}

func TestOrderManager_ReconcileOrder_RemoteNotFound(t *testing.T) {
	env := newTestEnv(true)
	env.store.Put(newTestOrder("t1", "o1", models.OrderStatusPending, time.Hour))

	_, err := env.manager.ReconcileOrder(context.Background(), "t1", "o1")

	var exErr *exchange.ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExchangeError, got %v", err)
	}
	if !errors.Is(err, exchange.ErrRemoteOrderNotFound) {
		t.Error("ошибка должна разворачиваться в ErrRemoteOrderNotFound")
	}
	if env.store.updates != 0 {
		t.Error("хранилище не должно обновляться при ошибке биржи")
	}
}

func TestReconcileUpdate_ClampsRemaining(t *testing.T) {
	order := newTestOrder("t1", "o1", models.OrderStatusOpen, time.Hour)
	remote := &exchange.RemoteOrder{
		Status:         models.OrderStatusFilled,
		FilledQuantity: decimal.RequireFromString("0.7"), // больше количества ордера
		UpdatedAt:      testNow,
	}

	upd := reconcileUpdate(order, remote)
	if !upd.RemainingQuantity.IsZero() {
		t.Errorf("remaining = %s, want 0", upd.RemainingQuantity)
	}
	if upd.CompletedAt == nil {
		t.Error("терминальный статус должен выставлять completed_at")
	}
	if upd.ExchangeOrderID != nil {
		t.Error("пустой биржевой ID не должен перезаписывать запись")
	}
}
