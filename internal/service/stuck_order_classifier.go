package service

import (
	"time"

	"tradeops/internal/models"
)

// IsStuck решает, завис ли ордер
//
// Терминальные ордера не зависают независимо от возраста.
// PENDING сравнивается с PendingThreshold, остальные нетерминальные
// статусы (OPEN, PARTIALLY_FILLED) - с OpenNoUpdateThreshold.
// Граница включительная: возраст == порог считается зависанием.
func IsStuck(order *models.Order, now time.Time, cfg models.StuckOrderConfig) bool {
	if order == nil || order.Status.IsTerminal() {
		return false
	}

	threshold := cfg.OpenNoUpdateThreshold
	if order.Status == models.OrderStatusPending {
		threshold = cfg.PendingThreshold
	}

	return order.Age(now) >= threshold
}
