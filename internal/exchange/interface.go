package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradeops/internal/models"
)

// ErrRemoteOrderNotFound - биржа не знает ордер
var ErrRemoteOrderNotFound = errors.New("order not found on exchange")

// Adapter - минимальный набор операций биржи, нужный для разрешения зависших ордеров
type Adapter interface {
	// Name возвращает идентификатор биржи (совпадает с Order.ExchangeID)
	Name() string

	// CancelOrder отменяет ордер на бирже
	CancelOrder(ctx context.Context, req *CancelRequest) (*CancelResult, error)

	// GetOrder запрашивает фактическое состояние ордера
	GetOrder(ctx context.Context, query *OrderQuery) (*RemoteOrder, error)

	// Close освобождает ресурсы адаптера
	Close() error
}

// CancelRequest - запрос на отмену
// Достаточно одного из ExchangeOrderID / ClientOrderID.
// Для PENDING ордеров биржевой ID часто еще неизвестен.
type CancelRequest struct {
	Symbol          string
	ExchangeOrderID string
	ClientOrderID   string
}

// CancelResult - ответ биржи на отмену
type CancelResult struct {
	ExchangeOrderID string
	ClientOrderID   string
	CancelledAt     time.Time
}

// OrderQuery - запрос состояния ордера
type OrderQuery struct {
	Symbol          string
	ExchangeOrderID string
	ClientOrderID   string
}

// RemoteOrder - состояние ордера по данным биржи
type RemoteOrder struct {
	ExchangeOrderID   string
	ClientOrderID     string
	Status            models.OrderStatus
	Quantity          decimal.Decimal
	FilledQuantity    decimal.Decimal
	RemainingQuantity decimal.Decimal
	UpdatedAt         time.Time
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": " + e.Message + " (code " + e.Code + ")"
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}
