package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"tradeops/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

const orderColumns = `tenant_id, order_id, exchange_id, exchange_order_id, symbol, side, status,
	quantity, filled_quantity, remaining_quantity, created_at, updated_at, completed_at`

// OrderRepository - работа с таблицей orders (Postgres)
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

// rowScanner - общий интерфейс для *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var exchangeOrderID sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(
		&order.TenantID,
		&order.OrderID,
		&order.ExchangeID,
		&exchangeOrderID,
		&order.Symbol,
		&order.Side,
		&order.Status,
		&order.Quantity,
		&order.FilledQuantity,
		&order.RemainingQuantity,
		&order.CreatedAt,
		&order.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	order.ExchangeOrderID = exchangeOrderID.String
	if completedAt.Valid {
		t := completedAt.Time
		order.CompletedAt = &t
	}
	return order, nil
}

// Create создает запись об ордере
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		order.TenantID,
		order.OrderID,
		order.ExchangeID,
		nullString(order.ExchangeOrderID),
		order.Symbol,
		order.Side,
		order.Status,
		order.Quantity,
		order.FilledQuantity,
		order.RemainingQuantity,
		order.CreatedAt,
		order.UpdatedAt,
		order.CompletedAt,
	)
	return err
}

// GetOrder возвращает ордер тенанта по ID
func (r *OrderRepository) GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND order_id = $2`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, tenantID, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetOrdersByStatus возвращает ордера тенанта в указанных статусах
func (r *OrderRepository) GetOrdersByStatus(ctx context.Context, tenantID string, statuses []models.OrderStatus) ([]*models.Order, error) {
	if len(statuses) == 0 {
		return []*models.Order{}, nil
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1 AND status = ANY($2)
		ORDER BY updated_at ASC`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateOrder применяет частичное обновление и возвращает новое состояние
// updated_at обновляется всегда
func (r *OrderRepository) UpdateOrder(ctx context.Context, tenantID, orderID string, upd models.OrderUpdate) (*models.Order, error) {
	query := `
		UPDATE orders SET
			status = COALESCE($3, status),
			exchange_order_id = COALESCE($4, exchange_order_id),
			filled_quantity = COALESCE($5, filled_quantity),
			remaining_quantity = COALESCE($6, remaining_quantity),
			completed_at = COALESCE($7, completed_at),
			updated_at = $8
		WHERE tenant_id = $1 AND order_id = $2
		RETURNING ` + orderColumns

	var status, exchangeOrderID sql.NullString
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	if upd.ExchangeOrderID != nil {
		exchangeOrderID = sql.NullString{String: *upd.ExchangeOrderID, Valid: true}
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, query,
		tenantID,
		orderID,
		status,
		exchangeOrderID,
		nullDecimal(upd.FilledQuantity),
		nullDecimal(upd.RemainingQuantity),
		upd.CompletedAt,
		r.now(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
