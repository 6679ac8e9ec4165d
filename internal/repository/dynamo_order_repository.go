package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"tradeops/internal/models"
)

// ErrOrderExists возвращается при повторном создании ордера
var ErrOrderExists = errors.New("order already exists")

// DynamoDBAPI - подмножество клиента DynamoDB, нужное репозиторию
// Позволяет подменять клиент в тестах
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoOrderItem - представление ордера в таблице
// Партиция tenantId, сортировка orderId. Количества хранятся строками
// чтобы не терять точность, время - RFC3339.
type dynamoOrderItem struct {
	TenantID          string `dynamodbav:"tenantId"`
	OrderID           string `dynamodbav:"orderId"`
	ExchangeID        string `dynamodbav:"exchangeId"`
	ExchangeOrderID   string `dynamodbav:"exchangeOrderId,omitempty"`
	Symbol            string `dynamodbav:"symbol"`
	Side              string `dynamodbav:"side"`
	Status            string `dynamodbav:"status"`
	Quantity          string `dynamodbav:"quantity"`
	FilledQuantity    string `dynamodbav:"filledQuantity"`
	RemainingQuantity string `dynamodbav:"remainingQuantity"`
	CreatedAt         string `dynamodbav:"createdAt"`
	UpdatedAt         string `dynamodbav:"updatedAt"`
	CompletedAt       string `dynamodbav:"completedAt,omitempty"`
}

func toDynamoItem(o *models.Order) dynamoOrderItem {
	item := dynamoOrderItem{
		TenantID:          o.TenantID,
		OrderID:           o.OrderID,
		ExchangeID:        o.ExchangeID,
		ExchangeOrderID:   o.ExchangeOrderID,
		Symbol:            o.Symbol,
		Side:              o.Side,
		Status:            string(o.Status),
		Quantity:          o.Quantity.String(),
		FilledQuantity:    o.FilledQuantity.String(),
		RemainingQuantity: o.RemainingQuantity.String(),
		CreatedAt:         formatTime(o.CreatedAt),
		UpdatedAt:         formatTime(o.UpdatedAt),
	}
	if o.CompletedAt != nil {
		item.CompletedAt = formatTime(*o.CompletedAt)
	}
	return item
}

func (i dynamoOrderItem) toOrder() (*models.Order, error) {
	o := &models.Order{
		TenantID:        i.TenantID,
		OrderID:         i.OrderID,
		ExchangeID:      i.ExchangeID,
		ExchangeOrderID: i.ExchangeOrderID,
		Symbol:          i.Symbol,
		Side:            i.Side,
		Status:          models.OrderStatus(i.Status),
	}

	var err error
	if o.Quantity, err = parseDecimal(i.Quantity); err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	if o.FilledQuantity, err = parseDecimal(i.FilledQuantity); err != nil {
		return nil, fmt.Errorf("filledQuantity: %w", err)
	}
	if o.RemainingQuantity, err = parseDecimal(i.RemainingQuantity); err != nil {
		return nil, fmt.Errorf("remainingQuantity: %w", err)
	}
	if o.CreatedAt, err = parseTime(i.CreatedAt); err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	if o.UpdatedAt, err = parseTime(i.UpdatedAt); err != nil {
		return nil, fmt.Errorf("updatedAt: %w", err)
	}
	if i.CompletedAt != "" {
		completed, err := parseTime(i.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("completedAt: %w", err)
		}
		o.CompletedAt = &completed
	}
	return o, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// DynamoOrderRepository - хранилище ордеров в DynamoDB
type DynamoOrderRepository struct {
	client DynamoDBAPI
	table  string
	now    func() time.Time
}

// NewDynamoOrderRepository создает репозиторий поверх таблицы table
func NewDynamoOrderRepository(client DynamoDBAPI, table string) *DynamoOrderRepository {
	return &DynamoOrderRepository{client: client, table: table, now: time.Now}
}

func (r *DynamoOrderRepository) key(tenantID, orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenantId": &types.AttributeValueMemberS{Value: tenantID},
		"orderId":  &types.AttributeValueMemberS{Value: orderID},
	}
}

// Create создает запись об ордере; существующий ордер не перезаписывается
func (r *DynamoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	av, err := attributevalue.MarshalMap(toDynamoItem(order))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(orderId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrOrderExists
		}
		return err
	}
	return nil
}

// GetOrder возвращает ордер тенанта по ID
func (r *DynamoOrderRepository) GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(tenantID, orderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrOrderNotFound
	}

	return unmarshalOrder(out.Item)
}

// GetOrdersByStatus возвращает ордера тенанта в указанных статусах
// Читает партицию тенанта постранично, статус фильтруется на стороне DynamoDB.
func (r *DynamoOrderRepository) GetOrdersByStatus(ctx context.Context, tenantID string, statuses []models.OrderStatus) ([]*models.Order, error) {
	orders := make([]*models.Order, 0)
	if len(statuses) == 0 {
		return orders, nil
	}

	values := map[string]types.AttributeValue{
		":tenant": &types.AttributeValueMemberS{Value: tenantID},
	}
	placeholders := make([]string, len(statuses))
	for i, s := range statuses {
		name := fmt.Sprintf(":s%d", i)
		placeholders[i] = name
		values[name] = &types.AttributeValueMemberS{Value: string(s)}
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		KeyConditionExpression:    aws.String("tenantId = :tenant"),
		FilterExpression:          aws.String("#status IN (" + strings.Join(placeholders, ", ") + ")"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			order, err := unmarshalOrder(item)
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}
	}

	return orders, nil
}

// UpdateOrder применяет частичное обновление условно (ордер должен существовать)
func (r *DynamoOrderRepository) UpdateOrder(ctx context.Context, tenantID, orderID string, upd models.OrderUpdate) (*models.Order, error) {
	sets := []string{"updatedAt = :updatedAt"}
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updatedAt": &types.AttributeValueMemberS{Value: formatTime(r.now())},
	}

	if upd.Status != nil {
		sets = append(sets, "#status = :status")
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(*upd.Status)}
	}
	if upd.ExchangeOrderID != nil {
		sets = append(sets, "exchangeOrderId = :exchangeOrderId")
		values[":exchangeOrderId"] = &types.AttributeValueMemberS{Value: *upd.ExchangeOrderID}
	}
	if upd.FilledQuantity != nil {
		sets = append(sets, "filledQuantity = :filled")
		values[":filled"] = &types.AttributeValueMemberS{Value: upd.FilledQuantity.String()}
	}
	if upd.RemainingQuantity != nil {
		sets = append(sets, "remainingQuantity = :remaining")
		values[":remaining"] = &types.AttributeValueMemberS{Value: upd.RemainingQuantity.String()}
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completedAt = :completedAt")
		values[":completedAt"] = &types.AttributeValueMemberS{Value: formatTime(*upd.CompletedAt)}
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       r.key(tenantID, orderID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(orderId)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	out, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return unmarshalOrder(out.Attributes)
}

func unmarshalOrder(av map[string]types.AttributeValue) (*models.Order, error) {
	var item dynamoOrderItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return item.toOrder()
}
