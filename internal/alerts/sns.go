package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tradeops/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventTypeManualIntervention - значение атрибута eventType в сообщениях SNS
const EventTypeManualIntervention = "manual_intervention_required"

var (
	ErrNilClient      = errors.New("sns client is required")
	ErrEmptyTopicARN  = errors.New("sns topic ARN is required")
	ErrNotifierClosed = errors.New("sns notifier is closed")
	ErrNilEvent       = errors.New("intervention event is nil")
)

// SNSPublisher - часть клиента SNS, нужная нотификатору
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config параметры публикации
type Config struct {
	TopicARN       string
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ConfigDefaults возвращает конфигурацию с разумными значениями по умолчанию
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// SNSNotifier публикует события эскалации в топик SNS
type SNSNotifier struct {
	client SNSPublisher
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSNSNotifier создаёт нотификатор. Незаданные параметры ретраев берутся из ConfigDefaults.
func NewSNSNotifier(client SNSPublisher, cfg Config, logger *zap.Logger) (*SNSNotifier, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg.TopicARN == "" {
		return nil, ErrEmptyTopicARN
	}

	defaults := ConfigDefaults()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SNSNotifier{
		client: client,
		config: cfg,
		logger: logger.Named("sns_notifier"),
	}, nil
}

// NotifyManualIntervention публикует событие. Ошибки клиента повторяются с экспоненциальной задержкой.
func (n *SNSNotifier) NotifyManualIntervention(ctx context.Context, event *models.InterventionEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return ErrNotifierClosed
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal intervention event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.config.TopicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String("Manual intervention required"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType":  stringAttribute(EventTypeManualIntervention),
			"tenantId":   stringAttribute(event.TenantID),
			"exchangeId": stringAttribute(event.ExchangeID),
		},
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.config.InitialBackoff
	bo.MaxInterval = n.config.MaxBackoff

	out, err := backoff.Retry(ctx, func() (*sns.PublishOutput, error) {
		return n.client.Publish(ctx, input)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(n.config.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.logger.Warn("sns publish failed, retrying",
				zap.String("tenant_id", event.TenantID),
				zap.String("order_id", event.OrderID),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("publish intervention event %s: %w", event.ID, err)
	}

	var messageID string
	if out != nil {
		messageID = aws.ToString(out.MessageId)
	}
	n.logger.Debug("intervention event published",
		zap.String("event_id", event.ID),
		zap.String("message_id", messageID))
	return nil
}

// Close запрещает дальнейшие публикации
func (n *SNSNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	if v == "" {
		v = "-"
	}
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
