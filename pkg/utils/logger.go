package utils

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal (default: info)
	Format      string // json, text (default: json)
	Output      string // путь к файлу; пусто = stderr
	Development bool
}

// Logger - обертка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
}

// InitLogger создает логгер по конфигурации
// Ошибка открытия файла не фатальна: пишем в stderr
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	l := zap.New(core, opts...)
	return &Logger{Logger: l}
}

// parseLevel переводит строку уровня в zapcore.Level (default: info)
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============ Методы Logger ============

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithComponent - дочерний логгер компонента
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// ============ Доменные поля ============

func TenantID(id string) zap.Field        { return zap.String("tenant_id", id) }
func OrderID(id string) zap.Field         { return zap.String("order_id", id) }
func ExchangeOrderID(id string) zap.Field { return zap.String("exchange_order_id", id) }
func Exchange(name string) zap.Field      { return zap.String("exchange", name) }
func Status(status string) zap.Field      { return zap.String("status", status) }
func Action(action string) zap.Field      { return zap.String("action", action) }
func Attempts(n int) zap.Field            { return zap.Int("resolution_attempts", n) }
func Operator(name string) zap.Field      { return zap.String("operator", name) }
func RequestID(id string) zap.Field       { return zap.String("request_id", id) }
func Component(name string) zap.Field     { return zap.String("component", name) }
func Latency(d time.Duration) zap.Field   { return zap.Float64("latency_ms", float64(d.Microseconds())/1000) }
