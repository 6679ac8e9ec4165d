package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"tradeops/pkg/crypto"
	"tradeops/pkg/utils"
)

// TenantHeader - заголовок с идентификатором тенанта
const TenantHeader = "X-Tenant-ID"

// tenantQueryParam - запасной способ передать тенанта (браузерный WebSocket не ставит заголовки)
const tenantQueryParam = "tenant_id"

type contextKey int

const (
	tenantKey contextKey = iota
	operatorKey
	requestIDKey
)

// AuthConfig - учётные данные оператора
type AuthConfig struct {
	Username     string
	PasswordHash string // bcrypt
}

// Auth - middleware для аутентификации операторов
//
// Проверяет HTTP Basic credentials (пароль сверяется с bcrypt хешем)
// и заголовок X-Tenant-ID. Тенант и оператор кладутся в context запроса.
//
// Ответы:
// - 401 Unauthorized: нет или неверные credentials
// - 400 Bad Request: нет или некорректный тенант
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.Auth(cfg, logger))
func Auth(cfg AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			// constant-time сравнение имени, пароль проверяет bcrypt
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Username)) == 1
			if err := crypto.VerifyPassword(pass, cfg.PasswordHash); err != nil || !userMatch {
				logger.Warn("operator authentication failed",
					utils.Operator(user),
					zap.String("remote_addr", r.RemoteAddr))
				unauthorized(w)
				return
			}

			tenantID := r.Header.Get(TenantHeader)
			if tenantID == "" {
				tenantID = r.URL.Query().Get(tenantQueryParam)
			}
			if err := utils.ValidateTenantID(tenantID); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), tenantKey, tenantID)
			ctx = context.WithValue(ctx, operatorKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="tradeops"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// WithTenant возвращает context с тенантом
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithOperator возвращает context с оператором
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

// TenantFromContext возвращает тенанта аутентифицированного запроса
func TenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// TenantFromRequest - то же для *http.Request
func TenantFromRequest(r *http.Request) string {
	return TenantFromContext(r.Context())
}

// OperatorFromContext возвращает имя аутентифицированного оператора
func OperatorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(operatorKey).(string)
	return v
}

// RequestIDFromContext возвращает ID запроса, выставленный Logging
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
