package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
)

// Ошибки валидации
var (
	ErrEmptyValue   = errors.New("value is empty")
	ErrInvalidValue = errors.New("value has invalid format")
)

// идентификаторы тенантов и ордеров: буквы, цифры, '-', '_', '.', ':'
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

func validateIdentifier(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", kind, ErrEmptyValue)
	}
	if !identifierRe.MatchString(value) {
		return fmt.Errorf("%s %q: %w", kind, value, ErrInvalidValue)
	}
	return nil
}

// ValidateTenantID проверяет идентификатор тенанта
func ValidateTenantID(id string) error {
	return validateIdentifier("tenant id", id)
}

// ValidateOrderID проверяет идентификатор ордера
func ValidateOrderID(id string) error {
	return validateIdentifier("order id", id)
}

// ValidatePositiveDuration проверяет, что длительность > 0
func ValidatePositiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s: %w", name, d, ErrInvalidValue)
	}
	return nil
}

// maxDurationMillis - наибольшее число миллисекунд, представимое в time.Duration
const maxDurationMillis = int64(math.MaxInt64 / int64(time.Millisecond))

// PositiveDurationFromMillis переводит миллисекунды в положительную длительность
// Значение проверяется до умножения, чтобы большие числа не переполнялись.
func PositiveDurationFromMillis(name string, ms int64) (time.Duration, error) {
	if ms > maxDurationMillis {
		return 0, fmt.Errorf("%s must be <= %d, got %d: %w", name, maxDurationMillis, ms, ErrInvalidValue)
	}
	d := time.Duration(ms) * time.Millisecond
	if err := ValidatePositiveDuration(name, d); err != nil {
		return 0, err
	}
	return d, nil
}

// ValidateMinInt проверяет, что значение не меньше min
func ValidateMinInt(name string, value, min int) error {
	if value < min {
		return fmt.Errorf("%s must be >= %d, got %d: %w", name, min, value, ErrInvalidValue)
	}
	return nil
}
