package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки проверки пароля оператора
var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match hash")
	ErrInvalidHash      = errors.New("invalid password hash format")
	ErrPasswordTooLong  = errors.New("password exceeds maximum length of 72 bytes")
	ErrWeakHash         = errors.New("password hash cost is too low")
)

// DefaultCost - стоимость для новых хешей оператора (sealsecret -hashpw)
const DefaultCost = 12

// MinOperatorCost - минимальная стоимость OPERATOR_PASSWORD_HASH по умолчанию
const MinOperatorCost = bcrypt.DefaultCost

// MaxPasswordLength - ограничение bcrypt
const MaxPasswordLength = 72

// HashPassword хеширует пароль оператора с DefaultCost
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultCost)
}

// HashPasswordWithCost хеширует пароль; cost приводится к [bcrypt.MinCost, bcrypt.MaxCost]
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	cost = min(max(cost, bcrypt.MinCost), bcrypt.MaxCost)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword сравнивает пароль с хешем за постоянное время
func VerifyPassword(password, hash string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return ErrInvalidHash
	}
}

// GetHashCost извлекает cost из bcrypt-хеша
func GetHashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}

// NeedsRehash - true, если хеш нечитаем или его cost ниже minCost
func NeedsRehash(hash string, minCost int) bool {
	cost, err := GetHashCost(hash)
	return err != nil || cost < minCost
}

// CheckOperatorHash проверяет, что хеш читается и не слабее minCost.
func CheckOperatorHash(hash string, minCost int) error {
	cost, err := GetHashCost(hash)
	if err != nil {
		return err
	}
	if NeedsRehash(hash, minCost) {
		return fmt.Errorf("%w: cost %d, minimum %d", ErrWeakHash, cost, minCost)
	}
	return nil
}
