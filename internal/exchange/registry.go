package exchange

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Ошибки реестра адаптеров
var (
	ErrAdapterNotFound = errors.New("exchange adapter not found")
	ErrAdapterExists   = errors.New("exchange adapter already registered")
)

// Registry хранит адаптеры бирж по имени
// Отсутствие адаптера - нормальная ветка, а не паника.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register добавляет адаптер
func (r *Registry) Register(adapter Adapter) error {
	name := normalizeName(adapter.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("%w: %s", ErrAdapterExists, name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get возвращает адаптер по имени биржи
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[normalizeName(name)]
	return adapter, ok
}

// Lookup - как Get, но с ErrAdapterNotFound
func (r *Registry) Lookup(name string) (Adapter, error) {
	adapter, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}
	return adapter, nil
}

// Names возвращает отсортированный список зарегистрированных бирж
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close закрывает все адаптеры и очищает реестр
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, adapter := range r.adapters {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	r.adapters = make(map[string]Adapter)
	return errors.Join(errs...)
}
