package cellular

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/golobby/cast"
)

// Property is a single timestamped value in a unit's property map.
type Property struct {
	// Value is the stored value. Values are arbitrary; metric keys
	// conventionally hold numbers.
	Value any `json:"value"`

	// UpdatedAt records when the value was last written. Every successful set
	// refreshes the timestamp, including writes of an identical value.
	UpdatedAt time.Time `json:"updatedAt"`
}

// PropertyStore owns a unit's free-form dynamic properties. It is safe for
// concurrent use; reads return defensive copies and never expose the internal
// map by reference. Concurrent writes to the same key apply in
// last-writer-wins order under the store lock.
type PropertyStore struct {
	mu    sync.RWMutex
	props map[string]Property
}

// NewPropertyStore creates an empty property store.
func NewPropertyStore() *PropertyStore {
	return &PropertyStore{props: make(map[string]Property)}
}

// Set stores a value under key and records the write time. Setting a nil
// value removes the key, equivalent to Remove.
func (p *PropertyStore) Set(key string, value any) error {
	if key == "" {
		return ErrPropertyKeyEmpty
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if value == nil {
		delete(p.props, key)
		return nil
	}

	p.props[key] = Property{Value: value, UpdatedAt: time.Now()}
	return nil
}

// Remove deletes the key. Removing an absent key is a no-op.
func (p *PropertyStore) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.props, key)
}

// Get returns the value stored under key, or (nil, false) when absent.
func (p *PropertyStore) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prop, ok := p.props[key]
	if !ok {
		return nil, false
	}
	return prop.Value, true
}

// GetOrDefault returns the value stored under key, or def when absent.
func (p *PropertyStore) GetOrDefault(key string, def any) any {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// UpdatedAt returns when key was last written, or (zero, false) when absent.
func (p *PropertyStore) UpdatedAt(key string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prop, ok := p.props[key]
	if !ok {
		return time.Time{}, false
	}
	return prop.UpdatedAt, true
}

// GetString returns the value under key converted to a string.
func (p *PropertyStore) GetString(key string) (string, error) {
	v, ok := p.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// GetInt returns the value under key converted to an int.
func (p *PropertyStore) GetInt(key string) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(0))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPropertyCast, key, err)
	}
	n, ok := converted.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPropertyCast, key)
	}
	return n, nil
}

// GetFloat returns the value under key converted to a float64. Metric keys
// read by the health monitor go through this accessor.
func (p *PropertyStore) GetFloat(key string) (float64, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(float64(0)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPropertyCast, key, err)
	}
	f, ok := converted.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPropertyCast, key)
	}
	return f, nil
}

// GetBool returns the value under key converted to a bool.
func (p *PropertyStore) GetBool(key string) (bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	converted, err := cast.FromType(fmt.Sprintf("%v", v), reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrPropertyCast, key, err)
	}
	b, ok := converted.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPropertyCast, key)
	}
	return b, nil
}

// All returns a snapshot copy of every property. Mutating the returned map
// does not affect the store.
func (p *PropertyStore) All() map[string]Property {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Property, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out
}

// Keys returns the property keys in sorted order.
func (p *PropertyStore) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.props))
	for k := range p.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored properties.
func (p *PropertyStore) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.props)
}

// Restore bulk-populates the store from a persisted snapshot, preserving the
// recorded timestamps. Existing contents are replaced.
func (p *PropertyStore) Restore(props map[string]Property) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.props = make(map[string]Property, len(props))
	for k, v := range props {
		p.props[k] = v
	}
}
