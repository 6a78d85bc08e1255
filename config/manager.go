package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Manager is a flat key/value overlay. Keys are lower case and dotted
// ("log.level"); nested JSON objects and underscored environment names
// are flattened into that form.
type Manager struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		values: make(map[string]any),
	}
}

// Set sets a configuration value
func (m *Manager) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Get gets a configuration value
func (m *Manager) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, exists := m.values[key]
	return value, exists
}

// GetString gets a string configuration value
func (m *Manager) GetString(key string, defaultValue string) string {
	if value, exists := m.Get(key); exists {
		if str, ok := value.(string); ok {
			return str
		}
		return fmt.Sprint(value)
	}
	return defaultValue
}

// LoadFromEnv loads PREFIX_* environment variables; PREFIX_LOG_LEVEL
// becomes "log.level"
func (m *Manager) LoadFromEnv(prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if prefix != "" {
			rest, found := strings.CutPrefix(key, prefix+"_")
			if !found {
				continue
			}
			key = rest
		}
		key = strings.ReplaceAll(strings.ToLower(key), "_", ".")
		m.Set(key, value)
	}
}

// LoadFromJSON loads configuration from a JSON file
func (m *Manager) LoadFromJSON(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}

	m.loadFromMap("", values)
	return nil
}

// loadFromMap recursively flattens nested objects into dotted keys
func (m *Manager) loadFromMap(prefix string, values map[string]any) {
	for key, value := range values {
		fullKey := strings.ToLower(key)
		if prefix != "" {
			fullKey = prefix + "." + fullKey
		}

		if nested, ok := value.(map[string]any); ok {
			m.loadFromMap(fullKey, nested)
		} else {
			m.Set(fullKey, value)
		}
	}
}

// Unmarshal copies the values into the fields of the struct target points
// to. A field's key is its `config` tag, or its lower-cased name; "-" skips it.
func (m *Manager) Unmarshal(prefix string, target any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Pointer || targetValue.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct, got %T", target)
	}
	targetValue = targetValue.Elem()
	targetType := targetValue.Type()

	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		fieldValue := targetValue.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		configKey := field.Tag.Get("config")
		if configKey == "-" {
			continue
		}
		if configKey == "" {
			configKey = strings.ToLower(field.Name)
		}
		if prefix != "" {
			configKey = prefix + "." + configKey
		}

		value, exists := m.values[configKey]
		if !exists {
			continue
		}
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("config %q: %w", configKey, err)
		}
	}
	return nil
}

// setFieldValue converts value to the kind of field
func setFieldValue(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.String:
		if str, ok := value.(string); ok {
			field.SetString(str)
		} else {
			field.SetString(fmt.Sprint(value))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt(value)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := toBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	default:
		valueReflect := reflect.ValueOf(value)
		if !valueReflect.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("cannot convert %v to %v", valueReflect.Type(), field.Type())
		}
		field.Set(valueReflect.Convert(field.Type()))
	}
	return nil
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", v)
		}
		return i, nil
	}
	return 0, fmt.Errorf("not an integer: %T", value)
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "on":
			return true, nil
		case "false", "no", "0", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	}
	return false, fmt.Errorf("not a boolean: %T", value)
}

// GetAll returns a copy of all configuration values
func (m *Manager) GetAll() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]any, len(m.values))
	for k, v := range m.values {
		result[k] = v
	}
	return result
}
