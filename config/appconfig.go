package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the YAML app-config file viewed as a tree addressed by dotted keys,
// e.g. "identity.allowedEmailDomains". String leaves support ${VAR} substitution.
type AppConfig struct {
	values map[string]interface{}
}

// LoadAppConfig reads the app-config file at path. A missing file yields an empty config.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &AppConfig{values: map[string]interface{}{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := ParseAppConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseAppConfig decodes YAML into an AppConfig
func ParseAppConfig(data []byte) (*AppConfig, error) {
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]interface{}{}
	}
	return &AppConfig{values: values}, nil
}

// Get returns the raw value at key
func (a *AppConfig) Get(key string) (interface{}, bool) {
	if a == nil || key == "" {
		return nil, false
	}
	var node interface{} = a.values
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if node, ok = m[part]; !ok {
			return nil, false
		}
	}
	return node, true
}

// GetString returns the value at key as a string. Lists are joined with commas,
// so a YAML sequence and a comma-separated scalar read the same.
func (a *AppConfig) GetString(key string) string {
	v, ok := a.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := scalarString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return scalarString(val)
	}
}

// GetStringSlice returns the value at key as a list of trimmed, non-empty strings
func (a *AppConfig) GetStringSlice(key string) []string {
	return splitList(a.GetString(key))
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(os.ExpandEnv(val))
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
