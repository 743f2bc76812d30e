// Package config provides configuration loading and parsing for tankwatch.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first of keys present in settings. Viper lowercases
// file keys, so each key is also tried in lower case.
func lookupSetting(settings map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	if value == nil {
		return "", nil
	}
	if s, ok := value.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return 0, nil
		}
		value = s
	}
	return cast.ToIntE(value)
}

func asFloat64(value interface{}) (float64, error) {
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return 0, nil
		}
		value = s
	}
	return cast.ToFloat64E(value)
}

func asBool(value interface{}) (bool, error) {
	s, ok := value.(string)
	if !ok {
		return cast.ToBoolE(value)
	}
	if s = strings.TrimSpace(s); s == "" {
		return false, nil
	}
	return cast.ToBoolE(s)
}

// asDuration accepts Go duration strings ("3s", "500ms"). Bare numbers in a
// config file are seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		if secs, err := cast.ToFloat64E(v); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(v)
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("unsupported duration type %T", value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}
	for key := range m {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
	}
	return m, nil
}

// asStringSlice accepts a list or a comma separated string.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return cast.ToStringSliceE(v)
	}
}

// toStringKeyMap returns a nested config section with lowercased keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	out := make(map[string]interface{}, len(m))
	for key, val := range m {
		out[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return out, nil
}
