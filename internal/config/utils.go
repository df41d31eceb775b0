package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed settings and remembers every value it could not parse,
// so a typo fails startup instead of silently falling back to the default.
type envReader struct {
	invalid []string
}

func (e *envReader) reject(key, value, kind string) {
	e.invalid = append(e.invalid, fmt.Sprintf("%s=%q (want %s)", key, value, kind))
}

func (e *envReader) err() error {
	if len(e.invalid) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(e.invalid, ", "))
}

func (e *envReader) str(key, defaultVal string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultVal
}

func (e *envReader) integer(key string, defaultVal int) int {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		e.reject(key, value, "integer")
		return defaultVal
	}
	return v
}

func (e *envReader) boolean(key string, defaultVal bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		e.reject(key, value, "boolean")
		return defaultVal
	}
	return v
}

func (e *envReader) number(key string, defaultVal float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		e.reject(key, value, "number")
		return defaultVal
	}
	return v
}

func (e *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		e.reject(key, value, "duration")
		return defaultVal
	}
	return d
}

func (e *envReader) list(key string, defaults []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		parts := strings.Split(value, ",")
		filtered := make([]string, 0, len(parts))
		for _, part := range parts {
			p := strings.TrimSpace(part)
			if p != "" {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			return filtered
		}
	}
	return defaults
}
