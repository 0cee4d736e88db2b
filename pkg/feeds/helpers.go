package feeds

import (
	"fmt"
	"math/big"
	"time"

	"github.com/StrathCole/feedguard/pkg/logging"
)

// LoggerKey is the config key under which callers pass a *logging.Logger to factories.
const LoggerKey = "logger"

// GetLoggerFromConfig extracts logger from config map or returns a noop logger.
func GetLoggerFromConfig(config map[string]interface{}) *logging.Logger {
	if loggerInterface, ok := config[LoggerKey]; ok {
		if logger, ok := loggerInterface.(*logging.Logger); ok && logger != nil {
			return logger
		}
	}
	return logging.NewNoopLogger()
}

// RequireString returns a non-empty string value or an error naming the key.
func RequireString(config map[string]interface{}, key string) (string, error) {
	raw, ok := config[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidConfig, key, raw)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return s, nil
}

// GetString retrieves a string value, or defaultValue when absent.
func GetString(config map[string]interface{}, key, defaultValue string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return defaultValue
}

// GetInt retrieves an integer. YAML yields int, JSON yields float64.
func GetInt(config map[string]interface{}, key string, defaultValue int) (int, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return defaultValue, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidConfig, key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidConfig, key, raw)
	}
}

// GetDuration accepts a Go duration string ("5s") or a number of seconds.
func GetDuration(config map[string]interface{}, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return defaultValue, nil
	}
	if s, ok := raw.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		return d, nil
	}
	secs, err := GetInt(config, key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// GetBigInt accepts a base-10 string or an integer.
func GetBigInt(config map[string]interface{}, key string) (*big.Int, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	if s, ok := raw.(string); ok {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an integer: %q", ErrInvalidConfig, key, s)
		}
		return v, nil
	}
	i, err := GetInt(config, key, 0)
	if err != nil {
		return nil, err
	}
	return big.NewInt(int64(i)), nil
}

// GetDecimals reads a token decimals value in [0, 77].
func GetDecimals(config map[string]interface{}, key string, defaultValue uint8) (uint8, error) {
	d, err := GetInt(config, key, int(defaultValue))
	if err != nil {
		return 0, err
	}
	if d < 0 || d > 77 {
		return 0, fmt.Errorf("%w: %s must be between 0 and 77, got %d", ErrInvalidConfig, key, d)
	}
	return uint8(d), nil // #nosec G115 -- bounds checked above
}
