package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// durationKeys are the fields that hold duration or schedule strings. A bare
// YAML number there almost always means a forgotten unit.
var durationKeys = map[string]bool{
	"precision_check": true,
	"busy_timeout":    true,
	"default_timeout": true,
	"max_queue_delay": true,
	"timeout":         true,
	"at":              true,
	"every":           true,
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML config as JSON so both formats go through the
// same strict decoder. Errors name the offending entry, e.g. tasks[2].timeout.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	v, err := normalizeYAML("", "", v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func normalizeYAML(path, key string, in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			n, err := normalizeYAML(joinPath(path, k), k, v)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	case map[any]any:
		for k := range x {
			if _, ok := k.(string); !ok {
				return nil, fmt.Errorf("%s: key %v must be a string", orRoot(path), k)
			}
		}
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k.(string)] = v
		}
		return normalizeYAML(path, key, m)
	case []any:
		for i := range x {
			n, err := normalizeYAML(fmt.Sprintf("%s[%d]", path, i), "", x[i])
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	case int, int64, uint64, float64:
		if durationKeys[key] {
			return nil, fmt.Errorf("%s: %v has no unit (write it like \"%vs\")", path, x, x)
		}
		return x, nil
	default:
		return in, nil
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "config"
	}
	return path
}
