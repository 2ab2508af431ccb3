package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// EnvName returns the environment variable consulted for key: PREFIX_KEY, or
// KEY when prefix is empty, upper-cased.
func EnvName(prefix, key string) string {
	if prefix == "" {
		return strings.ToUpper(key)
	}
	return strings.ToUpper(prefix + "_" + key)
}

// Coerce converts a raw environment value. The literals "true" and "false"
// become booleans, finite numbers become float64, valid JSON is decoded and
// anything else is returned verbatim.
func Coerce(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}

	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, pair := range environ {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

// overlayEnv writes environment derived values into doc. With allowExtra and
// a prefix every PREFIX_* variable is applied, introducing new keys; otherwise
// only keys already present in doc are looked up.
func overlayEnv(doc map[string]any, environ []string, prefix string, allowExtra bool) []string {
	env := environMap(environ)
	var applied []string

	if allowExtra && prefix != "" {
		p := strings.ToUpper(prefix) + "_"
		for name, raw := range env {
			if !strings.HasPrefix(name, p) {
				continue
			}
			key := strings.ToLower(strings.TrimPrefix(name, p))
			if key == "" {
				continue
			}
			doc[key] = Coerce(raw)
			applied = append(applied, key)
		}
		return applied
	}

	for key := range doc {
		raw, ok := env[EnvName(prefix, key)]
		if !ok || raw == "" {
			continue
		}
		doc[key] = Coerce(raw)
		applied = append(applied, key)
	}
	return applied
}
