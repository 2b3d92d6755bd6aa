package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Keys whose values never leave the process unmasked. Matched on the last
// path segment so provider entries and channel credentials share one list.
var secretKeys = map[string]bool{
	"apiKey":      true,
	"token":       true,
	"botToken":    true,
	"appToken":    true,
	"secret":      true,
	"accessToken": true,
	"appSecret":   true,
	"password":    true,
}

// tree is the generic JSON view of cfg that the dotted-path helpers walk.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromTree(m map[string]any, cfg *Config) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// GetByPath returns the value at a dotted path such as "agent.companyName"
// or "general.failoverChain.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("config key %q not set", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("config key %q: bad index %q", path, key)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("config key %q: %q is not an object", path, key)
		}
	}
	return cur, nil
}

// SetByPath writes value at a dotted path. String values are coerced to
// bool or number when they parse as one. Paths the Config type does not
// carry are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	keys := strings.Split(path, ".")
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	node := m
	for _, key := range keys[:len(keys)-1] {
		switch next := node[key].(type) {
		case map[string]any:
			node = next
		case nil:
			child := map[string]any{}
			node[key] = child
			node = child
		default:
			return fmt.Errorf("config key %q: %q is not an object", path, key)
		}
	}
	leaf := keys[len(keys)-1]
	coerced := coerce(value)
	node[leaf] = coerced

	var updated Config
	if err := fromTree(m, &updated); err != nil {
		// "123456" for a string field: keep the raw value.
		raw, isString := value.(string)
		if !isString || coerced == any(raw) {
			return fmt.Errorf("config key %q: %w", path, err)
		}
		coerced = value
		node[leaf] = value
		updated = Config{}
		if err := fromTree(m, &updated); err != nil {
			return fmt.Errorf("config key %q: %w", path, err)
		}
	}
	// The decoder drops keys the struct does not declare, and omitempty
	// drops zero values on the way back out.
	got, err := GetByPath(&updated, path)
	if err != nil && !isZero(coerced) || err == nil && !sameValue(got, coerced) {
		return fmt.Errorf("unknown config key %q", path)
	}
	*cfg = updated
	return nil
}

func isZero(v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case bool:
		return !x
	case int64:
		return x == 0
	case float64:
		return x == 0
	}
	return v == nil
}

func sameValue(got, want any) bool {
	switch w := want.(type) {
	case int64:
		f, ok := got.(float64)
		return ok && f == float64(w)
	case map[string]any, []any:
		return got != nil
	default:
		return fmt.Sprint(got) == fmt.Sprint(want)
	}
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with credentials masked. Passwords are
// hidden entirely; tokens keep their first and last four characters.
func Sanitize(cfg *Config) *Config {
	m, err := tree(cfg)
	if err != nil {
		return cfg
	}
	maskSecrets(m)
	var out Config
	if err := fromTree(m, &out); err != nil {
		return cfg
	}
	return &out
}

func maskSecrets(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			maskSecrets(val)
		case string:
			if !secretKeys[k] || val == "" {
				continue
			}
			if k == "password" {
				m[k] = "***"
			} else {
				m[k] = mask(val)
			}
		}
	}
}

func mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dotted path → value pairs.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(p, child)
				continue
			}
			out[p] = v
		}
	}
	walk("", m)
	return out
}
