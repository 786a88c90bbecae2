package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree is the JSON object form of a Config, addressed by dot paths such as
// "server.port" or "extraction.allowedDomains.0".
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByPath returns the value at path. Array elements are addressed by index.
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = t
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case tree:
			next, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid array index %q in %s", key, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("%s: %q is not an object or array", path, key)
		}
	}
	return cur, nil
}

// SetByPath assigns value at path. A string value is converted to the type
// the field already holds; a comma-separated string replaces a list. Unknown
// keys are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	keys := strings.Split(path, ".")
	parent := t
	for _, key := range keys[:len(keys)-1] {
		child, ok := parent[key].(tree)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		parent = child
	}

	// Optional fields are absent from the tree while empty; strict decoding
	// below still rejects misspelled keys.
	last := keys[len(keys)-1]
	parent[last] = coerce(parent[last], value)

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// coerce converts a command-line string into the JSON type of old. Values
// that do not parse are kept as strings and rejected when decoded.
func coerce(old, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch old.(type) {
	case []any:
		out := []any{}
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case bool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case float64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	masked.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	masked.Extraction.AllowedDomains = append([]string(nil), cfg.Extraction.AllowedDomains...)
	for _, s := range []*string{&masked.Server.APIKey, &masked.Upstream.APIKey, &masked.Client.APIKey} {
		if *s != "" {
			*s = maskString(*s)
		}
	}
	return &masked
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
