package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matt-riley/flagkit/internal/core"
)

// ParseFunc turns a definition document into definitions by key.
type ParseFunc func(data []byte) (map[string]core.Definition, error)

// Format names a definition document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the document format from a file extension. Anything
// other than .yaml or .yml is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParserFor returns the parser for format.
func ParserFor(format Format) ParseFunc {
	if format == FormatYAML {
		return ParseYAML
	}
	return ParseJSON
}

// ParseJSON parses a JSON definition document. The document is either an
// object mapping flag keys to definition bodies or an array of bodies that
// carry their own "key". A blank document yields no definitions.
func ParseJSON(data []byte) (map[string]core.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]core.Definition{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedDocument)
	}

	return decodeDocument(doc), nil
}

// ParseYAML parses a YAML definition document with the same shape as
// [ParseJSON].
func ParseYAML(data []byte) (map[string]core.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]core.Definition{}, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	return decodeDocument(doc), nil
}

func decodeDocument(doc any) map[string]core.Definition {
	definitions := make(map[string]core.Definition)

	switch doc := doc.(type) {
	case map[string]any:
		for mapKey, raw := range doc {
			body, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			key := mapKey
			if bodyKey, ok := body["key"].(string); ok && strings.TrimSpace(bodyKey) != "" {
				key = bodyKey
			}
			if def, err := decodeBody(key, body); err == nil {
				definitions[key] = def
			}
		}
	case []any:
		for _, raw := range doc {
			body, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			key, ok := body["key"].(string)
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			if def, err := decodeBody(key, body); err == nil {
				definitions[key] = def
			}
		}
	}

	return definitions
}

// decodeBody builds a definition from a decoded body. Fields of the wrong
// type fall back to their defaults.
func decodeBody(key string, body map[string]any, extra ...core.DefinitionOption) (core.Definition, error) {
	var opts []core.DefinitionOption

	if enabled, ok := body["enabled"].(bool); ok {
		opts = append(opts, core.Enabled(enabled))
	}
	if percent, ok := intValue(body["rolloutPercent"]); ok {
		opts = append(opts, core.Rollout(percent))
	}
	if variant, ok := body["defaultVariant"].(string); ok {
		opts = append(opts, core.DefaultVariant(variant))
	}
	if targeting, ok := body["targeting"].(map[string]any); ok {
		opts = append(opts, core.WithTargeting(decodeTargeting(targeting)))
	}
	if variants, ok := body["variants"].([]any); ok {
		for _, raw := range variants {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := entry["name"].(string)
			weight, ok := intValue(entry["weight"])
			if strings.TrimSpace(name) == "" || !ok || weight <= 0 {
				continue
			}
			opts = append(opts, core.WithVariant(name, weight))
		}
	}

	return core.NewDefinition(key, append(opts, extra...)...)
}

func decodeTargeting(raw map[string]any) core.Targeting {
	opts := []core.TargetingOption{
		core.AllowUsers(stringList(raw["allowUserIds"])...),
		core.DenyUsers(stringList(raw["denyUserIds"])...),
		core.AllowGroups(stringList(raw["allowGroups"])...),
		core.DenyGroups(stringList(raw["denyGroups"])...),
	}
	if attrs, ok := raw["requireAttrsIn"].(map[string]any); ok {
		for name, values := range attrs {
			opts = append(opts, core.RequireAttribute(name, stringList(values)...))
		}
	}
	return core.NewTargeting(opts...)
}

func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// intValue accepts numbers from either decoder that fit in 32 bits.
// Fractions truncate toward zero, so 10.5 reads as 10.
func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int32Value(n)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return truncatedValue(f)
	case int:
		return int32Value(int64(v))
	case int64:
		return int32Value(v)
	case uint64:
		if v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case float64:
		return truncatedValue(v)
	default:
		return 0, false
	}
}

func int32Value(n int64) (int, bool) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func truncatedValue(f float64) (int, bool) {
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(math.Trunc(f)), true
}
