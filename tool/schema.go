package tool

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Strict normalizes a JSON Schema document into the strict dialect most
// providers require for tool inputs: every object in the tree gets
// additionalProperties:false, every property becomes required (optionality
// is expressed via nullable types rather than omission, since some
// providers reject schemas with optional fields), and no default keys
// remain anywhere in the tree.
func Strict(raw json.RawMessage) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	strictenNode(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal strict schema: %w", err)
	}
	return out, nil
}

func strictenNode(node any) {
	switch v := node.(type) {
	case map[string]any:
		delete(v, "default")
		if t, _ := v["type"].(string); t == "object" {
			v["additionalProperties"] = false
			if props, ok := v["properties"].(map[string]any); ok {
				names := make([]string, 0, len(props))
				for name := range props {
					names = append(names, name)
				}
				sort.Strings(names)
				v["required"] = toAnySlice(names)
			}
		}
		for _, child := range v {
			strictenNode(child)
		}
	case []any:
		for _, child := range v {
			strictenNode(child)
		}
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// SchemaOf derives a strict JSON Schema document for T via reflection over
// its exported fields. Field names get their first letter lower-cased; a `json` struct tag
// overrides the derived name. Pointer and slice-of-pointer fields are
// treated as nullable rather than optional, per the Strict contract above.
func SchemaOf[T any]() (json.RawMessage, error) {
	var zero T
	t := reflect.TypeOf(zero)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tool.SchemaOf: %T is not a struct", zero)
	}
	props := map[string]any{}
	var required []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		} else {
			name = strings.ToLower(name[:1]) + name[1:]
		}
		props[name] = fieldSchema(f.Type)
		required = append(required, name)
	}
	sort.Strings(required)
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             toAnySlice(required),
		"additionalProperties": false,
	}
	return json.Marshal(doc)
}

func fieldSchema(t reflect.Type) map[string]any {
	switch t.Kind() {
	case reflect.Ptr:
		inner := fieldSchema(t.Elem())
		return map[string]any{"anyOf": []any{inner, map[string]any{"type": "null"}}}
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": fieldSchema(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object", "additionalProperties": fieldSchema(t.Elem())}
	case reflect.Struct:
		props := map[string]any{}
		var required []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := strings.ToLower(f.Name[:1]) + f.Name[1:]
			if tag, ok := f.Tag.Lookup("json"); ok && tag != "" {
				name = strings.Split(tag, ",")[0]
			}
			props[name] = fieldSchema(f.Type)
			required = append(required, name)
		}
		sort.Strings(required)
		return map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             toAnySlice(required),
			"additionalProperties": false,
		}
	default:
		return map[string]any{}
	}
}
