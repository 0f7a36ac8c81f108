// Package schema is the registry of stage result shapes. Each shape is a Go
// type; its JSON Schema is generated once from the type and used both to
// describe the expected response to the backend and to validate the reply.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const draft = "https://json-schema.org/draft/2020-12/schema"

// Schema is the compiled description of one result shape.
type Schema struct {
	name     string
	text     string
	compiled *jsonschema.Schema
}

// Generate derives a schema from the exported fields of v.
//
// Fields tagged json:",omitempty" are optional; all others are required.
// The schema tag adds constraints: enum=a|b, min=N, max=N, maxItems=N.
// Enum and bounds on a slice field apply to its items.
func Generate(name string, v any) (*Schema, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("schema %s: nil type", name)
	}
	doc, err := describe(t)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	doc["$schema"] = draft
	doc["title"] = name

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("schema %s: encoding: %w", name, err)
	}

	loaded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema %s: reloading: %w", name, err)
	}
	url := "https://promptopt.local/schema/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, loaded); err != nil {
		return nil, fmt.Errorf("schema %s: adding resource: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compiling: %w", name, err)
	}

	return &Schema{name: name, text: string(raw), compiled: compiled}, nil
}

// MustGenerate is Generate for package-level shapes; it panics on error.
func MustGenerate(name string, v any) *Schema {
	s, err := Generate(name, v)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the shape name.
func (s *Schema) Name() string { return s.name }

// Describe returns the JSON Schema text sent to the backend.
func (s *Schema) Describe() string { return s.text }

// Validate checks a JSON object against the schema.
func (s *Schema) Validate(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decoding instance: %w", err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return err
	}
	return nil
}

func describe(t reflect.Type) (map[string]any, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.Slice, reflect.Array:
		items, err := describe(t.Elem())
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "array", "items": items}, nil
	case reflect.Struct:
		props := map[string]any{}
		var required []string
		if err := describeFields(t, props, &required); err != nil {
			return nil, err
		}
		out := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			out["required"] = required
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", t.Kind())
	}
}

func describeFields(t reflect.Type, props map[string]any, required *[]string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if err := describeFields(f.Type, props, required); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		name, optional := jsonName(f)
		if name == "-" {
			continue
		}
		prop, err := describe(f.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if err := constrain(prop, f.Tag.Get("schema")); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		props[name] = prop
		if !optional {
			*required = append(*required, name)
		}
	}
	return nil
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name, false
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = f.Name
	}
	optional := false
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			optional = true
		}
	}
	return name, optional
}

func constrain(prop map[string]any, tag string) error {
	if tag == "" {
		return nil
	}
	target := prop
	if items, ok := prop["items"].(map[string]any); ok {
		target = items
	}
	for _, opt := range strings.Split(tag, ",") {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return fmt.Errorf("malformed schema tag %q", opt)
		}
		switch key {
		case "enum":
			target["enum"] = strings.Split(val, "|")
		case "min", "max":
			n, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("bound %q: %w", opt, err)
			}
			if key == "min" {
				target["minimum"] = n
			} else {
				target["maximum"] = n
			}
		case "maxItems":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("maxItems %q: %w", opt, err)
			}
			prop["maxItems"] = n
		default:
			return fmt.Errorf("unknown schema option %q", key)
		}
	}
	return nil
}
